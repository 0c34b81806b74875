package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/annotor/internal/models"
)

const jobColumns = "id, title, creator_id, restricted, archived, created_at"

func scanJob(row rowScanner) (*models.CodingJob, error) {
	var (
		job        models.CodingJob
		restricted int
		archived   int
		created    int64
	)
	if err := row.Scan(&job.ID, &job.Title, &job.CreatorID, &restricted, &archived, &created); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan coding job: %w", err)
	}
	job.Restricted = restricted != 0
	job.Archived = archived != 0
	job.Created = time.Unix(created, 0)
	return &job, nil
}

const jobsetColumns = "id, codingjob_id, name, codebook, rules, debriefing"

func scanJobSet(row rowScanner) (*models.JobSet, error) {
	var (
		jobset     models.JobSet
		codebook   string
		rules      string
		debriefing sql.NullString
	)
	if err := row.Scan(&jobset.ID, &jobset.CodingJobID, &jobset.Name, &codebook, &rules, &debriefing); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan jobset: %w", err)
	}
	jobset.Codebook = json.RawMessage(codebook)
	if err := json.Unmarshal([]byte(rules), &jobset.Rules); err != nil {
		return nil, fmt.Errorf("failed to decode jobset rules: %w", err)
	}
	if debriefing.Valid {
		jobset.Debriefing = json.RawMessage(debriefing.String)
	}
	return &jobset, nil
}

const unitColumns = "id, codingjob_id, external_id, content, conditionals, unit_type, position"

func scanUnit(row rowScanner) (*models.Unit, error) {
	var (
		unit         models.Unit
		content      sql.NullString
		conditionals sql.NullString
		unitType     string
		position     string
	)
	if err := row.Scan(&unit.ID, &unit.CodingJobID, &unit.ExternalID, &content, &conditionals, &unitType, &position); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan unit: %w", err)
	}
	if content.Valid {
		unit.Content = json.RawMessage(content.String)
	}
	if conditionals.Valid && conditionals.String != "" {
		if err := json.Unmarshal([]byte(conditionals.String), &unit.Conditionals); err != nil {
			return nil, fmt.Errorf("failed to decode unit conditionals: %w", err)
		}
	}
	unit.UnitType = models.UnitType(unitType)
	unit.Position = models.Position(position)
	return &unit, nil
}

const jobUserColumns = "id, user_id, codingjob_id, jobset_id, can_code, can_edit, damage, status"

func scanJobUser(row rowScanner) (*models.JobUser, error) {
	var (
		jobUser  models.JobUser
		jobsetID sql.NullInt64
		canCode  int
		canEdit  int
		status   string
	)
	if err := row.Scan(&jobUser.ID, &jobUser.UserID, &jobUser.CodingJobID, &jobsetID,
		&canCode, &canEdit, &jobUser.Damage, &status); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan job user: %w", err)
	}
	if jobsetID.Valid {
		jobUser.JobSetID = &jobsetID.Int64
	}
	jobUser.CanCode = canCode != 0
	jobUser.CanEdit = canEdit != 0
	jobUser.Status = models.JobUserStatus(status)
	return &jobUser, nil
}

const annotationColumns = "id, codingjob_id, unit_id, coder_id, jobset_id, unit_index, status, modified, annotation, damage, report"

func scanAnnotation(row rowScanner) (*models.Annotation, error) {
	var (
		annotation models.Annotation
		status     string
		modified   int64
		payload    string
		report     sql.NullString
	)
	if err := row.Scan(&annotation.ID, &annotation.CodingJobID, &annotation.UnitID,
		&annotation.CoderID, &annotation.JobSetID, &annotation.UnitIndex,
		&status, &modified, &payload, &annotation.Damage, &report); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan annotation: %w", err)
	}
	annotation.Status = models.AnnotationStatus(status)
	annotation.Modified = time.Unix(modified, 0)
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &annotation.Annotation); err != nil {
			return nil, fmt.Errorf("failed to decode annotation payload: %w", err)
		}
	}
	if report.Valid && report.String != "" {
		annotation.Report = &models.Report{}
		if err := json.Unmarshal([]byte(report.String), annotation.Report); err != nil {
			return nil, fmt.Errorf("failed to decode annotation report: %w", err)
		}
	}
	return &annotation, nil
}

func encodeAnnotationPayload(values []models.AnnotationValue) (string, error) {
	if values == nil {
		values = []models.AnnotationValue{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("failed to encode annotation payload: %w", err)
	}
	return string(data), nil
}

func encodeReport(report *models.Report) (sql.NullString, error) {
	if report == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(report)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode report: %w", err)
	}
	return sql.NullString{Valid: true, String: string(data)}, nil
}
