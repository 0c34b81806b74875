package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/annotor/internal/common"
	"github.com/ternarybob/annotor/internal/interfaces"
	"github.com/ternarybob/annotor/internal/models"
)

// AnnotationStorage implements SQLite reads for annotations outside the
// engine transaction (exports, progress views)
type AnnotationStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewAnnotationStorage creates a new annotation storage instance
func NewAnnotationStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.AnnotationStorage {
	return &AnnotationStorage{
		db:     db,
		logger: logger,
	}
}

// GetAnnotation retrieves the annotation a coder made on a unit
func (s *AnnotationStorage) GetAnnotation(ctx context.Context, unitID, coderID int64) (*models.Annotation, error) {
	row := s.db.db.QueryRowContext(ctx,
		"SELECT "+annotationColumns+" FROM annotations WHERE unit_id = ? AND coder_id = ?", unitID, coderID)
	annotation, err := scanAnnotation(row)
	if err == sql.ErrNoRows {
		return nil, common.NotFoundf("annotation")
	}
	return annotation, err
}

// ListJobAnnotations exports every annotation of a job keyed by external ids
func (s *AnnotationStorage) ListJobAnnotations(ctx context.Context, jobID int64) ([]*models.ExportedAnnotation, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT js.name, u.external_id, usr.name, a.annotation, a.status
		FROM annotations a
		JOIN jobsets js ON js.id = a.jobset_id
		JOIN units u ON u.id = a.unit_id
		JOIN users usr ON usr.id = a.coder_id
		WHERE a.codingjob_id = ?
		ORDER BY a.id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to export annotations: %w", err)
	}
	defer rows.Close()

	var exported []*models.ExportedAnnotation
	for rows.Next() {
		var (
			row     models.ExportedAnnotation
			payload string
			status  string
		)
		if err := rows.Scan(&row.JobSet, &row.UnitID, &row.Coder, &payload, &status); err != nil {
			return nil, fmt.Errorf("failed to scan exported annotation: %w", err)
		}
		if payload != "" {
			if err := json.Unmarshal([]byte(payload), &row.Annotation); err != nil {
				return nil, fmt.Errorf("failed to decode annotation payload: %w", err)
			}
		}
		row.Status = models.AnnotationStatus(status)
		exported = append(exported, &row)
	}
	return exported, rows.Err()
}

// SumDamage totals the damage a coder accumulated in a jobset
func (s *AnnotationStorage) SumDamage(ctx context.Context, jobsetID, coderID int64) (float64, error) {
	var total float64
	err := s.db.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(damage), 0) FROM annotations
		WHERE jobset_id = ? AND coder_id = ?`, jobsetID, coderID).Scan(&total)
	return total, err
}
