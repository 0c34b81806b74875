package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/annotor/internal/common"
	"github.com/ternarybob/annotor/internal/interfaces"
	"github.com/ternarybob/annotor/internal/models"
)

// EngineStorage runs the serve/submit/bind hot paths in single transactions.
// Every read the engine bases a decision on (counts, rankings, in-flight
// lookups) happens on the same snapshot as the write it leads to.
type EngineStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewEngineStorage creates a new engine storage instance
func NewEngineStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.EngineStorage {
	return &EngineStorage{
		db:     db,
		logger: logger,
	}
}

// WithTx runs fn inside one transaction, committing on nil error
func (s *EngineStorage) WithTx(ctx context.Context, fn func(tx interfaces.EngineTx) error) error {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&engineTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn().Err(rbErr).Msg("Transaction rollback failed")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// engineTx binds the engine primitives to one *sql.Tx
type engineTx struct {
	tx *sql.Tx
}

func (t *engineTx) GetJob(id int64) (*models.CodingJob, error) {
	row := t.tx.QueryRow("SELECT "+jobColumns+" FROM codingjobs WHERE id = ?", id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, common.NotFoundf("coding job %d", id)
	}
	return job, err
}

func (t *engineTx) ListJobSets(jobID int64) ([]*models.JobSet, error) {
	rows, err := t.tx.Query("SELECT "+jobsetColumns+" FROM jobsets WHERE codingjob_id = ? ORDER BY id", jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobsets: %w", err)
	}
	defer rows.Close()

	var jobsets []*models.JobSet
	for rows.Next() {
		jobset, err := scanJobSet(rows)
		if err != nil {
			return nil, err
		}
		jobsets = append(jobsets, jobset)
	}
	return jobsets, rows.Err()
}

func (t *engineTx) GetJobUser(userID, jobID int64) (*models.JobUser, error) {
	row := t.tx.QueryRow("SELECT "+jobUserColumns+" FROM job_users WHERE user_id = ? AND codingjob_id = ?",
		userID, jobID)
	jobUser, err := scanJobUser(row)
	if err == sql.ErrNoRows {
		return nil, common.NotFoundf("job user")
	}
	return jobUser, err
}

func (t *engineTx) InsertJobUser(jobUser *models.JobUser) error {
	if jobUser.Status == "" {
		jobUser.Status = models.JobUserActive
	}
	var jobsetID sql.NullInt64
	if jobUser.JobSetID != nil {
		jobsetID = sql.NullInt64{Valid: true, Int64: *jobUser.JobSetID}
	}
	result, err := t.tx.Exec(`
		INSERT INTO job_users (user_id, codingjob_id, jobset_id, can_code, can_edit, damage, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		jobUser.UserID, jobUser.CodingJobID, jobsetID,
		boolToInt(jobUser.CanCode), boolToInt(jobUser.CanEdit), jobUser.Damage, string(jobUser.Status),
	)
	if err != nil {
		if isUniqueConstraint(err) {
			return common.Conflictf("job user already exists")
		}
		return fmt.Errorf("failed to insert job user: %w", err)
	}
	jobUser.ID, err = result.LastInsertId()
	return err
}

func (t *engineTx) BindJobUserJobSet(jobUserID, jobsetID int64) error {
	_, err := t.tx.Exec("UPDATE job_users SET jobset_id = ? WHERE id = ?", jobsetID, jobUserID)
	if err != nil {
		return fmt.Errorf("failed to bind jobset: %w", err)
	}
	return nil
}

func (t *engineTx) CountJobUsers(jobID int64) (int, error) {
	var count int
	err := t.tx.QueryRow("SELECT COUNT(*) FROM job_users WHERE codingjob_id = ?", jobID).Scan(&count)
	return count, err
}

func (t *engineTx) UpdateJobUserDamage(jobUserID int64, damage float64) error {
	_, err := t.tx.Exec("UPDATE job_users SET damage = ? WHERE id = ?", damage, jobUserID)
	if err != nil {
		return fmt.Errorf("failed to update job user damage: %w", err)
	}
	return nil
}

func (t *engineTx) GetUnit(unitID int64) (*models.Unit, error) {
	row := t.tx.QueryRow("SELECT "+unitColumns+" FROM units WHERE id = ?", unitID)
	unit, err := scanUnit(row)
	if err == sql.ErrNoRows {
		return nil, common.NotFoundf("unit %d", unitID)
	}
	return unit, err
}

func (t *engineTx) GetFixedIndexUnit(jobsetID int64, fixedIndex int) (*models.Unit, error) {
	row := t.tx.QueryRow(`
		SELECT u.id, u.codingjob_id, u.external_id, u.content, u.conditionals, u.unit_type, u.position
		FROM jobset_units jsu JOIN units u ON u.id = jsu.unit_id
		WHERE jsu.jobset_id = ? AND jsu.fixed_index = ?`, jobsetID, fixedIndex)
	unit, err := scanUnit(row)
	if err == sql.ErrNoRows {
		return nil, common.NotFoundf("fixed index unit")
	}
	return unit, err
}

// ListMiddleUnitIDs returns the non-positional units of a jobset in upload
// order; the fixedset strategy permutes this slice per coder.
func (t *engineTx) ListMiddleUnitIDs(jobsetID int64) ([]int64, error) {
	rows, err := t.tx.Query(`
		SELECT unit_id FROM jobset_units
		WHERE jobset_id = ? AND fixed_index IS NULL
		ORDER BY id`, jobsetID)
	if err != nil {
		return nil, fmt.Errorf("failed to list middle units: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (t *engineTx) CountFixedBefore(jobsetID int64) (int, error) {
	var count int
	err := t.tx.QueryRow(`
		SELECT COUNT(*) FROM jobset_units
		WHERE jobset_id = ? AND fixed_index >= 0`, jobsetID).Scan(&count)
	return count, err
}

func (t *engineTx) CountJobSetUnits(jobsetID int64) (int, error) {
	var count int
	err := t.tx.QueryRow("SELECT COUNT(*) FROM jobset_units WHERE jobset_id = ?", jobsetID).Scan(&count)
	return count, err
}

func (t *engineTx) CountActiveJobSetUnits(jobsetID int64) (int, error) {
	var count int
	err := t.tx.QueryRow(`
		SELECT COUNT(*) FROM jobset_units
		WHERE jobset_id = ? AND blocked = 0`, jobsetID).Scan(&count)
	return count, err
}

// LeastCodedUnit picks the unblocked unit with the fewest annotations that
// this coder has not touched yet. Ties break on upload order so that early
// units fill up first.
func (t *engineTx) LeastCodedUnit(jobsetID, coderID int64) (*models.Unit, error) {
	row := t.tx.QueryRow(`
		SELECT u.id, u.codingjob_id, u.external_id, u.content, u.conditionals, u.unit_type, u.position
		FROM jobset_units jsu
		JOIN units u ON u.id = jsu.unit_id
		LEFT JOIN annotations a ON a.unit_id = jsu.unit_id AND a.jobset_id = jsu.jobset_id
		WHERE jsu.jobset_id = ? AND jsu.blocked = 0
			AND NOT EXISTS (
				SELECT 1 FROM annotations mine
				WHERE mine.unit_id = jsu.unit_id AND mine.coder_id = ?
			)
		GROUP BY jsu.id
		ORDER BY COUNT(a.id) ASC, jsu.id ASC
		LIMIT 1`, jobsetID, coderID)
	unit, err := scanUnit(row)
	if err == sql.ErrNoRows {
		return nil, common.NotFoundf("no unit available")
	}
	return unit, err
}

func (t *engineTx) GetAnnotation(unitID, coderID int64) (*models.Annotation, error) {
	row := t.tx.QueryRow("SELECT "+annotationColumns+" FROM annotations WHERE unit_id = ? AND coder_id = ?",
		unitID, coderID)
	annotation, err := scanAnnotation(row)
	if err == sql.ErrNoRows {
		return nil, common.NotFoundf("annotation")
	}
	return annotation, err
}

// GetInFlightAnnotation returns the coder's IN_PROGRESS or RETRY annotation
// in this jobset, if any. The unique (unit_id, coder_id) index plus the
// serve flow guarantee at most one exists.
func (t *engineTx) GetInFlightAnnotation(jobsetID, coderID int64) (*models.Annotation, error) {
	row := t.tx.QueryRow(`
		SELECT `+annotationColumns+` FROM annotations
		WHERE jobset_id = ? AND coder_id = ? AND status IN ('IN_PROGRESS', 'RETRY')
		ORDER BY unit_index LIMIT 1`, jobsetID, coderID)
	annotation, err := scanAnnotation(row)
	if err == sql.ErrNoRows {
		return nil, common.NotFoundf("in-flight annotation")
	}
	return annotation, err
}

func (t *engineTx) GetAnnotationByIndex(jobsetID, coderID int64, unitIndex int) (*models.Annotation, error) {
	row := t.tx.QueryRow(`
		SELECT `+annotationColumns+` FROM annotations
		WHERE jobset_id = ? AND coder_id = ? AND unit_index = ?`, jobsetID, coderID, unitIndex)
	annotation, err := scanAnnotation(row)
	if err == sql.ErrNoRows {
		return nil, common.NotFoundf("annotation at index %d", unitIndex)
	}
	return annotation, err
}

func (t *engineTx) CountStarted(jobsetID, coderID int64) (int, error) {
	var count int
	err := t.tx.QueryRow(`
		SELECT COUNT(*) FROM annotations
		WHERE jobset_id = ? AND coder_id = ?`, jobsetID, coderID).Scan(&count)
	return count, err
}

// CountCoded counts finished annotations; RETRY still counts as coded for
// progress purposes since the coder has answered
func (t *engineTx) CountCoded(jobsetID, coderID int64) (int, error) {
	var count int
	err := t.tx.QueryRow(`
		SELECT COUNT(*) FROM annotations
		WHERE jobset_id = ? AND coder_id = ? AND status != 'IN_PROGRESS'`, jobsetID, coderID).Scan(&count)
	return count, err
}

func (t *engineTx) InsertAnnotation(annotation *models.Annotation) error {
	payload, err := encodeAnnotationPayload(annotation.Annotation)
	if err != nil {
		return err
	}
	report, err := encodeReport(annotation.Report)
	if err != nil {
		return err
	}
	if annotation.Modified.IsZero() {
		annotation.Modified = time.Now()
	}

	result, err := t.tx.Exec(`
		INSERT INTO annotations (codingjob_id, unit_id, coder_id, jobset_id, unit_index, status, modified, annotation, damage, report)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		annotation.CodingJobID, annotation.UnitID, annotation.CoderID, annotation.JobSetID,
		annotation.UnitIndex, string(annotation.Status), annotation.Modified.Unix(),
		payload, annotation.Damage, report,
	)
	if err != nil {
		if isUniqueConstraint(err) {
			return common.Conflictf("annotation for unit %d already exists", annotation.UnitID)
		}
		return fmt.Errorf("failed to insert annotation: %w", err)
	}
	annotation.ID, err = result.LastInsertId()
	return err
}

func (t *engineTx) UpdateAnnotation(annotation *models.Annotation) error {
	payload, err := encodeAnnotationPayload(annotation.Annotation)
	if err != nil {
		return err
	}
	report, err := encodeReport(annotation.Report)
	if err != nil {
		return err
	}
	annotation.Modified = time.Now()

	_, err = t.tx.Exec(`
		UPDATE annotations SET status = ?, modified = ?, annotation = ?, damage = ?, report = ?
		WHERE id = ?`,
		string(annotation.Status), annotation.Modified.Unix(), payload,
		annotation.Damage, report, annotation.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update annotation: %w", err)
	}
	return nil
}

func (t *engineTx) SumDamage(jobsetID, coderID int64) (float64, error) {
	var total float64
	err := t.tx.QueryRow(`
		SELECT COALESCE(SUM(damage), 0) FROM annotations
		WHERE jobset_id = ? AND coder_id = ?`, jobsetID, coderID).Scan(&total)
	return total, err
}

func (t *engineTx) LastModified(jobsetID, coderID int64) (*time.Time, error) {
	var modified sql.NullInt64
	err := t.tx.QueryRow(`
		SELECT MAX(modified) FROM annotations
		WHERE jobset_id = ? AND coder_id = ?`, jobsetID, coderID).Scan(&modified)
	if err != nil {
		return nil, err
	}
	if !modified.Valid {
		return nil, nil
	}
	ts := time.Unix(modified.Int64, 0)
	return &ts, nil
}
