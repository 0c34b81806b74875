package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/annotor/internal/common"
	"github.com/ternarybob/annotor/internal/interfaces"
	"github.com/ternarybob/annotor/internal/models"
)

// CodingJobStorage implements SQLite storage for jobs, jobsets and coders
type CodingJobStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewCodingJobStorage creates a new coding job storage instance
func NewCodingJobStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.CodingJobStorage {
	return &CodingJobStorage{
		db:     db,
		logger: logger,
	}
}

// CreateJob persists the job with all units, jobsets and memberships in one
// transaction; any failure rolls the whole creation back
func (s *CodingJobStorage) CreateJob(ctx context.Context, job *models.CodingJob, units []*models.Unit,
	jobsets []*models.JobSet, memberships map[string][]*models.JobSetUnit) error {

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if job.Created.IsZero() {
		job.Created = time.Now()
	}

	result, err := tx.Exec(`
		INSERT INTO codingjobs (title, creator_id, restricted, archived, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		job.Title, job.CreatorID, boolToInt(job.Restricted), boolToInt(job.Archived), job.Created.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create coding job: %w", err)
	}
	if job.ID, err = result.LastInsertId(); err != nil {
		return err
	}

	unitIDs := make(map[int64]int64, len(units))
	for i, unit := range units {
		unit.CodingJobID = job.ID

		var conditionals sql.NullString
		if len(unit.Conditionals) > 0 {
			data, err := json.Marshal(unit.Conditionals)
			if err != nil {
				return fmt.Errorf("failed to encode conditionals for unit %s: %w", unit.ExternalID, err)
			}
			conditionals = sql.NullString{Valid: true, String: string(data)}
		}

		result, err := tx.Exec(`
			INSERT INTO units (codingjob_id, external_id, content, conditionals, unit_type, position)
			VALUES (?, ?, ?, ?, ?, ?)`,
			job.ID, unit.ExternalID, nullString(string(unit.Content)), conditionals,
			string(unit.UnitType), string(unit.Position),
		)
		if err != nil {
			if isUniqueConstraint(err) {
				return common.BadRequestf("duplicate unit id %s", unit.ExternalID)
			}
			return fmt.Errorf("failed to create unit %s: %w", unit.ExternalID, err)
		}
		if unit.ID, err = result.LastInsertId(); err != nil {
			return err
		}
		// memberships reference units by upload position
		unitIDs[int64(i)] = unit.ID
	}

	for _, jobset := range jobsets {
		jobset.CodingJobID = job.ID

		rules, err := json.Marshal(jobset.Rules)
		if err != nil {
			return fmt.Errorf("failed to encode rules for jobset %s: %w", jobset.Name, err)
		}
		var debriefing sql.NullString
		if len(jobset.Debriefing) > 0 {
			debriefing = sql.NullString{Valid: true, String: string(jobset.Debriefing)}
		}

		result, err := tx.Exec(`
			INSERT INTO jobsets (codingjob_id, name, codebook, rules, debriefing)
			VALUES (?, ?, ?, ?, ?)`,
			job.ID, jobset.Name, string(jobset.Codebook), string(rules), debriefing,
		)
		if err != nil {
			if isUniqueConstraint(err) {
				return common.BadRequestf("duplicate jobset name %s", jobset.Name)
			}
			return fmt.Errorf("failed to create jobset %s: %w", jobset.Name, err)
		}
		if jobset.ID, err = result.LastInsertId(); err != nil {
			return err
		}

		for _, membership := range memberships[jobset.Name] {
			membership.JobSetID = jobset.ID
			if id, ok := unitIDs[membership.UnitID]; ok {
				membership.UnitID = id
			}

			var fixedIndex sql.NullInt64
			if membership.FixedIndex != nil {
				fixedIndex = sql.NullInt64{Valid: true, Int64: int64(*membership.FixedIndex)}
			}

			result, err := tx.Exec(`
				INSERT INTO jobset_units (jobset_id, unit_id, fixed_index, has_conditionals, blocked)
				VALUES (?, ?, ?, ?, ?)`,
				jobset.ID, membership.UnitID, fixedIndex,
				boolToInt(membership.HasConditionals), boolToInt(membership.Blocked),
			)
			if err != nil {
				if isUniqueConstraint(err) {
					return common.BadRequestf("duplicate unit in jobset %s", jobset.Name)
				}
				return fmt.Errorf("failed to add unit to jobset %s: %w", jobset.Name, err)
			}
			if membership.ID, err = result.LastInsertId(); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit job creation: %w", err)
	}

	s.logger.Info().
		Int64("job_id", job.ID).
		Str("title", job.Title).
		Int("units", len(units)).
		Int("jobsets", len(jobsets)).
		Msg("Coding job created")
	return nil
}

// GetJob retrieves a coding job by ID
func (s *CodingJobStorage) GetJob(ctx context.Context, id int64) (*models.CodingJob, error) {
	row := s.db.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM codingjobs WHERE id = ?", id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, common.NotFoundf("coding job %d", id)
	}
	return job, err
}

// ListJobs lists all coding jobs, newest first
func (s *CodingJobStorage) ListJobs(ctx context.Context) ([]*models.CodingJob, error) {
	rows, err := s.db.db.QueryContext(ctx, "SELECT "+jobColumns+" FROM codingjobs ORDER BY id DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to list coding jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// ListJobsForCoder lists the unarchived jobs a coder can work on. Admins see
// everything; a restricted-job guest sees only their job; everyone else sees
// unrestricted jobs plus jobs they have been added to.
func (s *CodingJobStorage) ListJobsForCoder(ctx context.Context, coder *models.User) ([]*models.CodingJob, error) {
	var (
		query string
		args  []interface{}
	)
	switch {
	case coder.IsAdmin:
		query = "SELECT " + jobColumns + " FROM codingjobs WHERE archived = 0 ORDER BY id DESC"
	case coder.RestrictedJob != nil:
		query = "SELECT " + jobColumns + " FROM codingjobs WHERE id = ? AND archived = 0"
		args = append(args, *coder.RestrictedJob)
	default:
		query = `
			SELECT ` + jobColumns + ` FROM codingjobs
			WHERE archived = 0 AND (restricted = 0 OR id IN (
				SELECT codingjob_id FROM job_users WHERE user_id = ? AND can_code = 1
			))
			ORDER BY id DESC`
		args = append(args, coder.ID)
	}

	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list coder jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

func collectJobs(rows *sql.Rows) ([]*models.CodingJob, error) {
	var jobs []*models.CodingJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// SetJobSettings updates the restricted/archived flags; nil leaves a flag as is
func (s *CodingJobStorage) SetJobSettings(ctx context.Context, id int64, restricted, archived *bool) (*models.CodingJob, error) {
	if restricted != nil {
		if _, err := s.db.db.ExecContext(ctx,
			"UPDATE codingjobs SET restricted = ? WHERE id = ?", boolToInt(*restricted), id); err != nil {
			return nil, fmt.Errorf("failed to update restricted flag: %w", err)
		}
	}
	if archived != nil {
		if _, err := s.db.db.ExecContext(ctx,
			"UPDATE codingjobs SET archived = ? WHERE id = ?", boolToInt(*archived), id); err != nil {
			return nil, fmt.Errorf("failed to update archived flag: %w", err)
		}
	}
	return s.GetJob(ctx, id)
}

// ListJobSets lists a job's jobsets in creation order
func (s *CodingJobStorage) ListJobSets(ctx context.Context, jobID int64) ([]*models.JobSet, error) {
	rows, err := s.db.db.QueryContext(ctx,
		"SELECT "+jobsetColumns+" FROM jobsets WHERE codingjob_id = ? ORDER BY id", jobID)
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

// GetJobSet retrieves a jobset by ID
func (s *CodingJobStorage) GetJobSet(ctx context.Context, id int64) (*models.JobSet, error) {
	row := s.db.db.QueryRowContext(ctx, "SELECT "+jobsetColumns+" FROM jobsets WHERE id = ?", id)
	jobset, err := scanJobSet(row)
	if err == sql.ErrNoRows {
		return nil, common.NotFoundf("jobset %d", id)
	}
	return jobset, err
}

// CountJobSetUnits counts the units in a jobset
func (s *CodingJobStorage) CountJobSetUnits(ctx context.Context, jobsetID int64) (int, error) {
	var count int
	err := s.db.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM jobset_units WHERE jobset_id = ?", jobsetID).Scan(&count)
	return count, err
}

// GetJobUser retrieves a coder's binding on a job
func (s *CodingJobStorage) GetJobUser(ctx context.Context, userID, jobID int64) (*models.JobUser, error) {
	row := s.db.db.QueryRowContext(ctx,
		"SELECT "+jobUserColumns+" FROM job_users WHERE user_id = ? AND codingjob_id = ?", userID, jobID)
	jobUser, err := scanJobUser(row)
	if err == sql.ErrNoRows {
		return nil, common.NotFoundf("job user")
	}
	return jobUser, err
}

// UpsertJobUser inserts or updates a coder's binding on a job. The jobset
// binding is never overwritten once set.
func (s *CodingJobStorage) UpsertJobUser(ctx context.Context, jobUser *models.JobUser) error {
	if jobUser.Status == "" {
		jobUser.Status = models.JobUserActive
	}
	var jobsetID sql.NullInt64
	if jobUser.JobSetID != nil {
		jobsetID = sql.NullInt64{Valid: true, Int64: *jobUser.JobSetID}
	}

	result, err := s.db.db.ExecContext(ctx, `
		INSERT INTO job_users (user_id, codingjob_id, jobset_id, can_code, can_edit, damage, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, codingjob_id) DO UPDATE SET
			can_code = excluded.can_code,
			can_edit = excluded.can_edit`,
		jobUser.UserID, jobUser.CodingJobID, jobsetID,
		boolToInt(jobUser.CanCode), boolToInt(jobUser.CanEdit), jobUser.Damage, string(jobUser.Status),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert job user: %w", err)
	}
	if id, err := result.LastInsertId(); err == nil && id > 0 {
		jobUser.ID = id
	}
	return nil
}

// ListJobCoders lists the users bound to a job
func (s *CodingJobStorage) ListJobCoders(ctx context.Context, jobID int64) ([]*models.User, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT u.id, u.name, u.email, u.is_admin, u.password_hash, u.restricted_job, u.created_at
		FROM job_users ju JOIN users u ON u.id = ju.user_id
		WHERE ju.codingjob_id = ? AND ju.can_code = 1
		ORDER BY u.id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list job coders: %w", err)
	}
	defer rows.Close()

	var coders []*models.User
	for rows.Next() {
		coder, err := scanUserRows(rows)
		if err != nil {
			return nil, err
		}
		coders = append(coders, coder)
	}
	return coders, rows.Err()
}

// SetJobCoder grants or revokes a user's coding access to a job
func (s *CodingJobStorage) SetJobCoder(ctx context.Context, jobID, userID int64, canCode bool) error {
	jobUser := &models.JobUser{
		UserID:      userID,
		CodingJobID: jobID,
		CanCode:     canCode,
	}
	return s.UpsertJobUser(ctx, jobUser)
}
