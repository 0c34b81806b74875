package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/annotor/internal/common"
	"github.com/ternarybob/annotor/internal/interfaces"
	"github.com/ternarybob/annotor/internal/models"
)

// UnitStorage implements SQLite storage for units
type UnitStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewUnitStorage creates a new unit storage instance
func NewUnitStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.UnitStorage {
	return &UnitStorage{
		db:     db,
		logger: logger,
	}
}

// GetUnit retrieves a unit by ID
func (s *UnitStorage) GetUnit(ctx context.Context, id int64) (*models.Unit, error) {
	row := s.db.db.QueryRowContext(ctx, "SELECT "+unitColumns+" FROM units WHERE id = ?", id)
	unit, err := scanUnit(row)
	if err == sql.ErrNoRows {
		return nil, common.NotFoundf("unit %d", id)
	}
	return unit, err
}

// GetUnitByExternalID retrieves a unit by its upload identifier within a job
func (s *UnitStorage) GetUnitByExternalID(ctx context.Context, jobID int64, externalID string) (*models.Unit, error) {
	row := s.db.db.QueryRowContext(ctx,
		"SELECT "+unitColumns+" FROM units WHERE codingjob_id = ? AND external_id = ?", jobID, externalID)
	unit, err := scanUnit(row)
	if err == sql.ErrNoRows {
		return nil, common.NotFoundf("unit %s", externalID)
	}
	return unit, err
}

// ListUnits lists a job's units in upload order
func (s *UnitStorage) ListUnits(ctx context.Context, jobID int64) ([]*models.Unit, error) {
	rows, err := s.db.db.QueryContext(ctx,
		"SELECT "+unitColumns+" FROM units WHERE codingjob_id = ? ORDER BY id", jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list units: %w", err)
	}
	defer rows.Close()

	var units []*models.Unit
	for rows.Next() {
		unit, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, unit)
	}
	return units, rows.Err()
}

// SetBlocked marks a jobset unit as blocked, removing it from future crowd
// assignment without touching existing annotations
func (s *UnitStorage) SetBlocked(ctx context.Context, jobsetID, unitID int64, blocked bool) error {
	result, err := s.db.db.ExecContext(ctx,
		"UPDATE jobset_units SET blocked = ? WHERE jobset_id = ? AND unit_id = ?",
		boolToInt(blocked), jobsetID, unitID)
	if err != nil {
		return fmt.Errorf("failed to update blocked flag: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return common.NotFoundf("unit %d in jobset %d", unitID, jobsetID)
	}
	return nil
}
