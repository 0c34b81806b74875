package storage

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/annotor/internal/common"
	"github.com/ternarybob/annotor/internal/interfaces"
	"github.com/ternarybob/annotor/internal/storage/badger"
	"github.com/ternarybob/annotor/internal/storage/sqlite"
)

// Manager composes the SQLite relational store (jobs, units, annotations)
// with the Badger token store (job tokens, guest sessions)
type Manager struct {
	sqliteDB *sqlite.SQLiteDB
	badgerDB *badger.BadgerDB

	users       interfaces.UserStorage
	codingJobs  interfaces.CodingJobStorage
	units       interfaces.UnitStorage
	annotations interfaces.AnnotationStorage
	engine      interfaces.EngineStorage
	tokens      interfaces.TokenStorage

	logger arbor.ILogger
}

// NewStorageManager creates a new storage manager based on config
func NewStorageManager(logger arbor.ILogger, config *common.Config) (interfaces.StorageManager, error) {
	sqliteDB, err := sqlite.NewSQLiteDB(logger, &config.Storage.SQLite)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sqlite storage: %w", err)
	}

	badgerDB, err := badger.NewBadgerDB(logger, &config.Storage.Badger)
	if err != nil {
		sqliteDB.Close()
		return nil, fmt.Errorf("failed to initialize badger storage: %w", err)
	}

	return &Manager{
		sqliteDB:    sqliteDB,
		badgerDB:    badgerDB,
		users:       sqlite.NewUserStorage(sqliteDB, logger),
		codingJobs:  sqlite.NewCodingJobStorage(sqliteDB, logger),
		units:       sqlite.NewUnitStorage(sqliteDB, logger),
		annotations: sqlite.NewAnnotationStorage(sqliteDB, logger),
		engine:      sqlite.NewEngineStorage(sqliteDB, logger),
		tokens:      badger.NewTokenStorage(badgerDB, logger),
		logger:      logger,
	}, nil
}

func (m *Manager) Users() interfaces.UserStorage               { return m.users }
func (m *Manager) CodingJobs() interfaces.CodingJobStorage     { return m.codingJobs }
func (m *Manager) Units() interfaces.UnitStorage               { return m.units }
func (m *Manager) Annotations() interfaces.AnnotationStorage   { return m.annotations }
func (m *Manager) Engine() interfaces.EngineStorage            { return m.engine }
func (m *Manager) Tokens() interfaces.TokenStorage             { return m.tokens }

// Maintain runs periodic database maintenance
func (m *Manager) Maintain(ctx context.Context) error {
	return m.sqliteDB.Maintain(ctx)
}

// Close closes both backends
func (m *Manager) Close() error {
	var firstErr error
	if err := m.sqliteDB.Close(); err != nil {
		firstErr = err
	}
	if err := m.badgerDB.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if firstErr != nil {
		return firstErr
	}
	m.logger.Debug().Msg("Storage closed")
	return nil
}
