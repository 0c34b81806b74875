package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/annotor/internal/common"
	"github.com/ternarybob/annotor/internal/interfaces"
)

// Service runs scheduled database maintenance (ANALYZE, WAL checkpoint)
type Service struct {
	storage interfaces.StorageManager
	cron    *cron.Cron
	logger  arbor.ILogger
	running bool
}

// NewService creates a new maintenance service
func NewService(storage interfaces.StorageManager, logger arbor.ILogger) *Service {
	return &Service{
		storage: storage,
		cron:    cron.New(),
		logger:  logger,
	}
}

// Start schedules maintenance per the config. Disabled config is a no-op.
func (s *Service) Start(cfg *common.MaintenanceConfig) error {
	if !cfg.Enabled {
		s.logger.Info().Msg("Scheduled maintenance disabled")
		return nil
	}
	if s.running {
		return fmt.Errorf("maintenance scheduler already running")
	}

	schedule := cfg.Schedule
	if schedule == "" {
		schedule = "0 3 * * *"
	}
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return fmt.Errorf("failed to schedule maintenance: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info().Str("schedule", schedule).Msg("Scheduled maintenance started")
	return nil
}

func (s *Service) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	start := time.Now()
	if err := s.storage.Maintain(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Database maintenance failed")
		return
	}
	s.logger.Info().
		Str("duration", time.Since(start).String()).
		Msg("Database maintenance completed")
}

// Stop halts the scheduler, waiting for a running maintenance pass
func (s *Service) Stop() {
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info().Msg("Scheduled maintenance stopped")
}
