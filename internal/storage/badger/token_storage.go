package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/annotor/internal/common"
	"github.com/ternarybob/annotor/internal/interfaces"
	"github.com/ternarybob/annotor/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// TokenStorage implements the TokenStorage interface for Badger
type TokenStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewTokenStorage creates a new TokenStorage instance
func NewTokenStorage(db *BadgerDB, logger arbor.ILogger) interfaces.TokenStorage {
	return &TokenStorage{
		db:     db,
		logger: logger,
	}
}

func (s *TokenStorage) StoreJobToken(ctx context.Context, token *models.JobToken) error {
	if token.ID == "" {
		return fmt.Errorf("token ID is required")
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now()
	}

	if err := s.db.Store().Upsert(token.ID, token); err != nil {
		return fmt.Errorf("failed to store job token: %w", err)
	}

	s.logger.Debug().Str("token_id", token.ID).Int64("job_id", token.CodingJobID).Msg("Job token stored")
	return nil
}

func (s *TokenStorage) GetJobToken(ctx context.Context, id string) (*models.JobToken, error) {
	var token models.JobToken
	if err := s.db.Store().Get(id, &token); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, common.NotFoundf("job token")
		}
		return nil, fmt.Errorf("failed to get job token: %w", err)
	}
	return &token, nil
}

func (s *TokenStorage) RevokeJobToken(ctx context.Context, id string) error {
	token, err := s.GetJobToken(ctx, id)
	if err != nil {
		return err
	}
	token.Revoked = true
	if err := s.db.Store().Update(id, token); err != nil {
		return fmt.Errorf("failed to revoke job token: %w", err)
	}
	return nil
}

func (s *TokenStorage) ListJobTokens(ctx context.Context, jobID int64) ([]*models.JobToken, error) {
	var tokens []models.JobToken
	if err := s.db.Store().Find(&tokens, badgerhold.Where("CodingJobID").Eq(jobID)); err != nil {
		return nil, fmt.Errorf("failed to list job tokens: %w", err)
	}

	result := make([]*models.JobToken, len(tokens))
	for i := range tokens {
		result[i] = &tokens[i]
	}
	return result, nil
}

func (s *TokenStorage) StoreGuestSession(ctx context.Context, session *models.GuestSession) error {
	if session.UserName == "" {
		return fmt.Errorf("session user name is required")
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}

	if err := s.db.Store().Upsert(session.UserName, session); err != nil {
		return fmt.Errorf("failed to store guest session: %w", err)
	}
	return nil
}

func (s *TokenStorage) GetGuestSession(ctx context.Context, userName string) (*models.GuestSession, error) {
	var session models.GuestSession
	if err := s.db.Store().Get(userName, &session); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, common.NotFoundf("guest session")
		}
		return nil, fmt.Errorf("failed to get guest session: %w", err)
	}
	return &session, nil
}
