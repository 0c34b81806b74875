package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/annotor/internal/common"
	"github.com/ternarybob/annotor/internal/interfaces"
	"github.com/ternarybob/annotor/internal/models"
	"golang.org/x/crypto/bcrypt"
)

// Service issues and verifies bearer tokens for named users and shareable
// job tokens for guest access. Bearer tokens are stateless HMAC signatures;
// job tokens are additionally backed by the token store so they can be
// revoked or expire individually.
type Service struct {
	users  interfaces.UserStorage
	jobs   interfaces.CodingJobStorage
	tokens interfaces.TokenStorage
	secret []byte
	jobTTL time.Duration
	logger arbor.ILogger
}

// NewService creates a new auth service. An empty secret gets a random one,
// which invalidates all tokens on restart; fine for development, configure
// auth.token_secret for production.
func NewService(storage interfaces.StorageManager, cfg *common.AuthConfig, logger arbor.ILogger) (*Service, error) {
	secret := []byte(cfg.TokenSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("failed to generate token secret: %w", err)
		}
		logger.Warn().Msg("No token secret configured, using a random one; tokens will not survive a restart")
	}

	return &Service{
		users:  storage.Users(),
		jobs:   storage.CodingJobs(),
		tokens: storage.Tokens(),
		secret: secret,
		jobTTL: time.Duration(cfg.JobTokenTTLHours) * time.Hour,
		logger: logger,
	}, nil
}

// SeedAdmin creates the configured admin user when no admin exists yet
func (s *Service) SeedAdmin(ctx context.Context, cfg *common.AuthConfig) error {
	if cfg.AdminPassword == "" {
		return nil
	}
	count, err := s.users.CountAdmins(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hash, err := s.HashPassword(cfg.AdminPassword)
	if err != nil {
		return err
	}
	admin := &models.User{
		Name:         cfg.AdminName,
		Email:        cfg.AdminEmail,
		IsAdmin:      true,
		PasswordHash: hash,
	}
	if err := s.users.CreateUser(ctx, admin); err != nil {
		return err
	}
	s.logger.Info().Str("name", admin.Name).Msg("Seeded admin user")
	return nil
}

// Login verifies a user's password and returns a bearer token
func (s *Service) Login(ctx context.Context, name, password string) (string, *models.User, error) {
	user, err := s.users.GetUserByName(ctx, name)
	if err != nil {
		// Same error as a bad password, so names cannot be probed
		return "", nil, common.Unauthorizedf("invalid username or password")
	}
	if user.PasswordHash == "" {
		return "", nil, common.Unauthorizedf("user has no password set")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, common.Unauthorizedf("invalid username or password")
	}

	token, err := s.TokenForUser(user)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

// TokenForUser signs a bearer token for a user
func (s *Service) TokenForUser(user *models.User) (string, error) {
	return signToken(s.secret, tokenClaims{User: user.Name})
}

// VerifyToken resolves a bearer token to its user
func (s *Service) VerifyToken(ctx context.Context, token string) (*models.User, error) {
	claims, err := verifyToken(s.secret, token)
	if err != nil {
		return nil, err
	}
	if claims.User == "" {
		return nil, common.Unauthorizedf("not a bearer token")
	}

	user, err := s.users.GetUserByName(ctx, claims.User)
	if err != nil {
		return nil, common.Unauthorizedf("unknown user")
	}
	return user, nil
}

// IssueJobToken creates a shareable guest token for a job
func (s *Service) IssueJobToken(ctx context.Context, job *models.CodingJob, issuedBy int64) (string, error) {
	record := &models.JobToken{
		ID:          common.NewTokenID(),
		CodingJobID: job.ID,
		IssuedBy:    issuedBy,
		CreatedAt:   time.Now(),
	}
	if s.jobTTL > 0 {
		record.ExpiresAt = record.CreatedAt.Add(s.jobTTL)
	}
	if err := s.tokens.StoreJobToken(ctx, record); err != nil {
		return "", err
	}

	token, err := signToken(s.secret, tokenClaims{Job: job.ID, TokenID: record.ID})
	if err != nil {
		return "", err
	}
	s.logger.Info().Int64("job_id", job.ID).Str("token_id", record.ID).Msg("Issued job token")
	return token, nil
}

// RedeemJobToken exchanges a job token for a guest bearer token. A stable
// userID makes redemption idempotent: the same guest comes back to the same
// annotations. Without one a fresh guest is minted.
func (s *Service) RedeemJobToken(ctx context.Context, token string, userID string) (string, *models.User, error) {
	claims, err := verifyToken(s.secret, token)
	if err != nil {
		return "", nil, err
	}
	if claims.TokenID == "" {
		return "", nil, common.Unauthorizedf("not a job token")
	}

	record, err := s.tokens.GetJobToken(ctx, claims.TokenID)
	if err != nil {
		return "", nil, common.Unauthorizedf("job token is no longer valid")
	}
	if record.Revoked {
		return "", nil, common.Unauthorizedf("job token was revoked")
	}
	if record.Expired(time.Now()) {
		return "", nil, common.Unauthorizedf("job token has expired")
	}

	job, err := s.jobs.GetJob(ctx, record.CodingJobID)
	if err != nil {
		return "", nil, err
	}
	if job.Archived {
		return "", nil, common.Unauthorizedf("coding job %d is archived", job.ID)
	}

	suffix := userID
	if suffix == "" {
		suffix = common.NewGuestSuffix()
	}
	name := fmt.Sprintf("jobuser_%d_%s", job.ID, suffix)

	user, err := s.users.GetUserByName(ctx, name)
	if errors.Is(err, common.ErrNotFound) {
		user = &models.User{Name: name, RestrictedJob: &job.ID}
		if err := s.users.CreateUser(ctx, user); err != nil {
			return "", nil, err
		}
		session := &models.GuestSession{
			UserName:    name,
			TokenID:     record.ID,
			CodingJobID: job.ID,
			CreatedAt:   time.Now(),
		}
		if err := s.tokens.StoreGuestSession(ctx, session); err != nil {
			return "", nil, err
		}
	} else if err != nil {
		return "", nil, err
	}

	bearer, err := s.TokenForUser(user)
	if err != nil {
		return "", nil, err
	}
	return bearer, user, nil
}

// RevokeJobToken invalidates a previously issued job token. Guests who
// already redeemed it keep their access.
func (s *Service) RevokeJobToken(ctx context.Context, tokenID string) error {
	return s.tokens.RevokeJobToken(ctx, tokenID)
}

// ListJobTokens returns the tokens issued for a job
func (s *Service) ListJobTokens(ctx context.Context, jobID int64) ([]*models.JobToken, error) {
	return s.tokens.ListJobTokens(ctx, jobID)
}

// HashPassword hashes a password for storage
func (s *Service) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}
