package interfaces

import (
	"context"

	"github.com/ternarybob/annotor/internal/models"
)

// AuthService issues and verifies bearer and job tokens
type AuthService interface {
	Login(ctx context.Context, name, password string) (string, *models.User, error)
	TokenForUser(user *models.User) (string, error)
	VerifyToken(ctx context.Context, token string) (*models.User, error)
	IssueJobToken(ctx context.Context, job *models.CodingJob, issuedBy int64) (string, error)
	RedeemJobToken(ctx context.Context, token string, userID string) (string, *models.User, error)
	RevokeJobToken(ctx context.Context, tokenID string) error
	ListJobTokens(ctx context.Context, jobID int64) ([]*models.JobToken, error)
	HashPassword(password string) (string, error)
}

// EventService fans engine events out to subscribers (WebSocket clients)
type EventService interface {
	Publish(event *models.Event)
	Subscribe(bufferSize int) (<-chan *models.Event, func())
	Close()
}
