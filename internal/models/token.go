package models

import "time"

// JobToken is a shareable token granting guest access to one job. Stored in
// the token store so individual tokens can expire or be revoked.
type JobToken struct {
	ID          string    `json:"id" badgerhold:"key"`
	CodingJobID int64     `json:"codingjob_id"`
	IssuedBy    int64     `json:"issued_by"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
	Revoked     bool      `json:"revoked"`
}

// Expired reports whether the token has passed its expiry (zero = no expiry)
func (t *JobToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt)
}

// GuestSession records a minted guest user for a redeemed job token
type GuestSession struct {
	UserName    string    `json:"user_name" badgerhold:"key"`
	TokenID     string    `json:"token_id"`
	CodingJobID int64     `json:"codingjob_id"`
	CreatedAt   time.Time `json:"created_at"`
}
