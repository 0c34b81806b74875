package models

import "time"

// User is anyone who can hold a token: admins, named coders, and guests.
// Guests carry a RestrictedJob and may only code that job.
type User struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Email         string    `json:"email,omitempty"`
	IsAdmin       bool      `json:"is_admin"`
	PasswordHash  string    `json:"-"`
	RestrictedJob *int64    `json:"restricted_job,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// IsGuest reports whether the user was minted from a job token
func (u *User) IsGuest() bool {
	return u.RestrictedJob != nil
}
