package common

import (
	"github.com/google/uuid"
)

// NewTokenID generates a unique job token ID with the "jt_" prefix
// Format: jt_<uuid>
func NewTokenID() string {
	return "jt_" + uuid.New().String()
}

// NewGuestSuffix generates the unique part of a guest user name
func NewGuestSuffix() string {
	return uuid.New().String()
}
