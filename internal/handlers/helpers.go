package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ternarybob/annotor/internal/common"
	"github.com/ternarybob/annotor/internal/interfaces"
	"github.com/ternarybob/annotor/internal/models"
)

// RequireMethod validates that the HTTP request uses the specified method.
// Returns true if the method matches, false otherwise (and writes error response).
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes a standard error JSON response.
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, map[string]string{
		"status": "error",
		"error":  message,
	})
}

// WriteServiceError maps a service error to its HTTP status via the sentinel
// error kinds and writes it
func WriteServiceError(w http.ResponseWriter, err error) error {
	switch {
	case errors.Is(err, common.ErrNotFound):
		return WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, common.ErrBadRequest):
		return WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, common.ErrAuthorizationDenied):
		return WriteError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, common.ErrConflict):
		return WriteError(w, http.StatusConflict, err.Error())
	default:
		return WriteError(w, http.StatusInternalServerError, err.Error())
	}
}

// DecodeJSON decodes the request body into dst, writing a 400 on failure
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// Authenticator resolves the bearer token of a request to its user
type Authenticator struct {
	auth interfaces.AuthService
}

// NewAuthenticator creates a request authenticator backed by the auth service
func NewAuthenticator(auth interfaces.AuthService) *Authenticator {
	return &Authenticator{auth: auth}
}

// Authenticate returns the request's user, or writes a 401 and returns false
func (a *Authenticator) Authenticate(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	header := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		WriteError(w, http.StatusUnauthorized, "missing bearer token")
		return nil, false
	}

	user, err := a.auth.VerifyToken(r.Context(), token)
	if err != nil {
		WriteServiceError(w, err)
		return nil, false
	}
	return user, true
}

// RequireAdmin authenticates the request and additionally requires admin
func (a *Authenticator) RequireAdmin(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	user, ok := a.Authenticate(w, r)
	if !ok {
		return nil, false
	}
	if !user.IsAdmin {
		WriteError(w, http.StatusUnauthorized, "admin access required")
		return nil, false
	}
	return user, true
}

// PathID parses the int64 path segment following prefix, e.g. the job id in
// /api/codingjob/{id}/token. Returns the id and the remaining path.
func PathID(path, prefix string) (int64, string, bool) {
	rest, found := strings.CutPrefix(path, prefix)
	if !found || rest == "" {
		return 0, "", false
	}
	segment, remainder, _ := strings.Cut(rest, "/")
	id, err := strconv.ParseInt(segment, 10, 64)
	if err != nil {
		return 0, "", false
	}
	return id, remainder, true
}

// QueryInt parses an optional integer query parameter, with a default
func QueryInt(r *http.Request, key string, fallback int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// QueryBoolPtr parses an optional boolean query parameter; nil when absent
func QueryBoolPtr(r *http.Request, key string) *bool {
	value := r.URL.Query().Get(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return nil
	}
	return &parsed
}
