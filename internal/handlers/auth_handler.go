package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/annotor/internal/interfaces"
	"github.com/ternarybob/annotor/internal/models"
)

// AuthHandler serves login and token verification
type AuthHandler struct {
	auth          interfaces.AuthService
	authenticator *Authenticator
	logger        arbor.ILogger
}

func NewAuthHandler(auth interfaces.AuthService, authenticator *Authenticator, logger arbor.ILogger) *AuthHandler {
	return &AuthHandler{
		auth:          auth,
		authenticator: authenticator,
		logger:        logger,
	}
}

type loginRequest struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token      string `json:"token"`
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
	IsAdmin    bool   `json:"is_admin"`
	Restricted *int64 `json:"restricted_job,omitempty"`
}

func newTokenResponse(token string, user *models.User) tokenResponse {
	return tokenResponse{
		Token:      token,
		Name:       user.Name,
		Email:      user.Email,
		IsAdmin:    user.IsAdmin,
		Restricted: user.RestrictedJob,
	}
}

// LoginHandler exchanges name + password for a bearer token
func (h *AuthHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req loginRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	token, user, err := h.auth.Login(r.Context(), req.User, req.Password)
	if err != nil {
		h.logger.Warn().Str("user", req.User).Msg("Login failed")
		WriteServiceError(w, err)
		return
	}

	h.logger.Info().Str("user", user.Name).Msg("User logged in")
	WriteJSON(w, http.StatusOK, newTokenResponse(token, user))
}

// VerifyHandler confirms the caller's token and returns a fresh one
func (h *AuthHandler) VerifyHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	user, ok := h.authenticator.Authenticate(w, r)
	if !ok {
		return
	}

	token, err := h.auth.TokenForUser(user)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, newTokenResponse(token, user))
}
