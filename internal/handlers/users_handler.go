package handlers

import (
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/annotor/internal/interfaces"
	"github.com/ternarybob/annotor/internal/models"
)

// UsersHandler serves user administration: create, list, passwords, tokens
type UsersHandler struct {
	users         interfaces.UserStorage
	auth          interfaces.AuthService
	authenticator *Authenticator
	logger        arbor.ILogger
}

func NewUsersHandler(users interfaces.UserStorage, auth interfaces.AuthService,
	authenticator *Authenticator, logger arbor.ILogger) *UsersHandler {
	return &UsersHandler{
		users:         users,
		auth:          auth,
		authenticator: authenticator,
		logger:        logger,
	}
}

// ListUsersHandler returns registered users (guests excluded), paginated
func (h *UsersHandler) ListUsersHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authenticator.RequireAdmin(w, r); !ok {
		return
	}

	offset := QueryInt(r, "offset", 0)
	limit := QueryInt(r, "limit", 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	users, total, err := h.users.ListUsers(r.Context(), offset, limit)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"users": users,
		"total": total,
	})
}

type createUsersRequest struct {
	Users []models.UserUpload `json:"users"`
}

// CreateUsersHandler creates a batch of users. Existing names are skipped so
// re-posting the same list is harmless.
func (h *UsersHandler) CreateUsersHandler(w http.ResponseWriter, r *http.Request) {
	admin, ok := h.authenticator.RequireAdmin(w, r)
	if !ok {
		return
	}

	var req createUsersRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if len(req.Users) == 0 {
		WriteError(w, http.StatusBadRequest, "no users given")
		return
	}

	created := make([]string, 0, len(req.Users))
	for _, upload := range req.Users {
		if upload.Name == "" {
			WriteError(w, http.StatusBadRequest, "user name is required")
			return
		}
		if _, err := h.users.GetUserByName(r.Context(), upload.Name); err == nil {
			continue
		}

		user := &models.User{
			Name:    upload.Name,
			Email:   upload.Email,
			IsAdmin: upload.Admin,
		}
		if upload.Password != "" {
			hash, err := h.auth.HashPassword(upload.Password)
			if err != nil {
				WriteServiceError(w, err)
				return
			}
			user.PasswordHash = hash
		}
		if err := h.users.CreateUser(r.Context(), user); err != nil {
			WriteServiceError(w, err)
			return
		}
		created = append(created, user.Name)
	}

	h.logger.Info().Str("admin", admin.Name).Int("created", len(created)).Msg("Users created")
	WriteJSON(w, http.StatusCreated, map[string]interface{}{"created": created})
}

type setPasswordRequest struct {
	Password string `json:"password"`
}

// SetPasswordHandler sets a user's password; coders may change their own,
// admins anyone's. Path: /api/users/{name}/password, "me" for self.
func (h *UsersHandler) SetPasswordHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}
	caller, ok := h.authenticator.Authenticate(w, r)
	if !ok {
		return
	}

	name := userNameFromPath(r.URL.Path, "/password")
	if name == "" {
		WriteError(w, http.StatusBadRequest, "missing user name")
		return
	}
	if name == "me" {
		name = caller.Name
	}
	if name != caller.Name && !caller.IsAdmin {
		WriteError(w, http.StatusUnauthorized, "cannot change another user's password")
		return
	}

	var req setPasswordRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if req.Password == "" {
		WriteError(w, http.StatusBadRequest, "password is required")
		return
	}

	hash, err := h.auth.HashPassword(req.Password)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	if err := h.users.SetPassword(r.Context(), name, hash); err != nil {
		WriteServiceError(w, err)
		return
	}

	h.logger.Info().Str("user", name).Msg("Password changed")
	WriteJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// UserTokenHandler lets an admin obtain a bearer token for another user.
// Path: /api/users/{name}/token.
func (h *UsersHandler) UserTokenHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	if _, ok := h.authenticator.RequireAdmin(w, r); !ok {
		return
	}

	name := userNameFromPath(r.URL.Path, "/token")
	if name == "" {
		WriteError(w, http.StatusBadRequest, "missing user name")
		return
	}

	user, err := h.users.GetUserByName(r.Context(), name)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	token, err := h.auth.TokenForUser(user)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, newTokenResponse(token, user))
}

// userNameFromPath extracts {name} from /api/users/{name}<suffix>
func userNameFromPath(path, suffix string) string {
	rest, found := strings.CutPrefix(path, "/api/users/")
	if !found {
		return ""
	}
	name, found := strings.CutSuffix(rest, suffix)
	if !found {
		return ""
	}
	return name
}
