package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/annotor/internal/interfaces"
	"github.com/ternarybob/annotor/internal/models"
	"github.com/ternarybob/annotor/internal/services/codingjobs"
	"github.com/ternarybob/annotor/internal/services/unitserver"
)

// CodingJobHandler serves job administration and the coder-facing job
// endpoints (codebook, progress, debriefing)
type CodingJobHandler struct {
	jobs          *codingjobs.Service
	server        *unitserver.Service
	auth          interfaces.AuthService
	authenticator *Authenticator
	logger        arbor.ILogger
}

func NewCodingJobHandler(jobs *codingjobs.Service, server *unitserver.Service,
	auth interfaces.AuthService, authenticator *Authenticator, logger arbor.ILogger) *CodingJobHandler {
	return &CodingJobHandler{
		jobs:          jobs,
		server:        server,
		auth:          auth,
		authenticator: authenticator,
		logger:        logger,
	}
}

// CreateJobHandler creates a coding job from an upload payload
func (h *CodingJobHandler) CreateJobHandler(w http.ResponseWriter, r *http.Request) {
	admin, ok := h.authenticator.RequireAdmin(w, r)
	if !ok {
		return
	}

	var upload models.CodingJobUpload
	if !DecodeJSON(w, r, &upload) {
		return
	}

	job, err := h.jobs.Create(r.Context(), admin, &upload)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, job)
}

// ListJobsHandler returns all jobs
func (h *CodingJobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authenticator.RequireAdmin(w, r); !ok {
		return
	}

	jobs, err := h.jobs.List(r.Context())
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}

// MyJobsHandler returns the jobs the caller can code, with progress for
// jobs they already joined
func (h *CodingJobHandler) MyJobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	coder, ok := h.authenticator.Authenticate(w, r)
	if !ok {
		return
	}

	jobs, err := h.jobs.MyJobs(r.Context(), coder)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}

// JobHandler returns a job with its units
func (h *CodingJobHandler) JobHandler(w http.ResponseWriter, r *http.Request, jobID int64) {
	if _, ok := h.authenticator.RequireAdmin(w, r); !ok {
		return
	}

	job, err := h.jobs.Get(r.Context(), jobID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	units, err := h.jobs.Units(r.Context(), jobID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"job":   job,
		"units": units,
	})
}

// DetailsHandler returns the jobset/coder summary of a job
func (h *CodingJobHandler) DetailsHandler(w http.ResponseWriter, r *http.Request, jobID int64) {
	if _, ok := h.authenticator.RequireAdmin(w, r); !ok {
		return
	}

	details, err := h.jobs.Details(r.Context(), jobID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, details)
}

// AnnotationsHandler exports every annotation of a job
func (h *CodingJobHandler) AnnotationsHandler(w http.ResponseWriter, r *http.Request, jobID int64) {
	if _, ok := h.authenticator.RequireAdmin(w, r); !ok {
		return
	}

	annotations, err := h.jobs.Annotations(r.Context(), jobID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"annotations": annotations})
}

type settingsRequest struct {
	Restricted *bool `json:"restricted,omitempty"`
	Archived   *bool `json:"archived,omitempty"`
}

// SettingsHandler updates a job's restricted/archived flags
func (h *CodingJobHandler) SettingsHandler(w http.ResponseWriter, r *http.Request, jobID int64) {
	if _, ok := h.authenticator.RequireAdmin(w, r); !ok {
		return
	}

	var req settingsRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	job, err := h.jobs.SetSettings(r.Context(), jobID, req.Restricted, req.Archived)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

type setCodersRequest struct {
	Users   []string `json:"users"`
	OnlyAdd bool     `json:"only_add,omitempty"`
}

// SetCodersHandler sets the users that can code a job
func (h *CodingJobHandler) SetCodersHandler(w http.ResponseWriter, r *http.Request, jobID int64) {
	if _, ok := h.authenticator.RequireAdmin(w, r); !ok {
		return
	}

	var req setCodersRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	users, err := h.jobs.SetCoders(r.Context(), jobID, req.Users, req.OnlyAdd)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"users": users})
}

// TokenHandler manages guest job tokens: POST issues, GET lists, DELETE
// revokes (?token_id=)
func (h *CodingJobHandler) TokenHandler(w http.ResponseWriter, r *http.Request, jobID int64) {
	admin, ok := h.authenticator.RequireAdmin(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case "POST":
		job, err := h.jobs.Get(r.Context(), jobID)
		if err != nil {
			WriteServiceError(w, err)
			return
		}
		token, err := h.auth.IssueJobToken(r.Context(), job, admin.ID)
		if err != nil {
			WriteServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, map[string]string{"token": token})

	case "GET":
		tokens, err := h.auth.ListJobTokens(r.Context(), jobID)
		if err != nil {
			WriteServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]interface{}{"tokens": tokens})

	case "DELETE":
		tokenID := r.URL.Query().Get("token_id")
		if tokenID == "" {
			WriteError(w, http.StatusBadRequest, "missing token_id parameter")
			return
		}
		if err := h.auth.RevokeJobToken(r.Context(), tokenID); err != nil {
			WriteServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "success"})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// CodebookHandler returns the codebook of the caller's jobset
func (h *CodingJobHandler) CodebookHandler(w http.ResponseWriter, r *http.Request, jobID int64) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	coder, ok := h.authenticator.Authenticate(w, r)
	if !ok {
		return
	}

	codebook, err := h.jobs.Codebook(r.Context(), coder, jobID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"codebook": codebook})
}

// ProgressHandler returns the caller's progress on a job
func (h *CodingJobHandler) ProgressHandler(w http.ResponseWriter, r *http.Request, jobID int64) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	coder, ok := h.authenticator.Authenticate(w, r)
	if !ok {
		return
	}

	progress, err := h.server.Progress(r.Context(), coder, jobID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, progress)
}

// DebriefingHandler returns the jobset debriefing once the caller finished
func (h *CodingJobHandler) DebriefingHandler(w http.ResponseWriter, r *http.Request, jobID int64) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	coder, ok := h.authenticator.Authenticate(w, r)
	if !ok {
		return
	}

	debriefing, err := h.jobs.Debriefing(r.Context(), coder, jobID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"debriefing": debriefing})
}
