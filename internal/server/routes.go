package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ternarybob/annotor/internal/handlers"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route (admin event stream)
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Authentication
	mux.HandleFunc("/api/users/me/token", s.handleOwnToken)     // POST login, GET verify
	mux.HandleFunc("/api/users/me/codingjob", s.app.CodingJobHandler.MyJobsHandler)
	mux.HandleFunc("/api/users", s.handleUsersRoute)            // GET list, POST create
	mux.HandleFunc("/api/users/", s.handleUserRoutes)           // /{name}/password, /{name}/token

	// API routes - Guest access
	mux.HandleFunc("/api/guest/jobtoken", s.app.GuestHandler.JobTokenHandler)

	// API routes - Coding jobs
	mux.HandleFunc("/api/codingjobs", s.handleCodingJobsRoute)  // GET list, POST create
	mux.HandleFunc("/api/codingjob/", s.handleCodingJobRoutes)  // /{id}/...

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleOwnToken routes /api/users/me/token: POST logs in, GET verifies
func (s *Server) handleOwnToken(w http.ResponseWriter, r *http.Request) {
	RouteByMethod(w, r, MethodRouter{
		"POST": s.app.AuthHandler.LoginHandler,
		"GET":  s.app.AuthHandler.VerifyHandler,
	})
}

// handleUsersRoute routes /api/users (list and create)
func (s *Server) handleUsersRoute(w http.ResponseWriter, r *http.Request) {
	RouteByMethod(w, r, MethodRouter{
		"GET":  s.app.UsersHandler.ListUsersHandler,
		"POST": s.app.UsersHandler.CreateUsersHandler,
	})
}

// handleUserRoutes routes /api/users/{name}/password and /{name}/token
func (s *Server) handleUserRoutes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	// /api/users/me/token and /me/codingjob are registered exactly
	switch {
	case strings.HasSuffix(path, "/password"):
		s.app.UsersHandler.SetPasswordHandler(w, r)
	case strings.HasSuffix(path, "/token"):
		s.app.UsersHandler.UserTokenHandler(w, r)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

// handleCodingJobsRoute routes /api/codingjobs (list and create)
func (s *Server) handleCodingJobsRoute(w http.ResponseWriter, r *http.Request) {
	RouteByMethod(w, r, MethodRouter{
		"GET":  s.app.CodingJobHandler.ListJobsHandler,
		"POST": s.app.CodingJobHandler.CreateJobHandler,
	})
}

// handleCodingJobRoutes dispatches /api/codingjob/{id} and its subpaths
func (s *Server) handleCodingJobRoutes(w http.ResponseWriter, r *http.Request) {
	jobID, rest, ok := handlers.PathID(r.URL.Path, "/api/codingjob/")
	if !ok {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	switch {
	case rest == "":
		s.app.CodingJobHandler.JobHandler(w, r, jobID)
	case rest == "details":
		s.app.CodingJobHandler.DetailsHandler(w, r, jobID)
	case rest == "annotations":
		s.app.CodingJobHandler.AnnotationsHandler(w, r, jobID)
	case rest == "settings":
		s.app.CodingJobHandler.SettingsHandler(w, r, jobID)
	case rest == "users":
		s.app.CodingJobHandler.SetCodersHandler(w, r, jobID)
	case rest == "token":
		s.app.CodingJobHandler.TokenHandler(w, r, jobID)
	case rest == "codebook":
		s.app.CodingJobHandler.CodebookHandler(w, r, jobID)
	case rest == "progress":
		s.app.CodingJobHandler.ProgressHandler(w, r, jobID)
	case rest == "debriefing":
		s.app.CodingJobHandler.DebriefingHandler(w, r, jobID)
	case rest == "unit":
		s.app.UnitHandler.GetUnitHandler(w, r, jobID)
	case strings.HasPrefix(rest, "unit/"):
		idSegment, action, _ := strings.Cut(strings.TrimPrefix(rest, "unit/"), "/")
		unitID, err := strconv.ParseInt(idSegment, 10, 64)
		if err != nil || action != "annotation" {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		s.app.UnitHandler.PostAnnotationHandler(w, r, jobID, unitID)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}
