package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/annotor/internal/models"
	"github.com/ternarybob/annotor/internal/services/annotations"
	"github.com/ternarybob/annotor/internal/services/unitserver"
)

// UnitHandler serves units to coders and accepts their annotations
type UnitHandler struct {
	server        *unitserver.Service
	annotations   *annotations.Service
	authenticator *Authenticator
	logger        arbor.ILogger
}

func NewUnitHandler(server *unitserver.Service, annotationService *annotations.Service,
	authenticator *Authenticator, logger arbor.ILogger) *UnitHandler {
	return &UnitHandler{
		server:        server,
		annotations:   annotationService,
		authenticator: authenticator,
		logger:        logger,
	}
}

// GetUnitHandler serves the caller's next unit, or the unit at ?index=
func (h *UnitHandler) GetUnitHandler(w http.ResponseWriter, r *http.Request, jobID int64) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	coder, ok := h.authenticator.Authenticate(w, r)
	if !ok {
		return
	}

	var (
		served *models.ServedUnit
		err    error
	)
	if index := QueryInt(r, "index", -1); index >= 0 {
		served, err = h.server.SeekUnit(r.Context(), coder, jobID, index)
	} else {
		served, err = h.server.NextUnit(r.Context(), coder, jobID)
	}
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, served)
}

// PostAnnotationHandler stores an annotation for a served unit and returns
// the evaluation report
func (h *UnitHandler) PostAnnotationHandler(w http.ResponseWriter, r *http.Request, jobID, unitID int64) {
	if !RequireMethod(w, r, "POST") {
		return
	}
	coder, ok := h.authenticator.Authenticate(w, r)
	if !ok {
		return
	}

	var upload models.AnnotationUpload
	if !DecodeJSON(w, r, &upload) {
		return
	}

	report, err := h.annotations.Submit(r.Context(), coder, jobID, unitID, &upload)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, report)
}
