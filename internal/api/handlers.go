// Package api serves the REST surface: the extraction endpoint and the
// patient and visit routes the form pages use.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/lexiqai/clinic-gateway/internal/forms"
	"github.com/lexiqai/clinic-gateway/internal/visits"
)

// maxBodyBytes bounds request bodies; form payloads are small JSON objects.
const maxBodyBytes = 1 << 20

// VisitService is the subset of visits.Service the handlers use.
type VisitService interface {
	CreatePatient(ctx context.Context, p visits.Patient) (*visits.Patient, error)
	DeletePatient(ctx context.Context, id string) error
	CreateVisit(ctx context.Context, patientID, chiefComplaint string) (*visits.Visit, error)
	Get(ctx context.Context, visitID string) (*visits.Visit, error)
	ListForPatient(ctx context.Context, patientID string) ([]visits.Visit, error)
	ResolveCurrentVisit(ctx context.Context, patientID string) (*visits.Visit, error)
	SaveForm(ctx context.Context, visitID, slot string, data map[string]any) (*visits.Visit, error)
	Discharge(ctx context.Context, visitID string) (*visits.Visit, error)
	DischargeSummary(ctx context.Context, visitID string) (*visits.DischargeSummary, error)
}

// Assistant turns a transcript into a structured object for a form type.
type Assistant interface {
	Extract(ctx context.Context, transcript string, kind forms.Kind) (map[string]any, error)
}

// Handlers holds the HTTP handler methods.
type Handlers struct {
	visits    VisitService
	assistant Assistant
	logger    zerolog.Logger
}

// NewHandlers creates handlers over the given services.
func NewHandlers(visits VisitService, assistant Assistant, logger zerolog.Logger) *Handlers {
	return &Handlers{
		visits:    visits,
		assistant: assistant,
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// RegisterRoutes registers all API routes on mux.
func RegisterRoutes(mux *http.ServeMux, h *Handlers) {
	mux.HandleFunc("POST /api/medical-ai", h.HandleExtract)

	mux.HandleFunc("POST /api/patients", h.HandleCreatePatient)
	mux.HandleFunc("DELETE /api/patients/{patientId}", h.HandleDeletePatient)

	mux.HandleFunc("POST /api/visits/create/{patientId}", h.HandleCreateVisit)
	mux.HandleFunc("GET /api/visits/patient/{patientId}", h.HandleListVisits)
	mux.HandleFunc("GET /api/visits/patient/{patientId}/current", h.HandleCurrentVisit)
	mux.HandleFunc("GET /api/visits/{visitId}", h.HandleGetVisit)
	mux.HandleFunc("PUT /api/visits/{visitId}/forms/{formType}", h.HandleSaveForm)
	// One pattern for the per-visit actions: "/{visitId}/discharge" would
	// otherwise overlap "/create/{patientId}".
	mux.HandleFunc("POST /api/visits/{visitId}/{action}", h.HandleVisitAction)
}

// HandleVisitAction dispatches POST /api/visits/{visitId}/{action}.
func (h *Handlers) HandleVisitAction(w http.ResponseWriter, r *http.Request) {
	switch r.PathValue("action") {
	case "discharge":
		h.HandleDischarge(w, r)
	case "discharge-summary":
		h.HandleDischargeSummary(w, r)
	default:
		writeError(w, http.StatusNotFound, "unknown visit action")
	}
}

// HandleExtract converts dictation into a structured object. Any failure,
// including a model reply that is not a JSON object, is a 500.
func (h *Handlers) HandleExtract(w http.ResponseWriter, r *http.Request) {
	var req ExtractionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Transcript) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "transcript is required"})
		return
	}

	result, err := h.assistant.Extract(r.Context(), req.Transcript, forms.Kind(req.FormType))
	if err != nil {
		h.logger.Error().Err(err).Str("form_type", req.FormType).Msg("AI processing failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "AI failed"})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) HandleCreatePatient(w http.ResponseWriter, r *http.Request) {
	var p visits.Patient
	if !decodeBody(w, r, &p) {
		return
	}

	created, err := h.visits.CreatePatient(r.Context(), p)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handlers) HandleDeletePatient(w http.ResponseWriter, r *http.Request) {
	if err := h.visits.DeletePatient(r.Context(), r.PathValue("patientId")); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Patient deleted successfully"})
}

func (h *Handlers) HandleCreateVisit(w http.ResponseWriter, r *http.Request) {
	var req CreateVisitRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}

	visit, err := h.visits.CreateVisit(r.Context(), r.PathValue("patientId"), req.ChiefComplaint)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, visit)
}

// HandleListVisits returns the patient's visits, newest first.
func (h *Handlers) HandleListVisits(w http.ResponseWriter, r *http.Request) {
	list, err := h.visits.ListForPatient(r.Context(), r.PathValue("patientId"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// HandleCurrentVisit returns the visit a form page should write into, or 404
// when the patient has none yet.
func (h *Handlers) HandleCurrentVisit(w http.ResponseWriter, r *http.Request) {
	visit, err := h.visits.ResolveCurrentVisit(r.Context(), r.PathValue("patientId"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, visit)
}

func (h *Handlers) HandleGetVisit(w http.ResponseWriter, r *http.Request) {
	visit, err := h.visits.Get(r.Context(), r.PathValue("visitId"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, visit)
}

func (h *Handlers) HandleSaveForm(w http.ResponseWriter, r *http.Request) {
	var req SaveFormRequest
	if !decodeBody(w, r, &req) {
		return
	}

	visit, err := h.visits.SaveForm(r.Context(), r.PathValue("visitId"), r.PathValue("formType"), req.Data)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SaveFormResponse{Message: "Form updated successfully", Visit: visit})
}

func (h *Handlers) HandleDischarge(w http.ResponseWriter, r *http.Request) {
	if _, err := h.visits.Discharge(r.Context(), r.PathValue("visitId")); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Patient discharged successfully"})
}

func (h *Handlers) HandleDischargeSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.visits.DischargeSummary(r.Context(), r.PathValue("visitId"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DischargeSummaryResponse{Message: "Discharge summary generated", Summary: summary})
}

func (h *Handlers) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, visits.ErrInvalidFormType):
		writeError(w, http.StatusBadRequest, "Invalid form type")
	case errors.Is(err, visits.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "Patient not found")
	case errors.Is(err, visits.ErrVisitNotFound):
		writeError(w, http.StatusNotFound, "Visit not found")
	case errors.Is(err, visits.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, visits.ErrPatientIncomplete):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error().Err(err).Msg("Request failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// CORSMiddleware wraps a handler with CORS headers.
// If allowedOrigins is empty, no CORS header is set (same-origin only).
func CORSMiddleware(next http.Handler, allowedOrigins ...string) http.Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (allowed["*"] || allowed[origin]) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, ErrorResponse{Message: msg})
}
