package api

import "github.com/lexiqai/clinic-gateway/internal/visits"

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Message string `json:"message"`
}

// MessageResponse acknowledges an operation.
type MessageResponse struct {
	Message string `json:"message"`
}

// ExtractionRequest is the body of POST /api/medical-ai.
type ExtractionRequest struct {
	Transcript string `json:"transcript"`
	FormType   string `json:"formType"`
}

// CreateVisitRequest is the body of POST /api/visits/create/{patientId}.
type CreateVisitRequest struct {
	ChiefComplaint string `json:"chiefComplaint"`
}

// SaveFormRequest is the body of PUT /api/visits/{visitId}/forms/{formType}.
type SaveFormRequest struct {
	Data map[string]any `json:"data"`
}

type SaveFormResponse struct {
	Message string        `json:"message"`
	Visit   *visits.Visit `json:"visit"`
}

type DischargeSummaryResponse struct {
	Message string                   `json:"message"`
	Summary *visits.DischargeSummary `json:"summary"`
}
