package visits

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lexiqai/clinic-gateway/internal/forms"
	"github.com/lexiqai/clinic-gateway/internal/observability"
)

// Service implements the visit operations on top of a Store.
type Service struct {
	store  Store
	logger zerolog.Logger
	now    func() time.Time

	// Per-patient locks serialise visit creation so that resolve-then-create
	// cannot produce two visits for one form open.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService creates a visit service.
func NewService(store Store, logger zerolog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger.With().Str("component", "visits").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
		locks:  make(map[string]*sync.Mutex),
	}
}

func (s *Service) lockPatient(patientID string) func() {
	s.mu.Lock()
	l, ok := s.locks[patientID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[patientID] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Ping checks the underlying store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// CreatePatient stores a new patient, assigning its ID and medical ID.
func (s *Service) CreatePatient(ctx context.Context, p Patient) (*Patient, error) {
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	if p.FirstName == "" || p.LastName == "" {
		return nil, ErrPatientIncomplete
	}

	p.ID = uuid.New().String()
	p.CreatedAt = s.now()
	if err := s.store.CreatePatient(ctx, &p); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("patient_id", p.ID).
		Str("medical_id", p.MedicalID).
		Msg("Patient created")
	return &p, nil
}

const medicalIDDigits = 6

// MedicalID formats the human-readable patient identifier: the year followed by
// a zero-padded sequence number.
func MedicalID(year, seq int) string {
	return fmt.Sprintf("%d%0*d", year, medicalIDDigits, seq)
}

func (s *Service) GetPatient(ctx context.Context, id string) (*Patient, error) {
	return s.store.GetPatient(ctx, id)
}

// DeletePatient removes a patient and all of their visits.
func (s *Service) DeletePatient(ctx context.Context, id string) error {
	if err := s.store.DeletePatient(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Str("patient_id", id).Msg("Patient deleted")
	return nil
}

// CreateVisit opens a new Active visit with the patient's next visit number
// and all slots empty.
func (s *Service) CreateVisit(ctx context.Context, patientID, chiefComplaint string) (*Visit, error) {
	unlock := s.lockPatient(patientID)
	defer unlock()
	return s.createVisit(ctx, patientID, chiefComplaint)
}

func (s *Service) createVisit(ctx context.Context, patientID, chiefComplaint string) (*Visit, error) {
	if _, err := s.store.GetPatient(ctx, patientID); err != nil {
		return nil, err
	}

	chiefComplaint = strings.TrimSpace(chiefComplaint)
	if chiefComplaint == "" {
		chiefComplaint = DefaultChiefComplaint
	}

	now := s.now()
	v := &Visit{
		ID:             uuid.New().String(),
		PatientID:      patientID,
		ChiefComplaint: chiefComplaint,
		Status:         StatusActive,
		VisitDate:      now,
		Forms:          emptySlots(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateVisit(ctx, v); err != nil {
		return nil, err
	}

	observability.RecordVisitCreated()
	s.logger.Info().
		Str("patient_id", patientID).
		Str("visit_id", v.ID).
		Int("visit_number", v.VisitNumber).
		Msg("Visit created")
	return v, nil
}

// Get returns one visit.
func (s *Service) Get(ctx context.Context, visitID string) (*Visit, error) {
	return s.store.GetVisit(ctx, visitID)
}

// ListForPatient returns the patient's visits, newest first.
func (s *Service) ListForPatient(ctx context.Context, patientID string) ([]Visit, error) {
	if _, err := s.store.GetPatient(ctx, patientID); err != nil {
		return nil, err
	}
	visits, err := s.store.ListVisits(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if visits == nil {
		visits = []Visit{}
	}
	return visits, nil
}

// ResolveCurrentVisit picks the visit a form page should write into: the most
// recent Active visit, otherwise the most recent visit of any status.
// ErrVisitNotFound means the caller has to create one.
func (s *Service) ResolveCurrentVisit(ctx context.Context, patientID string) (*Visit, error) {
	visits, err := s.store.ListVisits(ctx, patientID)
	if err != nil {
		return nil, err
	}
	return SelectCurrent(visits)
}

// SelectCurrent applies the selection policy to visits ordered newest first.
func SelectCurrent(visits []Visit) (*Visit, error) {
	if len(visits) == 0 {
		return nil, ErrVisitNotFound
	}
	for i := range visits {
		if visits[i].Status == StatusActive {
			return &visits[i], nil
		}
	}
	return &visits[0], nil
}

// CurrentOrCreate resolves the current visit, creating the patient's first
// visit when none exists.
func (s *Service) CurrentOrCreate(ctx context.Context, patientID string) (*Visit, error) {
	unlock := s.lockPatient(patientID)
	defer unlock()

	v, err := s.ResolveCurrentVisit(ctx, patientID)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, ErrVisitNotFound) {
		return nil, err
	}
	return s.createVisit(ctx, patientID, "")
}

// SaveForm overwrites one slot of a visit, marking it Completed.
func (s *Service) SaveForm(ctx context.Context, visitID, slotKey string, data map[string]any) (*Visit, error) {
	slot, ok := forms.ParseSlot(slotKey)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFormType, slotKey)
	}

	v, err := s.store.GetVisit(ctx, visitID)
	if err != nil {
		return nil, err
	}

	unlock := s.lockPatient(v.PatientID)
	defer unlock()

	// Re-read under the patient lock so concurrent saves to other slots survive.
	v, err = s.store.GetVisit(ctx, visitID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if data == nil {
		data = map[string]any{}
	}
	v.Forms[slot] = FormSlot{Status: Completed, Data: data, LastUpdated: &now}
	v.UpdatedAt = now
	if err := s.store.UpdateVisit(ctx, v); err != nil {
		return nil, err
	}

	observability.RecordFormSave(string(slot))
	s.logger.Info().
		Str("visit_id", visitID).
		Str("slot", string(slot)).
		Msg("Form saved")
	return v, nil
}

// Discharge marks a visit Discharged and stamps the discharge date.
func (s *Service) Discharge(ctx context.Context, visitID string) (*Visit, error) {
	v, err := s.store.GetVisit(ctx, visitID)
	if err != nil {
		return nil, err
	}

	unlock := s.lockPatient(v.PatientID)
	defer unlock()

	v, err = s.store.GetVisit(ctx, visitID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	v.Status = StatusDischarged
	v.DischargeDate = &now
	v.UpdatedAt = now
	if err := s.store.UpdateVisit(ctx, v); err != nil {
		return nil, err
	}

	s.logger.Info().Str("visit_id", visitID).Msg("Visit discharged")
	return v, nil
}

// DischargeSummary builds the discharge document snapshot for a visit.
func (s *Service) DischargeSummary(ctx context.Context, visitID string) (*DischargeSummary, error) {
	v, err := s.store.GetVisit(ctx, visitID)
	if err != nil {
		return nil, err
	}
	p, err := s.store.GetPatient(ctx, v.PatientID)
	if err != nil {
		return nil, err
	}

	var sum DischargeSummary
	sum.Patient.Name = p.FullName()
	sum.Patient.MedicalID = p.MedicalID
	sum.Patient.DateOfBirth = p.DateOfBirth
	sum.Patient.Gender = p.Gender
	sum.Visit.VisitNumber = v.VisitNumber
	sum.Visit.VisitDate = v.VisitDate
	sum.Visit.DischargeDate = v.DischargeDate
	sum.Visit.ChiefComplaint = v.ChiefComplaint
	sum.Visit.Status = v.Status
	sum.Forms = v.Forms
	sum.GeneratedAt = s.now()
	return &sum, nil
}
