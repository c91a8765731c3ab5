// Package visits persists patients and their visits, one slot per clinical
// form, and implements the visit selection policy used when a form is opened.
package visits

import (
	"errors"
	"fmt"
	"time"

	"github.com/lexiqai/clinic-gateway/internal/forms"
)

var (
	// ErrNotFound is wrapped by every lookup failure below.
	ErrNotFound          = errors.New("not found")
	ErrVisitNotFound     = fmt.Errorf("visit %w", ErrNotFound)
	ErrPatientNotFound   = fmt.Errorf("patient %w", ErrNotFound)
	ErrInvalidFormType   = fmt.Errorf("form type %w", ErrNotFound)
	ErrPatientIncomplete = errors.New("patient first and last name are required")
)

// DefaultChiefComplaint is used when a visit is created without one.
const DefaultChiefComplaint = "Visit"

type VisitStatus string

const (
	StatusActive     VisitStatus = "Active"
	StatusDischarged VisitStatus = "Discharged"
)

type SlotStatus string

const (
	NotStarted SlotStatus = "NotStarted"
	InProgress SlotStatus = "InProgress"
	Completed  SlotStatus = "Completed"
)

// FormSlot is a visit's storage for one form.
type FormSlot struct {
	Status      SlotStatus     `json:"status"`
	Data        map[string]any `json:"data"`
	LastUpdated *time.Time     `json:"lastUpdated"`
}

// Visit is one clinical encounter. Forms always holds every slot in forms.Slots.
type Visit struct {
	ID             string                  `json:"id"`
	PatientID      string                  `json:"patientId"`
	VisitNumber    int                     `json:"visitNumber"`
	ChiefComplaint string                  `json:"chiefComplaint"`
	Status         VisitStatus             `json:"status"`
	VisitDate      time.Time               `json:"visitDate"`
	DischargeDate  *time.Time              `json:"dischargeDate"`
	Forms          map[forms.Slot]FormSlot `json:"forms"`
	CreatedAt      time.Time               `json:"createdAt"`
	UpdatedAt      time.Time               `json:"updatedAt"`
}

func emptySlots() map[forms.Slot]FormSlot {
	slots := make(map[forms.Slot]FormSlot, len(forms.Slots()))
	for _, slot := range forms.Slots() {
		slots[slot] = FormSlot{Status: NotStarted}
	}
	return slots
}

// normalizeSlots fills any slot missing from a stored visit.
func normalizeSlots(slots map[forms.Slot]FormSlot) map[forms.Slot]FormSlot {
	if slots == nil {
		return emptySlots()
	}
	for _, slot := range forms.Slots() {
		if _, ok := slots[slot]; !ok {
			slots[slot] = FormSlot{Status: NotStarted}
		}
	}
	return slots
}

// Patient is the minimal patient record visits hang off.
type Patient struct {
	ID          string    `json:"id"`
	MedicalID   string    `json:"medicalId"`
	DoctorID    string    `json:"doctorId"`
	FirstName   string    `json:"firstName"`
	LastName    string    `json:"lastName"`
	Email       string    `json:"email,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	DateOfBirth string    `json:"dateOfBirth,omitempty"`
	Gender      string    `json:"gender,omitempty"`
	Address     string    `json:"address,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// FullName joins first and last name.
func (p Patient) FullName() string {
	return p.FirstName + " " + p.LastName
}

// DisplayStatus is the status the UI shows for a slot. Only Completed is ever
// persisted; InProgress is inferred from an unsaved draft with content.
func DisplayStatus(slot FormSlot, draft map[string]any) SlotStatus {
	if slot.Status == Completed {
		return Completed
	}
	if forms.HasContent(draft) {
		return InProgress
	}
	return NotStarted
}

// DischargeSummary is a snapshot of a visit for the discharge document.
type DischargeSummary struct {
	Patient struct {
		Name        string `json:"name"`
		MedicalID   string `json:"medicalId"`
		DateOfBirth string `json:"dateOfBirth,omitempty"`
		Gender      string `json:"gender,omitempty"`
	} `json:"patientInfo"`
	Visit struct {
		VisitNumber    int         `json:"visitNumber"`
		VisitDate      time.Time   `json:"visitDate"`
		DischargeDate  *time.Time  `json:"dischargeDate"`
		ChiefComplaint string      `json:"chiefComplaint"`
		Status         VisitStatus `json:"status"`
	} `json:"visitInfo"`
	Forms       map[forms.Slot]FormSlot `json:"forms"`
	GeneratedAt time.Time               `json:"generatedAt"`
}
