// Package forms holds the in-memory clinical form document that dictation and
// extraction results are written into, and the populator that merges them.
package forms

// Kind is the form-type tag sent to the extraction endpoint.
type Kind string

const (
	KindPatientRegistration Kind = "patient-registration"
	KindMedicalHistory      Kind = "medical-history"
	KindClinicalExamination Kind = "clinical-examination"
	KindDiagnosisTreatment  Kind = "diagnosis-treatment"
	KindDischarge           Kind = "discharge-form"
)

// Known reports whether k is one of the documented extraction form types.
func (k Kind) Known() bool {
	switch k {
	case KindPatientRegistration, KindMedicalHistory, KindClinicalExamination,
		KindDiagnosisTreatment, KindDischarge:
		return true
	}
	return false
}

// Slot is the key of a visit's per-form storage unit.
type Slot string

const (
	SlotMedicalHistory      Slot = "medicalHistory"
	SlotClinicalExamination Slot = "clinicalExamination"
	SlotDiagnosisTreatment  Slot = "diagnosisTreatment"
	SlotDischarge           Slot = "dischargeForm"
)

// Slots lists every visit slot in the order the UI suggests filling them.
func Slots() []Slot {
	return []Slot{SlotMedicalHistory, SlotClinicalExamination, SlotDiagnosisTreatment, SlotDischarge}
}

// ParseSlot validates a slot key.
func ParseSlot(s string) (Slot, bool) {
	for _, slot := range Slots() {
		if string(slot) == s {
			return slot, true
		}
	}
	return "", false
}

// Kind returns the extraction form type used when dictating into this slot.
func (s Slot) Kind() Kind {
	switch s {
	case SlotMedicalHistory:
		return KindMedicalHistory
	case SlotClinicalExamination:
		return KindClinicalExamination
	case SlotDiagnosisTreatment:
		return KindDiagnosisTreatment
	case SlotDischarge:
		return KindDischarge
	}
	return ""
}
