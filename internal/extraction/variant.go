package extraction

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"

	"github.com/lexiqai/clinic-gateway/internal/forms"
)

// Variant is an extraction result decoded for one form kind. Keys outside the
// kind's documented set are ignored.
type Variant interface {
	Kind() forms.Kind
	// Fields maps the result onto form paths, ready for forms.Populator.
	Fields() map[string]any
}

type MedicalHistory struct {
	ChiefComplaint          string `mapstructure:"chief_complaint"`
	HistoryOfPresentIllness string `mapstructure:"history_of_present_illness"`
	PastMedicalHistory      string `mapstructure:"past_medical_history"`
	Allergies               string `mapstructure:"allergies"`
	CurrentMedications      string `mapstructure:"current_medications"`
}

func (MedicalHistory) Kind() forms.Kind { return forms.KindMedicalHistory }

func (v MedicalHistory) Fields() map[string]any {
	return map[string]any{
		"chiefComplaint":          v.ChiefComplaint,
		"historyOfPresentIllness": v.HistoryOfPresentIllness,
		"pastMedicalHistory":      v.PastMedicalHistory,
		"allergies":               v.Allergies,
		"medications":             v.CurrentMedications,
	}
}

type VitalSigns struct {
	BloodPressure    string `mapstructure:"bloodPressure"`
	HeartRate        string `mapstructure:"heartRate"`
	RespiratoryRate  string `mapstructure:"respiratoryRate"`
	Temperature      string `mapstructure:"temperature"`
	OxygenSaturation string `mapstructure:"oxygenSaturation"`
}

type ClinicalExamination struct {
	GeneralExamination  string            `mapstructure:"general_examination"`
	VitalSigns          VitalSigns        `mapstructure:"vital_signs"`
	SystemicExamination map[string]string `mapstructure:"systemic_examination"`
}

func (ClinicalExamination) Kind() forms.Kind { return forms.KindClinicalExamination }

func (v ClinicalExamination) Fields() map[string]any {
	systemic := make(map[string]any, len(v.SystemicExamination))
	for system, finding := range v.SystemicExamination {
		systemic[system] = finding
	}
	return map[string]any{
		"generalAppearance.notes": v.GeneralExamination,
		"vitalSigns": map[string]any{
			"bloodPressure":    v.VitalSigns.BloodPressure,
			"heartRate":        v.VitalSigns.HeartRate,
			"respiratoryRate":  v.VitalSigns.RespiratoryRate,
			"temperature":      v.VitalSigns.Temperature,
			"oxygenSaturation": v.VitalSigns.OxygenSaturation,
		},
		"systemicExamination": systemic,
	}
}

type DiagnosisTreatment struct {
	Diagnosis             string `mapstructure:"diagnosis"`
	TreatmentGiven        string `mapstructure:"treatment_given"`
	MedicationsPrescribed string `mapstructure:"medications_prescribed"`
	AdviceAndFollowUp     string `mapstructure:"advice_and_follow_up"`
}

func (DiagnosisTreatment) Kind() forms.Kind { return forms.KindDiagnosisTreatment }

func (v DiagnosisTreatment) Fields() map[string]any {
	return map[string]any{
		"primaryDiagnosis": v.Diagnosis,
		"treatmentPlan":    v.TreatmentGiven,
		"medications":      v.MedicationsPrescribed,
		"followUpPlan":     v.AdviceAndFollowUp,
	}
}

type Discharge struct {
	AdmissionReason      string `mapstructure:"admission_reason"`
	FinalDiagnosis       string `mapstructure:"final_diagnosis"`
	TreatmentSummary     string `mapstructure:"treatment_summary"`
	DischargeMedications string `mapstructure:"discharge_medications"`
	FollowUpInstructions string `mapstructure:"follow_up_instructions"`
}

func (Discharge) Kind() forms.Kind { return forms.KindDischarge }

func (v Discharge) Fields() map[string]any {
	var further []string
	if v.DischargeMedications != "" {
		further = append(further, "Medications: "+v.DischargeMedications)
	}
	if v.FollowUpInstructions != "" {
		further = append(further, "Follow-up: "+v.FollowUpInstructions)
	}
	return map[string]any{
		"reasonForAdmission":   v.AdmissionReason,
		"diagnosisAtDischarge": v.FinalDiagnosis,
		"treatmentSummary":     v.TreatmentSummary,
		"furtherTreatmentPlan": strings.Join(further, "\n"),
	}
}

type PatientRegistration struct {
	FirstName   string `mapstructure:"firstName"`
	LastName    string `mapstructure:"lastName"`
	Email       string `mapstructure:"email"`
	Phone       string `mapstructure:"phone"`
	DateOfBirth string `mapstructure:"dateOfBirth"`
	Gender      string `mapstructure:"gender"`
	Address     string `mapstructure:"address"`
}

func (PatientRegistration) Kind() forms.Kind { return forms.KindPatientRegistration }

func (v PatientRegistration) Fields() map[string]any {
	return map[string]any{
		"firstName":   v.FirstName,
		"lastName":    v.LastName,
		"email":       v.Email,
		"phone":       v.Phone,
		"dateOfBirth": v.DateOfBirth,
		"gender":      v.Gender,
		"address":     v.Address,
	}
}

// Generic carries a result for a form kind with no documented key set. Its keys
// are applied as they came back.
type Generic struct {
	FormKind forms.Kind
	Data     Result
}

func (g Generic) Kind() forms.Kind { return g.FormKind }

func (g Generic) Fields() map[string]any { return g.Data }

// Decode converts a result into the variant for kind.
func Decode(kind forms.Kind, result Result) (Variant, error) {
	switch kind {
	case forms.KindMedicalHistory:
		return decodeInto[MedicalHistory](result)
	case forms.KindClinicalExamination:
		return decodeInto[ClinicalExamination](result)
	case forms.KindDiagnosisTreatment:
		return decodeInto[DiagnosisTreatment](result)
	case forms.KindDischarge:
		return decodeInto[Discharge](result)
	case forms.KindPatientRegistration:
		return decodeInto[PatientRegistration](result)
	}
	return Generic{FormKind: kind, Data: result}, nil
}

func decodeInto[T Variant](result Result) (Variant, error) {
	var v T
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       joinListHook,
		WeaklyTypedInput: true,
		Result:           &v,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(map[string]any(result)); err != nil {
		return nil, fmt.Errorf("decode %s result: %w", v.Kind(), err)
	}
	return v, nil
}

// joinListHook lets a text field accept a JSON array, joining its items with ", "
// so list-valued answers such as ["penicillin", "latex"] fit the comma convention.
func joinListHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to.Kind() != reflect.String || from.Kind() != reflect.Slice {
		return data, nil
	}
	items, ok := data.([]any)
	if !ok {
		return data, nil
	}
	parts := make([]string, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		if s := strings.TrimSpace(fmt.Sprint(item)); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", "), nil
}
