package extraction

import (
	"fmt"
	"strings"

	"github.com/lexiqai/clinic-gateway/internal/forms"
)

// Scope selects how much of an extraction result is applied to a form.
type Scope string

const (
	// ScopeForm applies the whole result to the form it was extracted for.
	ScopeForm Scope = ""
	// ScopeAssessment writes a diagnosis-treatment diagnosis into "assessment".
	ScopeAssessment Scope = "assessment"
	// ScopePlan writes treatment, prescriptions and follow-up into "plan".
	ScopePlan Scope = "plan"
)

// ParseScope validates a scope name.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeForm, ScopeAssessment, ScopePlan:
		return Scope(s), nil
	}
	return "", fmt.Errorf("unknown extraction scope %q", s)
}

// Kind is the form type to request for this scope. Field scopes always ask for a
// diagnosis-treatment extraction, whatever form they are filling.
func (s Scope) Kind(formKind forms.Kind) forms.Kind {
	if s == ScopeForm {
		return formKind
	}
	return forms.KindDiagnosisTreatment
}

// Fields decodes result and returns the form paths this scope writes.
func (s Scope) Fields(kind forms.Kind, result Result) (map[string]any, error) {
	v, err := Decode(kind, result)
	if err != nil {
		return nil, err
	}
	if s == ScopeForm {
		return v.Fields(), nil
	}

	dt, ok := v.(DiagnosisTreatment)
	if !ok {
		return nil, fmt.Errorf("scope %s needs a %s result, got %s", s, forms.KindDiagnosisTreatment, kind)
	}
	switch s {
	case ScopeAssessment:
		return Assessment(dt), nil
	default:
		return Plan(dt), nil
	}
}

// Assessment projects a diagnosis onto the examination form's assessment field.
func Assessment(v DiagnosisTreatment) map[string]any {
	return map[string]any{"assessment": v.Diagnosis}
}

// Plan joins the non-empty treatment, prescription and follow-up lines.
func Plan(v DiagnosisTreatment) map[string]any {
	var lines []string
	for _, s := range []string{v.TreatmentGiven, v.MedicationsPrescribed, v.AdviceAndFollowUp} {
		if strings.TrimSpace(s) != "" {
			lines = append(lines, s)
		}
	}
	return map[string]any{"plan": strings.Join(lines, "\n")}
}
