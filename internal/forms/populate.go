package forms

import (
	"strings"

	"github.com/samber/lo"
)

// DefaultListKeys are the top-level fields whose comma-separated text is stored as a list.
var DefaultListKeys = []string{"allergies", "medications", "medicalConditions"}

// Populator merges extraction payloads into a form.
type Populator struct {
	listKeys map[string]struct{}
}

// NewPopulator returns a populator that splits the given top-level keys on commas.
// With no keys, DefaultListKeys is used.
func NewPopulator(listKeys ...string) *Populator {
	if len(listKeys) == 0 {
		listKeys = DefaultListKeys
	}
	p := &Populator{listKeys: make(map[string]struct{}, len(listKeys))}
	for _, k := range listKeys {
		p.listKeys[k] = struct{}{}
	}
	return p
}

// PopulatorFor returns the populator for a form kind. Only the medical history
// form stores its allergy and medication entries as lists; elsewhere those keys
// are plain text fields.
func PopulatorFor(kind Kind) *Populator {
	if kind == KindMedicalHistory {
		return NewPopulator(DefaultListKeys...)
	}
	return &Populator{listKeys: map[string]struct{}{}}
}

// Populate deep-applies payload onto form and returns the dotted paths it wrote.
//
// Nested objects recurse with an extended prefix and dotted keys are expanded, so
// {"a.b": 1} and {"a": {"b": 1}} land in the same place. Arrays are written whole.
// Null and empty-string leaves are skipped: fields absent from the payload, or
// present without a value, keep whatever the form already holds.
func (p *Populator) Populate(form *Form, payload map[string]any) []string {
	var written []string
	p.walk(form, "", payload, &written)
	return written
}

func (p *Populator) walk(form *Form, prefix string, obj map[string]any, written *[]string) {
	for key, value := range obj {
		path := joinPath(prefix, key)
		if path == "" {
			continue
		}

		switch v := value.(type) {
		case nil:
			continue
		case map[string]any:
			p.walk(form, path, v, written)
		case string:
			if strings.TrimSpace(v) == "" {
				continue
			}
			if _, ok := p.listKeys[path]; ok {
				form.Set(path, SplitList(v))
			} else {
				form.Set(path, v)
			}
			*written = append(*written, path)
		default:
			form.Set(path, v)
			*written = append(*written, path)
		}
	}
}

// SplitList turns "a, b,,c " into ["a", "b", "c"].
func SplitList(text string) []any {
	items := lo.FilterMap(strings.Split(text, ","), func(item string, _ int) (any, bool) {
		item = strings.TrimSpace(item)
		return item, item != ""
	})
	if items == nil {
		items = []any{}
	}
	return items
}

func joinPath(prefix, key string) string {
	key = strings.Trim(key, ".")
	switch {
	case key == "":
		return prefix
	case prefix == "":
		return key
	}
	return prefix + "." + key
}
