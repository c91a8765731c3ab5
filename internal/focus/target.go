// Package focus tracks which field of a form live dictation is written into.
package focus

import (
	"encoding/json"
	"fmt"
)

// Target is where raw transcript text is routed. The set of implementations is
// closed: FormField, ListItem and TableCell.
type Target interface {
	isTarget()
	String() string
}

// FormField is a dotted path into the form's field set.
type FormField struct {
	Path string
}

// ListItem is one entry of a flat string list (allergies, medications, conditions).
type ListItem struct {
	List  string
	Index int
}

// TableCell is one column of one row of a structured list (surgeries, family history).
type TableCell struct {
	List   string
	Index  int
	Column string
}

func (FormField) isTarget() {}
func (ListItem) isTarget()  {}
func (TableCell) isTarget() {}

func (t FormField) String() string { return t.Path }
func (t ListItem) String() string  { return fmt.Sprintf("%s[%d]", t.List, t.Index) }
func (t TableCell) String() string { return fmt.Sprintf("%s[%d].%s", t.List, t.Index, t.Column) }

// Wire is the JSON form of a Target: {"type":"field","path":...},
// {"type":"list","list":...,"index":...} or {"type":"table","list":...,"index":...,"column":...}.
type Wire struct {
	Type   string `json:"type"`
	Path   string `json:"path,omitempty"`
	List   string `json:"list,omitempty"`
	Index  int    `json:"index"`
	Column string `json:"column,omitempty"`
}

// Decode converts a wire target into a Target.
func (w Wire) Decode() (Target, error) {
	switch w.Type {
	case "field":
		if w.Path == "" {
			return nil, fmt.Errorf("focus: field target needs a path")
		}
		return FormField{Path: w.Path}, nil
	case "list":
		if w.List == "" {
			return nil, fmt.Errorf("focus: list target needs a list name")
		}
		return ListItem{List: w.List, Index: w.Index}, nil
	case "table":
		if w.List == "" || w.Column == "" {
			return nil, fmt.Errorf("focus: table target needs a list name and column")
		}
		return TableCell{List: w.List, Index: w.Index, Column: w.Column}, nil
	}
	return nil, fmt.Errorf("focus: unknown target type %q", w.Type)
}

// ParseTarget decodes a JSON wire target.
func ParseTarget(raw json.RawMessage) (Target, error) {
	var w Wire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("focus: decode target: %w", err)
	}
	return w.Decode()
}
