package forms

import (
	"strings"
	"sync"
)

// Form is a JSON-shaped field set: nested map[string]any objects, []any lists and
// scalar leaves. It is safe for concurrent use.
type Form struct {
	mu   sync.RWMutex
	data map[string]any
}

// New returns an empty form.
func New() *Form {
	return &Form{data: make(map[string]any)}
}

// FromData returns a form holding a deep copy of data. A nil map yields an empty form.
func FromData(data map[string]any) *Form {
	f := New()
	for k, v := range data {
		f.data[k] = clone(v)
	}
	return f
}

// Data returns a deep copy of the field set.
func (f *Form) Data() map[string]any {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return clone(f.data).(map[string]any)
}

// Get returns the value at a dotted path.
func (f *Form) Get(path string) (any, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var cur any = f.data
	for _, key := range splitPath(path) {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = obj[key]; !ok {
			return nil, false
		}
	}
	return clone(cur), true
}

// String returns the string at path, or "" when absent or not a string.
func (f *Form) String(path string) string {
	v, _ := f.Get(path)
	s, _ := v.(string)
	return s
}

// Set writes value at a dotted path, creating intermediate objects as needed.
// A non-object value sitting where an intermediate object is needed is replaced.
func (f *Form) Set(path string, value any) {
	keys := splitPath(path)
	if len(keys) == 0 {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	setIn(f.data, keys, clone(value))
}

// SetListItem overwrites element index of the flat list name. It reports false,
// leaving the form untouched, when the list is missing or index is out of range.
func (f *Form) SetListItem(name string, index int, text string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	list, ok := lookup(f.data, splitPath(name)).([]any)
	if !ok || index < 0 || index >= len(list) {
		return false
	}
	list[index] = text
	return true
}

// SetTableCell overwrites column of row index in the structured list name.
func (f *Form) SetTableCell(name string, index int, column, text string) bool {
	if column == "" {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	list, ok := lookup(f.data, splitPath(name)).([]any)
	if !ok || index < 0 || index >= len(list) {
		return false
	}
	row, ok := list[index].(map[string]any)
	if !ok {
		return false
	}
	row[column] = text
	return true
}

// Len returns the length of the list at path, or -1 if there is no list there.
func (f *Form) Len(path string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()

	list, ok := lookup(f.data, splitPath(path)).([]any)
	if !ok {
		return -1
	}
	return len(list)
}

// AppendRow adds a row to the list at path, creating the list when missing.
func (f *Form) AppendRow(path string, row any) {
	keys := splitPath(path)
	if len(keys) == 0 {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	list, _ := lookup(f.data, keys).([]any)
	setIn(f.data, keys, append(list, clone(row)))
}

// RemoveRow deletes element index from the list at path.
func (f *Form) RemoveRow(path string, index int) bool {
	keys := splitPath(path)

	f.mu.Lock()
	defer f.mu.Unlock()

	list, ok := lookup(f.data, keys).([]any)
	if !ok || index < 0 || index >= len(list) {
		return false
	}
	trimmed := make([]any, 0, len(list)-1)
	trimmed = append(trimmed, list[:index]...)
	trimmed = append(trimmed, list[index+1:]...)
	setIn(f.data, keys, trimmed)
	return true
}

// HasContent reports whether any leaf of the form is a non-empty value.
func (f *Form) HasContent() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return HasContent(f.data)
}

// HasContent reports whether v holds at least one non-blank leaf.
func HasContent(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(t) != ""
	case map[string]any:
		for _, child := range t {
			if HasContent(child) {
				return true
			}
		}
		return false
	case []any:
		for _, child := range t {
			if HasContent(child) {
				return true
			}
		}
		return false
	case []string:
		for _, child := range t {
			if strings.TrimSpace(child) != "" {
				return true
			}
		}
		return false
	}
	return true
}

func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	parts := strings.Split(path, ".")
	keys := parts[:0]
	for _, p := range parts {
		if p != "" {
			keys = append(keys, p)
		}
	}
	return keys
}

func lookup(root map[string]any, keys []string) any {
	var cur any = root
	for _, key := range keys {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = obj[key]
	}
	return cur
}

func setIn(root map[string]any, keys []string, value any) {
	obj := root
	for _, key := range keys[:len(keys)-1] {
		next, ok := obj[key].(map[string]any)
		if !ok {
			next = make(map[string]any)
			obj[key] = next
		}
		obj = next
	}
	obj[keys[len(keys)-1]] = value
}

// clone deep-copies JSON-shaped values so callers never share backing maps or slices.
func clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			out[k] = clone(child)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = clone(child)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, row := range t {
			out[i] = clone(row)
		}
		return out
	}
	return v
}
