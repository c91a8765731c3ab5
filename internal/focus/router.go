package focus

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/lexiqai/clinic-gateway/internal/forms"
)

// Router directs raw transcript updates to the focused field of one form.
type Router struct {
	form   *forms.Form
	logger zerolog.Logger

	mu     sync.Mutex
	target Target
}

// NewRouter creates a router writing into form.
func NewRouter(form *forms.Form, logger zerolog.Logger) *Router {
	return &Router{form: form, logger: logger}
}

// SetFocus replaces the active target. A nil target clears focus.
func (r *Router) SetFocus(t Target) {
	r.mu.Lock()
	r.target = t
	r.mu.Unlock()
}

// ClearFocus drops the active target.
func (r *Router) ClearFocus() { r.SetFocus(nil) }

// Focus returns the active target, or nil.
func (r *Router) Focus() Target {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.target
}

// RouteText overwrites the focused field with text. It reports whether the form
// changed; with no focus or a stale list index the update is dropped.
func (r *Router) RouteText(text string) bool {
	target := r.Focus()

	var ok bool
	switch t := target.(type) {
	case nil:
		return false
	case FormField:
		r.form.Set(t.Path, text)
		ok = true
	case ListItem:
		ok = r.form.SetListItem(t.List, t.Index, text)
	case TableCell:
		ok = r.form.SetTableCell(t.List, t.Index, t.Column, text)
	}

	if !ok {
		r.logger.Debug().Str("target", target.String()).Msg("Dropped transcript for stale focus target")
	}
	return ok
}

// ListChanged is called after rows of list were added or removed. Focus on a row of
// that list at or after index is cleared, since the row it named has moved or gone.
func (r *Router) ListChanged(list string, index int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var focusedList string
	var focusedIndex int
	switch t := r.target.(type) {
	case ListItem:
		focusedList, focusedIndex = t.List, t.Index
	case TableCell:
		focusedList, focusedIndex = t.List, t.Index
	default:
		return
	}

	if focusedList == list && focusedIndex >= index {
		r.logger.Debug().Str("target", r.target.String()).Msg("Cleared focus after list mutation")
		r.target = nil
	}
}
