// Package extraction turns a finished dictation into structured form fields by
// calling the medical extraction endpoint.
package extraction

import "errors"

var (
	// ErrExtractionFailed covers every unusable outcome: transport failure,
	// non-2xx status, malformed JSON or a body that is not an object.
	ErrExtractionFailed = errors.New("extraction failed")

	// ErrEmptyTranscript is returned when the transcript is blank after trimming.
	ErrEmptyTranscript = errors.New("transcript is empty")
)
