package framework

import (
	"fmt"
	"strings"
)

// ValidationError reports malformed or missing input detected before any
// stage runs. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// ExtractionError reports that no usable text could be obtained from a
// document. SkippedPages lists the 1-based pages that failed recognition.
type ExtractionError struct {
	Reason       string
	SkippedPages []int
	Err          error
}

func (e *ExtractionError) Error() string {
	var b strings.Builder
	b.WriteString("document extraction failed: ")
	b.WriteString(e.Reason)
	if len(e.SkippedPages) > 0 {
		fmt.Fprintf(&b, " (unreadable pages: %v)", e.SkippedPages)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// StateError reports an operation requested against a run that has not
// reached the state it requires.
type StateError struct {
	Operation string
	Reason    string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s not allowed: %s", e.Operation, e.Reason)
}
