package types

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the simple failure kinds. Callers test with
// errors.Is; the structured kinds below carry their own payloads.
var (
	ErrNotFound       = errors.New("entity not found")
	ErrLockTimeout    = errors.New("lock acquisition timed out")
	ErrDuplicateEvent = errors.New("duplicate event")
)

// Category tags a validation finding with the layer that produced it.
type Category string

const (
	CategorySchema Category = "Schema"
	CategoryTask   Category = "Task"
	CategoryNote   Category = "Note"
	CategoryEvent  Category = "Event"
	CategoryCommon Category = "Common"
	CategoryFSM    Category = "FSM"
)

// FieldError is a single validation finding with a remediation hint.
type FieldError struct {
	Category Category `json:"category"`
	Field    string   `json:"field,omitempty"`
	Message  string   `json:"message"`
	Hint     string   `json:"hint,omitempty"`
}

func (e FieldError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Category))
	if e.Field != "" {
		b.WriteString("/" + e.Field)
	}
	b.WriteString(": " + e.Message)
	if e.Hint != "" {
		b.WriteString(" (" + e.Hint + ")")
	}
	return b.String()
}

// ValidationError aggregates the findings of a failed validation pass.
// The entity is quarantined and no file is written.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		msgs[i] = fe.Error()
	}
	return fmt.Sprintf("validation_failed: %s", strings.Join(msgs, "; "))
}

// FSMError reports a rejected state transition. No state is mutated
// and no file is written when this is returned.
type FSMError struct {
	EntityID string
	From     string
	To       string
	Reason   string
}

func (e *FSMError) Error() string {
	return fmt.Sprintf("fsm_guard_failed: %s: %s -> %s: %s", e.EntityID, e.From, e.To, e.Reason)
}

// RemoteError wraps a failure from an external sync collaborator. The
// bus treats it as retryable; after backoff exhaustion the event is
// dead-lettered.
type RemoteError struct {
	Source string
	Op     string
	Err    error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote_error: %s %s: %v", e.Source, e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is the missing-entity sentinel.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRetryable reports whether an error should be retried by the bus
// backoff policy rather than surfaced immediately.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrLockTimeout) {
		return true
	}
	var re *RemoteError
	return errors.As(err, &re)
}
