// Package audit persists the vault's observability trail: an
// append-only JSONL stream of core operations under artifacts/audit/,
// and quarantine records for rejected inputs under
// artifacts/quarantine/. The stream is the primary surface for
// reconstructing any processing path from ingress to disk.
package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/steveyegge/mdvault/internal/atomicfile"
	"github.com/steveyegge/mdvault/internal/timeutil"
	"github.com/steveyegge/mdvault/internal/types"
)

// Outcomes recorded per operation.
const (
	OutcomeOK          = "ok"
	OutcomeError       = "error"
	OutcomeQuarantined = "quarantined"
	OutcomeDuplicate   = "duplicate"
	OutcomeConflict    = "conflict"
)

// Record is one line of the audit stream.
type Record struct {
	TS         string          `json:"ts"`
	TraceID    string          `json:"trace_id"`
	Op         string          `json:"op"`
	EntityID   string          `json:"entity_id,omitempty"`
	EventID    string          `json:"event_id,omitempty"`
	Outcome    string          `json:"outcome"`
	DurationMS int64           `json:"duration_ms"`
	Error      *ErrorDetail    `json:"error,omitempty"`
	Extra      json.RawMessage `json:"extra,omitempty"`
}

// ErrorDetail carries a structured failure on a non-ok outcome.
type ErrorDetail struct {
	Kind    string   `json:"kind"`
	Message string   `json:"message"`
	Fields  []string `json:"fields,omitempty"`
}

// Logger appends to the daily audit file and writes quarantine
// artifacts. Safe for concurrent use; appends are serialized.
type Logger struct {
	mu            sync.Mutex
	auditDir      string
	quarantineDir string
}

// New creates a Logger rooted at the vault's artifacts directory.
func New(artifactsDir string) *Logger {
	return &Logger{
		auditDir:      filepath.Join(artifactsDir, "audit"),
		quarantineDir: filepath.Join(artifactsDir, "quarantine"),
	}
}

// Append writes one record to today's audit file. The TS field is
// stamped here when empty.
func (l *Logger) Append(r Record) error {
	if r.TS == "" {
		r.TS = timeutil.Format(timeutil.Now())
	}
	line, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("audit: marshal: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.auditDir, 0o750); err != nil {
		return fmt.Errorf("audit: mkdir: %w", err)
	}
	name := time.Now().UTC().Format("2006-01-02") + ".jsonl"
	f, err := os.OpenFile(filepath.Join(l.auditDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640) // #nosec G304 - controlled path
	if err != nil {
		return fmt.Errorf("audit: open: %w", err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("audit: write: %w", err)
	}
	return nil
}

// Op starts timing an operation and returns a finish function that
// appends the record. Append failures are swallowed: the audit trail
// must never break the operation it describes.
func (l *Logger) Op(traceID, op, entityID string) func(outcome string, err error) {
	start := time.Now()
	return func(outcome string, opErr error) {
		r := Record{
			TraceID:    traceID,
			Op:         op,
			EntityID:   entityID,
			Outcome:    outcome,
			DurationMS: time.Since(start).Milliseconds(),
		}
		if opErr != nil {
			r.Error = describeError(opErr)
		}
		_ = l.Append(r)
	}
}

// OutcomeFor maps an operation error to its audit outcome.
func OutcomeFor(err error) string {
	if err == nil {
		return OutcomeOK
	}
	var ve *types.ValidationError
	var fe *types.FSMError
	if errors.As(err, &ve) || errors.As(err, &fe) {
		return OutcomeQuarantined
	}
	return OutcomeError
}

// QuarantineRecord is the JSON artifact persisted for a rejected input.
type QuarantineRecord struct {
	TS      string             `json:"ts"`
	TraceID string             `json:"trace_id"`
	Kind    string             `json:"kind"`
	Reason  string             `json:"reason"`
	Errors  []types.FieldError `json:"errors,omitempty"`
	Payload any                `json:"payload"`
}

// Quarantine persists the rejected payload and its error list under
// artifacts/quarantine/{timestamp}-{trace_id}-{kind}.json using the
// atomic write protocol. Entity files are never touched.
func (l *Logger) Quarantine(traceID string, kind types.Kind, payload any, errs []types.FieldError, reason string) (string, error) {
	now := timeutil.Now()
	rec := QuarantineRecord{
		TS:      timeutil.Format(now),
		TraceID: traceID,
		Kind:    string(kind),
		Reason:  reason,
		Errors:  errs,
		Payload: payload,
	}
	name := fmt.Sprintf("%s-%s-%s.json", now.Format("20060102T150405"), traceID, kind)
	path := filepath.Join(l.quarantineDir, name)
	if err := atomicfile.WriteJSON(path, rec, 0o640); err != nil {
		return "", fmt.Errorf("audit: quarantine: %w", err)
	}
	return path, nil
}

func describeError(err error) *ErrorDetail {
	switch e := err.(type) {
	case *types.ValidationError:
		d := &ErrorDetail{Kind: "validation_failed", Message: e.Error()}
		for _, fe := range e.Errors {
			if fe.Field != "" {
				d.Fields = append(d.Fields, fe.Field)
			}
		}
		return d
	case *types.FSMError:
		return &ErrorDetail{Kind: "fsm_guard_failed", Message: e.Error()}
	case *types.RemoteError:
		return &ErrorDetail{Kind: "remote_error", Message: e.Error()}
	default:
		return &ErrorDetail{Kind: "error", Message: err.Error()}
	}
}
