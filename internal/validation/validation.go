// Package validation enforces the entity schema and the task state
// machine. Validate runs the layered checks (schema, kind-specific,
// common business rules); Transition applies the FSM guard table and
// mutates guarded fields on success.
package validation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/steveyegge/mdvault/internal/types"
)

// estimateRe matches the compact estimate format: <int>(m|h|d).
var estimateRe = regexp.MustCompile(`^\d+[mhd]$`)

// requiredFields must be present on every entity header.
var requiredFields = []string{
	types.FieldID,
	types.FieldTitle,
	types.FieldCreatedTS,
	types.FieldUpdatedTS,
	types.FieldState,
	types.FieldTags,
}

// Validate runs the schema, kind-specific, and common business layers
// over the header. An empty result means valid.
func Validate(kind types.Kind, h types.Header) []types.FieldError {
	var errs []types.FieldError
	errs = append(errs, schemaLayer(kind, h)...)
	if len(errs) > 0 {
		// Kind and common layers assume a structurally sound header.
		return errs
	}
	errs = append(errs, kindLayer(kind, h)...)
	errs = append(errs, commonLayer(h)...)
	return errs
}

func schemaLayer(kind types.Kind, h types.Header) []types.FieldError {
	var errs []types.FieldError

	if !kind.IsValid() {
		errs = append(errs, types.FieldError{
			Category: types.CategorySchema,
			Message:  fmt.Sprintf("unknown entity kind %q", kind),
			Hint:     "kind must be one of task, note, event",
		})
		return errs
	}

	for _, f := range requiredFields {
		if _, ok := h[f]; !ok {
			errs = append(errs, types.FieldError{
				Category: types.CategorySchema,
				Field:    f,
				Message:  "required field missing",
				Hint:     "every entity header carries " + strings.Join(requiredFields, ", "),
			})
		}
	}
	if len(errs) > 0 {
		return errs
	}

	if _, ok := h[types.FieldTags].([]string); !ok {
		if _, anySlice := h[types.FieldTags].([]any); !anySlice {
			errs = append(errs, types.FieldError{
				Category: types.CategorySchema,
				Field:    types.FieldTags,
				Message:  fmt.Sprintf("tags must be a sequence, got %T", h[types.FieldTags]),
				Hint:     "use a YAML block list, possibly empty",
			})
		}
	}

	for _, f := range []string{
		types.FieldCreatedTS, types.FieldUpdatedTS, types.FieldDueTS,
		types.FieldStartTS, types.FieldEndTS, types.FieldDoneTS,
	} {
		raw, ok := h[f]
		if !ok {
			continue
		}
		s, isStr := raw.(string)
		if !isStr {
			errs = append(errs, types.FieldError{
				Category: types.CategorySchema,
				Field:    f,
				Message:  fmt.Sprintf("timestamp must be a string, got %T", raw),
			})
			continue
		}
		if _, err := h.Time(f); err != nil && s != "" {
			errs = append(errs, types.FieldError{
				Category: types.CategorySchema,
				Field:    f,
				Message:  fmt.Sprintf("not a UTC instant: %q", s),
				Hint:     "use ISO-8601 with an explicit +00:00 offset",
			})
		}
	}

	state := h.String(types.FieldState)
	if !contains(kind.States(), state) {
		errs = append(errs, types.FieldError{
			Category: types.CategorySchema,
			Field:    types.FieldState,
			Message:  fmt.Sprintf("state %q is not valid for kind %s", state, kind),
			Hint:     "allowed: " + strings.Join(kind.States(), ", "),
		})
	}

	return errs
}

func kindLayer(kind types.Kind, h types.Header) []types.FieldError {
	switch kind {
	case types.KindTask:
		return taskLayer(h)
	case types.KindEvent:
		return eventLayer(h)
	default:
		return nil
	}
}

func taskLayer(h types.Header) []types.FieldError {
	var errs []types.FieldError
	state := h.String(types.FieldState)

	if state == types.StateBlocked && h.String(types.FieldBlockedReason) == "" {
		errs = append(errs, types.FieldError{
			Category: types.CategoryTask,
			Field:    types.FieldBlockedReason,
			Message:  "blocked tasks require a blocked_reason",
			Hint:     "record why the task cannot proceed",
		})
	}
	if state == types.StateDone {
		if _, err := h.Time(types.FieldDoneTS); err != nil {
			errs = append(errs, types.FieldError{
				Category: types.CategoryTask,
				Field:    types.FieldDoneTS,
				Message:  "done tasks require done_ts",
				Hint:     "transitions to done set done_ts automatically",
			})
		}
	}
	if est := h.String(types.FieldEstimate); est != "" && !validEstimate(est) {
		errs = append(errs, types.FieldError{
			Category: types.CategoryTask,
			Field:    types.FieldEstimate,
			Message:  fmt.Sprintf("invalid estimate %q", est),
			Hint:     "use <int>(m|h|d), e.g. 90m, 3h, 2d, or a bare minute count",
		})
	}

	start, startErr := h.Time(types.FieldStartTS)
	done, doneErr := h.Time(types.FieldDoneTS)
	if startErr == nil && doneErr == nil && done.Before(start) {
		errs = append(errs, types.FieldError{
			Category: types.CategoryTask,
			Field:    types.FieldDoneTS,
			Message:  "done_ts precedes start_ts",
		})
	}
	return errs
}

func eventLayer(h types.Header) []types.FieldError {
	var errs []types.FieldError
	start, startErr := h.Time(types.FieldStartTS)
	end, endErr := h.Time(types.FieldEndTS)
	if startErr == nil && endErr == nil && end.Before(start) {
		errs = append(errs, types.FieldError{
			Category: types.CategoryEvent,
			Field:    types.FieldEndTS,
			Message:  "end_ts precedes start_ts",
			Hint:     "events require start_ts <= end_ts",
		})
	}
	return errs
}

func commonLayer(h types.Header) []types.FieldError {
	var errs []types.FieldError
	if strings.TrimSpace(h.String(types.FieldTitle)) == "" {
		errs = append(errs, types.FieldError{
			Category: types.CategoryCommon,
			Field:    types.FieldTitle,
			Message:  "title must be non-empty",
		})
	}
	created, cErr := h.Time(types.FieldCreatedTS)
	updated, uErr := h.Time(types.FieldUpdatedTS)
	if cErr == nil && uErr == nil && updated.Before(created) {
		errs = append(errs, types.FieldError{
			Category: types.CategoryCommon,
			Field:    types.FieldUpdatedTS,
			Message:  "updated_ts precedes created_ts",
		})
	}
	return errs
}

func validEstimate(est string) bool {
	if estimateRe.MatchString(est) {
		return true
	}
	// A bare numeric count of minutes is also accepted.
	n, err := strconv.Atoi(est)
	return err == nil && n >= 0
}

func contains(set []string, s string) bool {
	for _, e := range set {
		if e == s {
			return true
		}
	}
	return false
}
