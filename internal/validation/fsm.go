package validation

import (
	"fmt"
	"time"

	"github.com/steveyegge/mdvault/internal/types"
)

// Transition applies the state machine to a copy of the header and
// returns it with all guarded fields mutated. On a guard failure the
// returned error is a *types.FSMError and the input header is
// untouched; callers must not write anything to disk in that case.
func Transition(kind types.Kind, h types.Header, newState, reason string, now time.Time) (types.Header, error) {
	from := h.String(types.FieldState)
	id := h.String(types.FieldID)

	if kind != types.KindTask {
		return noteEventTransition(h, id, from, newState)
	}

	out := h.Clone()
	fail := func(msg string) (types.Header, error) {
		return nil, &types.FSMError{EntityID: id, From: from, To: newState, Reason: msg}
	}

	switch from + ">" + newState {
	case "todo>doing":
		// Guard is self-healing: with no assignee and no start_ts the
		// system stamps start_ts rather than rejecting.
		if out.String(types.FieldAssignee) == "" {
			if _, err := out.Time(types.FieldStartTS); err != nil {
				out.SetTime(types.FieldStartTS, now)
			}
		}
	case "todo>blocked":
		if reason == "" {
			return fail("blocking from todo requires a reason")
		}
		out[types.FieldBlockedReason] = reason
	case "todo>done", "doing>done", "review>done":
		if _, err := out.Time(types.FieldDoneTS); err != nil {
			out.SetTime(types.FieldDoneTS, now)
		}
		if out.String(types.FieldEstimate) != "" {
			out[types.FieldEstimateFrozen] = true
		}
	case "doing>review", "review>doing":
		// No extra guard.
	case "doing>blocked", "review>blocked":
		if reason != "" {
			out[types.FieldBlockedReason] = reason
		}
	case "blocked>todo", "blocked>doing":
		delete(out, types.FieldBlockedReason)
	case "done>doing":
		if reason == "" {
			return fail("reopening a done task requires a reopen_reason")
		}
		out[types.FieldReopenReason] = reason
		delete(out, types.FieldDoneTS)
	default:
		return fail(fmt.Sprintf("no transition %s -> %s in the task state machine", from, newState))
	}

	out[types.FieldState] = newState
	return out, nil
}

// noteEventTransition handles the minimal active <-> archived lifecycle
// shared by notes and events.
func noteEventTransition(h types.Header, id, from, newState string) (types.Header, error) {
	ok := (from == types.StateActive && newState == types.StateArchived) ||
		(from == types.StateArchived && newState == types.StateActive)
	if !ok {
		return nil, &types.FSMError{
			EntityID: id, From: from, To: newState,
			Reason: "only active <-> archived is allowed",
		}
	}
	out := h.Clone()
	out[types.FieldState] = newState
	return out, nil
}
