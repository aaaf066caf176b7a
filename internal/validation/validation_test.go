package validation

import (
	"testing"
	"time"

	"github.com/steveyegge/mdvault/internal/types"
)

func validTask() types.Header {
	return types.Header{
		types.FieldID:        "task-20251008-1342-review-q4-report",
		types.FieldTitle:     "Review Q4 report",
		types.FieldState:     types.StateTodo,
		types.FieldTags:      []string{},
		types.FieldCreatedTS: "2025-10-08T13:42:17+00:00",
		types.FieldUpdatedTS: "2025-10-08T13:42:17+00:00",
	}
}

func TestValidateAcceptsMinimalTask(t *testing.T) {
	if errs := Validate(types.KindTask, validTask()); len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
}

func TestValidateRequiredFields(t *testing.T) {
	h := validTask()
	delete(h, types.FieldUpdatedTS)
	delete(h, types.FieldTags)
	errs := Validate(types.KindTask, h)
	if len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %v", errs)
	}
	for _, e := range errs {
		if e.Category != types.CategorySchema {
			t.Errorf("expected Schema category, got %s", e.Category)
		}
	}
}

func TestValidateRejectsNaiveTimestamp(t *testing.T) {
	h := validTask()
	h[types.FieldCreatedTS] = "2025-10-08T13:42:17"
	errs := Validate(types.KindTask, h)
	if len(errs) == 0 {
		t.Fatalf("expected error for naive timestamp")
	}
}

func TestValidateStateEnum(t *testing.T) {
	h := validTask()
	h[types.FieldState] = "wip"
	errs := Validate(types.KindTask, h)
	if len(errs) != 1 || errs[0].Field != types.FieldState {
		t.Fatalf("expected single state error, got %v", errs)
	}

	n := validTask()
	n[types.FieldState] = types.StateTodo // task state on a note
	errs = Validate(types.KindNote, n)
	if len(errs) == 0 {
		t.Fatalf("expected state error for note with task state")
	}
}

func TestValidateBlockedRequiresReason(t *testing.T) {
	h := validTask()
	h[types.FieldState] = types.StateBlocked
	errs := Validate(types.KindTask, h)
	if len(errs) != 1 || errs[0].Category != types.CategoryTask {
		t.Fatalf("expected Task error, got %v", errs)
	}
	h[types.FieldBlockedReason] = "waiting on finance"
	if errs := Validate(types.KindTask, h); len(errs) != 0 {
		t.Fatalf("unexpected: %v", errs)
	}
}

func TestValidateDoneRequiresDoneTS(t *testing.T) {
	h := validTask()
	h[types.FieldState] = types.StateDone
	if errs := Validate(types.KindTask, h); len(errs) == 0 {
		t.Fatalf("expected done_ts error")
	}
	h[types.FieldDoneTS] = "2025-10-08T14:00:00+00:00"
	if errs := Validate(types.KindTask, h); len(errs) != 0 {
		t.Fatalf("unexpected: %v", errs)
	}
}

func TestValidateEstimateFormats(t *testing.T) {
	for _, ok := range []string{"90m", "3h", "2d", "45"} {
		h := validTask()
		h[types.FieldEstimate] = ok
		if errs := Validate(types.KindTask, h); len(errs) != 0 {
			t.Errorf("estimate %q rejected: %v", ok, errs)
		}
	}
	for _, bad := range []string{"3 hours", "h3", "2w", "-5m"} {
		h := validTask()
		h[types.FieldEstimate] = bad
		errs := Validate(types.KindTask, h)
		if len(errs) == 0 {
			t.Errorf("estimate %q accepted", bad)
		}
	}
}

func TestValidateEventWindow(t *testing.T) {
	h := types.Header{
		types.FieldID:        "event-20251008-0900-standup",
		types.FieldTitle:     "Standup",
		types.FieldState:     types.StateActive,
		types.FieldTags:      []string{},
		types.FieldCreatedTS: "2025-10-08T08:00:00+00:00",
		types.FieldUpdatedTS: "2025-10-08T08:00:00+00:00",
		types.FieldStartTS:   "2025-10-08T09:30:00+00:00",
		types.FieldEndTS:     "2025-10-08T09:00:00+00:00",
	}
	errs := Validate(types.KindEvent, h)
	if len(errs) != 1 || errs[0].Category != types.CategoryEvent {
		t.Fatalf("expected Event error, got %v", errs)
	}
}

func TestValidateCommonLayer(t *testing.T) {
	h := validTask()
	h[types.FieldTitle] = "   "
	h[types.FieldUpdatedTS] = "2025-10-08T13:00:00+00:00" // before created
	errs := Validate(types.KindTask, h)
	if len(errs) != 2 {
		t.Fatalf("expected 2 common errors, got %v", errs)
	}
	for _, e := range errs {
		if e.Category != types.CategoryCommon {
			t.Errorf("expected Common, got %s", e.Category)
		}
	}
}

func TestValidateNegativeEstimateMinutes(t *testing.T) {
	h := validTask()
	h[types.FieldEstimate] = "-45"
	// ParseInt accepts -45; the estimate grammar should not.
	errs := Validate(types.KindTask, h)
	if len(errs) == 0 {
		t.Fatalf("negative minute count accepted")
	}
}

var fsmNow = time.Date(2025, 10, 8, 14, 0, 0, 0, time.UTC)

func TestTransitionTodoDoingStampsStart(t *testing.T) {
	h := validTask()
	out, err := Transition(types.KindTask, h, types.StateDoing, "", fsmNow)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if out.String(types.FieldState) != types.StateDoing {
		t.Fatalf("state: %s", out.String(types.FieldState))
	}
	if out.String(types.FieldStartTS) != "2025-10-08T14:00:00+00:00" {
		t.Fatalf("start_ts: %q", out.String(types.FieldStartTS))
	}
	// Input header must be untouched.
	if _, ok := h[types.FieldStartTS]; ok {
		t.Fatalf("input header mutated")
	}
}

func TestTransitionTodoDoingWithAssignee(t *testing.T) {
	h := validTask()
	h[types.FieldAssignee] = "sam"
	out, err := Transition(types.KindTask, h, types.StateDoing, "", fsmNow)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if _, ok := out[types.FieldStartTS]; ok {
		t.Fatalf("start_ts stamped despite assignee guard being satisfied")
	}
}

func TestTransitionDoneFreezesEstimate(t *testing.T) {
	h := validTask()
	h[types.FieldEstimate] = "3h"
	out, err := Transition(types.KindTask, h, types.StateDone, "", fsmNow)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if !out.Bool(types.FieldEstimateFrozen) {
		t.Fatalf("estimate not frozen")
	}
	if out.String(types.FieldDoneTS) != "2025-10-08T14:00:00+00:00" {
		t.Fatalf("done_ts: %q", out.String(types.FieldDoneTS))
	}
}

func TestTransitionReopenRequiresReason(t *testing.T) {
	h := validTask()
	h[types.FieldState] = types.StateDone
	h[types.FieldDoneTS] = "2025-10-08T13:50:00+00:00"

	_, err := Transition(types.KindTask, h, types.StateDoing, "", fsmNow)
	fsmErr, ok := err.(*types.FSMError)
	if !ok {
		t.Fatalf("expected FSMError, got %v", err)
	}
	if fsmErr.From != types.StateDone || fsmErr.To != types.StateDoing {
		t.Fatalf("wrong edge in error: %v", fsmErr)
	}

	out, err := Transition(types.KindTask, h, types.StateDoing, "missed a case", fsmNow)
	if err != nil {
		t.Fatalf("reopen with reason: %v", err)
	}
	if _, ok := out[types.FieldDoneTS]; ok {
		t.Fatalf("done_ts not cleared on reopen")
	}
	if out.String(types.FieldReopenReason) != "missed a case" {
		t.Fatalf("reopen_reason: %q", out.String(types.FieldReopenReason))
	}
}

func TestTransitionBlockedClearsReason(t *testing.T) {
	h := validTask()
	h[types.FieldState] = types.StateBlocked
	h[types.FieldBlockedReason] = "waiting"
	out, err := Transition(types.KindTask, h, types.StateTodo, "", fsmNow)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if _, ok := out[types.FieldBlockedReason]; ok {
		t.Fatalf("blocked_reason not cleared")
	}
}

func TestTransitionInvalidEdge(t *testing.T) {
	h := validTask()
	h[types.FieldState] = types.StateReview
	if _, err := Transition(types.KindTask, h, types.StateTodo, "", fsmNow); err == nil {
		t.Fatalf("review -> todo should be rejected")
	}
}

func TestTransitionNoteLifecycle(t *testing.T) {
	h := types.Header{
		types.FieldID:    "note-1",
		types.FieldState: types.StateActive,
	}
	out, err := Transition(types.KindNote, h, types.StateArchived, "", fsmNow)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if out.String(types.FieldState) != types.StateArchived {
		t.Fatalf("state: %s", out.String(types.FieldState))
	}
	if _, err := Transition(types.KindNote, out, "done", "", fsmNow); err == nil {
		t.Fatalf("notes must not accept task states")
	}
}
