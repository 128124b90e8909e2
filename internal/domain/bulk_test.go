package domain

import (
	"errors"
	"testing"
)

func TestParseBulkAction(t *testing.T) {
	if _, err := ParseBulkAction("archive", ""); !errors.Is(err, ErrInvalidAction) {
		t.Fatalf("expected ErrInvalidAction, got %v", err)
	}
	if _, err := ParseBulkAction("update_status", ""); !errors.Is(err, ErrMissingTargetStatus) {
		t.Fatalf("expected ErrMissingTargetStatus, got %v", err)
	}
	if _, err := ParseBulkAction("update_status", "archived"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}

	action, err := ParseBulkAction("update_status", "completed")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	us, ok := action.(UpdateStatusAction)
	if !ok || us.Status != StatusCompleted {
		t.Fatalf("unexpected action: %#v", action)
	}
	if action.Kind() != ActionUpdateStatus {
		t.Fatalf("unexpected kind: %s", action.Kind())
	}

	if a, _ := ParseBulkAction("delete", ""); a.Kind() != ActionDelete {
		t.Fatal("delete action kind mismatch")
	}
	if a, _ := ParseBulkAction("restore", ""); a.Kind() != ActionRestore {
		t.Fatal("restore action kind mismatch")
	}
}

func TestBulkRequestValidate(t *testing.T) {
	limits := DefaultBulkLimits()

	ok := &BulkRequest{Action: DeleteAction{}, TaskIDs: []int64{1, 2, 3}}
	if err := ok.Validate(limits); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}

	tooMany := make([]int64, limits.MaxTasksPerRequest+1)
	for i := range tooMany {
		tooMany[i] = int64(i + 1)
	}

	cases := []struct {
		name string
		req  BulkRequest
		want error
	}{
		{"nil action", BulkRequest{TaskIDs: []int64{1}}, ErrInvalidAction},
		{"empty", BulkRequest{Action: DeleteAction{}}, ErrEmptyTaskList},
		{"too many", BulkRequest{Action: DeleteAction{}, TaskIDs: tooMany}, ErrTooManyTasks},
		{"duplicate", BulkRequest{Action: DeleteAction{}, TaskIDs: []int64{1, 2, 1}}, ErrDuplicateTaskID},
		{"negative", BulkRequest{Action: DeleteAction{}, TaskIDs: []int64{-1}}, ErrInvalidTaskID},
		{
			"version mismatch",
			BulkRequest{Action: DeleteAction{}, TaskIDs: []int64{1, 2}, Versions: VersionsByIndex([]*int64{new(int64)})},
			ErrVersionCountMismatch,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.req.Validate(limits); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestBulkAbsoluteCeilingIsIndependentOfRequestCap(t *testing.T) {
	// The per-request cap and the absolute ceiling are separate knobs.
	limits := BulkLimits{ChunkSize: 100, MaxOperations: 150, MaxTasksPerRequest: 500, MemoryLimitMB: 128}
	ids := make([]int64, 200)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	req := BulkRequest{Action: DeleteAction{}, TaskIDs: ids}
	if err := req.Validate(limits); !errors.Is(err, ErrBulkLimitExceeded) {
		t.Fatalf("expected ErrBulkLimitExceeded, got %v", err)
	}
}

func TestVersionSetResolve(t *testing.T) {
	two := int64(2)
	positional := VersionsByIndex([]*int64{&two, nil})
	if got := positional.Resolve(0, 10, 9); got != 2 {
		t.Fatalf("expected supplied version 2, got %d", got)
	}
	if got := positional.Resolve(1, 11, 9); got != 9 {
		t.Fatalf("nil entry must fall back to stored version, got %d", got)
	}

	keyed := VersionsByID(map[int64]int64{7: 4})
	if got := keyed.Resolve(0, 7, 9); got != 4 {
		t.Fatalf("expected keyed version 4, got %d", got)
	}
	if got := keyed.Resolve(1, 8, 9); got != 9 {
		t.Fatalf("missing key must fall back, got %d", got)
	}

	var none VersionSet
	if !none.Empty() {
		t.Fatal("zero VersionSet must be empty")
	}
	if got := none.Resolve(0, 1, 5); got != 5 {
		t.Fatalf("empty set must fall back, got %d", got)
	}
}

func TestBulkResultTruncated(t *testing.T) {
	full := BulkResult{Processed: 2, Conflicts: 1, Errors: []string{"x"}, Total: 4}
	if full.Truncated() {
		t.Fatal("fully accounted result must not report truncation")
	}
	cut := BulkResult{Processed: 100, Errors: []string{"warning"}, Total: 250}
	if !cut.Truncated() {
		t.Fatal("partially accounted result must report truncation")
	}
}

func TestConflictErrorFormat(t *testing.T) {
	err := &ConflictError{TaskID: 7, Op: "toggle_status", Expected: 1, Actual: 2}
	want := "Task 7: Version conflict during toggle_status. Expected version 1, but found 2."
	if err.Error() != want {
		t.Fatalf("got %q, want %q", err.Error(), want)
	}
	if !IsConflict(err) {
		t.Fatal("IsConflict must match ConflictError")
	}
	if IsConflict(ErrTaskNotFound) {
		t.Fatal("IsConflict must not match other errors")
	}
}
