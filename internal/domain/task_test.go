package domain

import (
	"errors"
	"testing"
	"time"
)

func TestStatusCycle(t *testing.T) {
	cases := []struct {
		from, to TaskStatus
	}{
		{StatusPending, StatusInProgress},
		{StatusInProgress, StatusCompleted},
		{StatusCompleted, StatusPending},
	}
	for _, tc := range cases {
		if got := tc.from.Next(); got != tc.to {
			t.Fatalf("%s.Next() = %s, want %s", tc.from, got, tc.to)
		}
	}

	// Three toggles return to the starting point.
	s := StatusPending
	for i := 0; i < 3; i++ {
		s = s.Next()
	}
	if s != StatusPending {
		t.Fatalf("cycle did not wrap: got %s", s)
	}
}

func TestTrashed(t *testing.T) {
	task := &Task{ID: 1}
	if task.Trashed() {
		t.Fatal("task without deletion marker must not be trashed")
	}
	now := time.Now()
	task.DeletedAt = &now
	if !task.Trashed() {
		t.Fatal("task with deletion marker must be trashed")
	}
}

func TestPatchValidate(t *testing.T) {
	long := make([]byte, 201)
	for i := range long {
		long[i] = 'x'
	}
	longTitle := string(long)
	empty := ""
	badStatus := TaskStatus("archived")

	cases := []struct {
		name  string
		patch TaskPatch
		want  error
	}{
		{"empty title", TaskPatch{Title: &empty}, ErrEmptyTitle},
		{"long title", TaskPatch{Title: &longTitle}, ErrTitleTooLong},
		{"bad status", TaskPatch{Status: &badStatus}, ErrInvalidStatus},
		{
			"deep metadata",
			TaskPatch{Metadata: map[string]any{
				"a": map[string]any{"b": map[string]any{"c": map[string]any{"d": 1}}},
			}},
			ErrMetadataTooDeep,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.patch.Validate(); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	ok := TaskPatch{Metadata: map[string]any{"a": map[string]any{"b": map[string]any{"c": 1}}}}
	if err := ok.Validate(); err != nil {
		t.Fatalf("three-level metadata should pass: %v", err)
	}
}

func TestSnapshotIncludesOptionalFields(t *testing.T) {
	due := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	assignee := int64(42)
	task := &Task{
		ID:         1,
		Title:      "t",
		Status:     StatusPending,
		Priority:   PriorityHigh,
		DueDate:    &due,
		AssigneeID: &assignee,
		Version:    3,
	}
	snap := task.Snapshot()
	if snap["due_date"] != "2026-03-01T12:00:00Z" {
		t.Fatalf("unexpected due_date: %v", snap["due_date"])
	}
	if snap["assignee_id"] != assignee {
		t.Fatalf("unexpected assignee_id: %v", snap["assignee_id"])
	}
	if _, ok := snap["deleted_at"]; ok {
		t.Fatal("active task snapshot must not carry deleted_at")
	}
}
