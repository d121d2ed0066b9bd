package deliverystore

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cexll/swe-action/internal/github/branch"
	"github.com/cexll/swe-action/internal/pipeline"
)

func newTestStore(limit int) *Store {
	s := NewStore(limit)
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return s
}

func TestStore_QueuedGetAndList(t *testing.T) {
	store := newTestStore(0)
	store.Queued("a", "issue_comment", "o/r#1")
	store.Queued("b", "issues", "o/r#2")

	got, ok := store.Get("a")
	if !ok {
		t.Fatal("Get should return true for existing delivery")
	}
	if got.Status != StatusQueued || got.Key != "o/r#1" {
		t.Fatalf("unexpected delivery %+v", got)
	}

	list := store.List()
	if len(list) != 2 {
		t.Fatalf("List length = %d, want 2", len(list))
	}
	if list[0].ID != "b" || list[1].ID != "a" {
		t.Fatalf("List order = [%s, %s], want [b, a]", list[0].ID, list[1].ID)
	}

	if _, ok := store.Get("missing"); ok {
		t.Fatal("Get should return false for unknown delivery")
	}
}

func TestStore_Finished(t *testing.T) {
	store := newTestStore(0)

	store.Queued("ok", "issue_comment", "o/r#1")
	store.Started("ok")
	if got, _ := store.Get("ok"); got.Status != StatusRunning {
		t.Fatalf("Status = %s, want %s", got.Status, StatusRunning)
	}
	store.Finished("ok", &pipeline.Report{
		Triggered: true,
		CommentID: 42,
		Branch:    &branch.Info{CurrentBranch: "swe/issue-1-x"},
		Degraded:  []string{pipeline.StageRedirect},
	}, nil)
	got, _ := store.Get("ok")
	if got.Status != StatusPrepared || got.CommentID != 42 || got.Branch != "swe/issue-1-x" {
		t.Fatalf("unexpected delivery %+v", got)
	}
	if len(got.Degraded) != 1 || !got.UpdatedAt.After(got.ReceivedAt) {
		t.Fatalf("unexpected delivery %+v", got)
	}

	store.Queued("skip", "issue_comment", "o/r#1")
	store.Finished("skip", &pipeline.Report{SkipReason: "no trigger phrase"}, nil)
	if got, _ := store.Get("skip"); got.Status != StatusSkipped || got.Reason != "no trigger phrase" {
		t.Fatalf("unexpected delivery %+v", got)
	}

	store.Queued("fail", "issue_comment", "o/r#1")
	store.Finished("fail", &pipeline.Report{}, &pipeline.StageError{Stage: pipeline.StagePermission, Err: errors.New("denied")})
	got, _ = store.Get("fail")
	if got.Status != StatusFailed || got.Stage != pipeline.StagePermission || got.Error == "" {
		t.Fatalf("unexpected delivery %+v", got)
	}

	// unknown ids are ignored
	store.Finished("missing", nil, nil)
}

func TestStore_EvictsOldest(t *testing.T) {
	store := newTestStore(3)
	for i := 0; i < 5; i++ {
		store.Queued(fmt.Sprintf("d-%d", i), "issues", "o/r#1")
	}

	list := store.List()
	if len(list) != 3 {
		t.Fatalf("List length = %d, want 3", len(list))
	}
	if list[0].ID != "d-4" || list[2].ID != "d-2" {
		t.Fatalf("unexpected retained deliveries %v", list)
	}
	if _, ok := store.Get("d-0"); ok {
		t.Fatal("oldest delivery should be evicted")
	}
}
