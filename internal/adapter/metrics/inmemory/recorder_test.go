package inmemory

import (
	"sync"
	"testing"
)

func TestRecorderSnapshot(t *testing.T) {
	r := NewRecorder()
	r.RecordSuccess("work")
	r.RecordSuccess("slots")
	r.RecordConflict("work")
	r.RecordFailure("transfer")

	s := r.Snapshot()
	if s.FlowTotal != 4 {
		t.Fatalf("expected total 4, got %d", s.FlowTotal)
	}
	if s.FlowSuccess != 2 {
		t.Fatalf("expected success 2, got %d", s.FlowSuccess)
	}
	if s.FlowConflict != 1 {
		t.Fatalf("expected conflict 1, got %d", s.FlowConflict)
	}
	if s.FlowFailure != 1 {
		t.Fatalf("expected failure 1, got %d", s.FlowFailure)
	}
	if got := s.ByFlow["work"]; got.Success != 1 || got.Conflict != 1 {
		t.Fatalf("expected work 1 success 1 conflict, got %+v", got)
	}
	if s.ByFlow["transfer"].Failure != 1 {
		t.Fatalf("expected transfer failure count 1")
	}
}

func TestRecorderSnapshotIsACopy(t *testing.T) {
	r := NewRecorder()
	r.RecordSuccess("beg")
	s := r.Snapshot()
	s.ByFlow["beg"] = FlowCounts{Success: 99}
	if got := r.Snapshot().ByFlow["beg"].Success; got != 1 {
		t.Fatalf("snapshot aliased recorder state, got %d", got)
	}
}

func TestRecorderConcurrentWrites(t *testing.T) {
	r := NewRecorder()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.RecordSuccess("daily")
		}()
	}
	wg.Wait()
	if got := r.Snapshot().ByFlow["daily"].Success; got != 100 {
		t.Fatalf("expected 100, got %d", got)
	}
}
