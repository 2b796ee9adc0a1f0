package inmemory

import (
	"sync"

	"econcore/internal/app/ports"
)

type FlowCounts struct {
	Success  uint64 `json:"success"`
	Conflict uint64 `json:"conflict"`
	Failure  uint64 `json:"failure"`
}

type Snapshot struct {
	FlowTotal    uint64                `json:"flow_total"`
	FlowSuccess  uint64                `json:"flow_success"`
	FlowConflict uint64                `json:"flow_conflict"`
	FlowFailure  uint64                `json:"flow_failure"`
	ByFlow       map[string]FlowCounts `json:"by_flow"`
}

type Recorder struct {
	mu     sync.Mutex
	byFlow map[string]FlowCounts
}

var _ ports.FlowMetrics = (*Recorder)(nil)

func NewRecorder() *Recorder {
	return &Recorder{
		byFlow: map[string]FlowCounts{},
	}
}

func (r *Recorder) RecordSuccess(flow string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.byFlow[flow]
	c.Success++
	r.byFlow[flow] = c
}

func (r *Recorder) RecordConflict(flow string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.byFlow[flow]
	c.Conflict++
	r.byFlow[flow] = c
}

func (r *Recorder) RecordFailure(flow string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.byFlow[flow]
	c.Failure++
	r.byFlow[flow] = c
}

func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := Snapshot{ByFlow: make(map[string]FlowCounts, len(r.byFlow))}
	for flow, c := range r.byFlow {
		out.ByFlow[flow] = c
		out.FlowSuccess += c.Success
		out.FlowConflict += c.Conflict
		out.FlowFailure += c.Failure
	}
	out.FlowTotal = out.FlowSuccess + out.FlowConflict + out.FlowFailure
	return out
}

func (r *Recorder) SnapshotAny() any {
	return r.Snapshot()
}
