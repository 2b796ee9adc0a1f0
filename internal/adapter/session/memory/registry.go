// Package memory is the in-process SessionRegistry: a map of entries, an
// exclusivity index keyed by kind and participant, and a min-heap of expiry
// deadlines swept in the background.
package memory

import (
	"container/heap"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"econcore/internal/app/ports"
	"econcore/internal/domain/session"

	"github.com/google/uuid"
)

type Options struct {
	Now    func() time.Time
	NewID  func() string
	Logger *slog.Logger
}

type Registry struct {
	mu      sync.Mutex
	now     func() time.Time
	newID   func() string
	logger  *slog.Logger
	entries map[string]*slot
	index   map[string]string
	expiry  expiryHeap
}

type slot struct {
	entry session.Entry
	pos   int
}

var _ ports.SessionRegistry = (*Registry)(nil)

func New(opts Options) *Registry {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.NewString() }
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{
		now:     opts.Now,
		newID:   opts.NewID,
		logger:  opts.Logger,
		entries: map[string]*slot{},
		index:   map[string]string{},
	}
}

func (r *Registry) Create(_ context.Context, in session.NewEntry) (session.Entry, error) {
	if err := validate(in); err != nil {
		return session.Entry{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if id, busy := r.holderLocked(in.Kind, in.Participants, now); busy {
		return session.Entry{}, fmt.Errorf("%w: %s already open as %s", ports.ErrSessionConflict, in.Kind, id)
	}
	return r.insertLocked(in, now), nil
}

func (r *Registry) Get(_ context.Context, id string) (session.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.liveLocked(id, r.now())
	if err != nil {
		return session.Entry{}, err
	}
	return copyEntry(s.entry), nil
}

// Update swaps the payload and keeps the deadline.
func (r *Registry) Update(_ context.Context, id string, payload json.RawMessage) (session.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.liveLocked(id, r.now())
	if err != nil {
		return session.Entry{}, err
	}
	s.entry.Payload = append(json.RawMessage(nil), payload...)
	return copyEntry(s.entry), nil
}

func (r *Registry) Renew(_ context.Context, id string, ttl time.Duration) (session.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	s, err := r.liveLocked(id, now)
	if err != nil {
		return session.Entry{}, err
	}
	s.entry.ExpiresAt = now.Add(session.ClampTTL(ttl))
	heap.Fix(&r.expiry, s.pos)
	return copyEntry(s.entry), nil
}

func (r *Registry) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.entries[id]; ok {
		r.removeLocked(s)
	}
	return nil
}

func (r *Registry) FindByParticipant(_ context.Context, kind session.Kind, participant string) (session.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.index[session.IndexKey(kind, participant)]
	if !ok {
		return session.Entry{}, ports.ErrSessionNotFound
	}
	s, err := r.liveLocked(id, r.now())
	if err != nil {
		return session.Entry{}, err
	}
	return copyEntry(s.entry), nil
}

func (r *Registry) Take(_ context.Context, id string) (session.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.liveLocked(id, r.now())
	if err != nil {
		return session.Entry{}, err
	}
	r.removeLocked(s)
	return s.entry, nil
}

func (r *Registry) Propose(_ context.Context, in session.NewEntry, mirror func(existing session.Entry) bool) (session.Entry, bool, error) {
	if err := validate(in); err != nil {
		return session.Entry{}, false, err
	}
	if len(in.Participants) != 2 {
		return session.Entry{}, false, fmt.Errorf("%w: negotiation needs two participants", ports.ErrInvalidRequest)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	id, busy := r.holderLocked(in.Kind, in.Participants, now)
	if !busy {
		return r.insertLocked(in, now), false, nil
	}
	s := r.entries[id]
	if s.entry.SamePair(in.Participants) && s.entry.Initiator() != in.Participants[0] && mirror != nil && mirror(copyEntry(s.entry)) {
		r.removeLocked(s)
		return s.entry, true, nil
	}
	return session.Entry{}, false, fmt.Errorf("%w: %s already open as %s", ports.ErrSessionConflict, in.Kind, id)
}

// Sweep drops every entry whose deadline has passed and reports how many went.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sweepLocked(r.now())
}

// Run sweeps on every tick until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.logger.Debug("sessions expired", "count", n)
			}
		}
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) sweepLocked(now time.Time) int {
	n := 0
	for r.expiry.Len() > 0 && r.expiry[0].entry.Expired(now) {
		r.removeLocked(r.expiry[0])
		n++
	}
	return n
}

// holderLocked returns the id of a live entry of kind held by any of the
// participants.
func (r *Registry) holderLocked(kind session.Kind, participants []string, now time.Time) (string, bool) {
	for _, p := range participants {
		id, ok := r.index[session.IndexKey(kind, p)]
		if !ok {
			continue
		}
		s := r.entries[id]
		if s == nil {
			delete(r.index, session.IndexKey(kind, p))
			continue
		}
		if !s.entry.Expired(now) {
			return id, true
		}
		r.removeLocked(s)
	}
	return "", false
}

func (r *Registry) liveLocked(id string, now time.Time) (*slot, error) {
	s, ok := r.entries[id]
	if !ok {
		return nil, ports.ErrSessionNotFound
	}
	if s.entry.Expired(now) {
		r.removeLocked(s)
		return nil, ports.ErrSessionNotFound
	}
	return s, nil
}

func (r *Registry) insertLocked(in session.NewEntry, now time.Time) session.Entry {
	e := session.Entry{
		ID:           r.newID(),
		Kind:         in.Kind,
		Participants: append([]string(nil), in.Participants...),
		Payload:      append(json.RawMessage(nil), in.Payload...),
		CreatedAt:    now,
		ExpiresAt:    now.Add(session.ClampTTL(in.TTL)),
	}
	s := &slot{entry: e}
	r.entries[e.ID] = s
	for _, p := range e.Participants {
		r.index[session.IndexKey(e.Kind, p)] = e.ID
	}
	heap.Push(&r.expiry, s)
	return copyEntry(e)
}

func (r *Registry) removeLocked(s *slot) {
	delete(r.entries, s.entry.ID)
	for _, p := range s.entry.Participants {
		key := session.IndexKey(s.entry.Kind, p)
		if r.index[key] == s.entry.ID {
			delete(r.index, key)
		}
	}
	if s.pos >= 0 {
		heap.Remove(&r.expiry, s.pos)
	}
}

func validate(in session.NewEntry) error {
	if in.Kind == "" || len(in.Participants) == 0 {
		return fmt.Errorf("%w: session kind and participants are required", ports.ErrInvalidRequest)
	}
	seen := map[string]struct{}{}
	for _, p := range in.Participants {
		if p == "" {
			return fmt.Errorf("%w: empty participant", ports.ErrInvalidRequest)
		}
		if _, dup := seen[p]; dup {
			return fmt.Errorf("%w: duplicate participant %s", ports.ErrInvalidRequest, p)
		}
		seen[p] = struct{}{}
	}
	return nil
}

func copyEntry(e session.Entry) session.Entry {
	e.Participants = append([]string(nil), e.Participants...)
	e.Payload = append(json.RawMessage(nil), e.Payload...)
	return e
}

type expiryHeap []*slot

func (h expiryHeap) Len() int { return len(h) }
func (h expiryHeap) Less(i, j int) bool {
	return h[i].entry.ExpiresAt.Before(h[j].entry.ExpiresAt)
}
func (h expiryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].pos = i
	h[j].pos = j
}
func (h *expiryHeap) Push(x any) {
	s := x.(*slot)
	s.pos = len(*h)
	*h = append(*h, s)
}
func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	s := old[n-1]
	old[n-1] = nil
	s.pos = -1
	*h = old[:n-1]
	return s
}
