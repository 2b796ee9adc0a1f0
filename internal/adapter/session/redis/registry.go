// Package redis is a SessionRegistry shared between server replicas. Entries
// and their exclusivity index keys carry PX deadlines so Redis itself evicts
// abandoned sessions; every multi-key step runs as a Lua script.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"econcore/internal/app/ports"
	"econcore/internal/domain/session"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultPrefix   = "econ:"
	proposeAttempts = 4
)

// KEYS[1] = entry key, KEYS[2..] = index keys
// ARGV[1] = entry json, ARGV[2] = ttl ms, ARGV[3] = id
var createScript = goredis.NewScript(`
for i = 2, #KEYS do
  local holder = redis.call("GET", KEYS[i])
  if holder then
    return holder
  end
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
for i = 2, #KEYS do
  redis.call("SET", KEYS[i], ARGV[3], "PX", ARGV[2])
end
return 0
`)

// KEYS[1] = entry key, ARGV[1] = index prefix, ARGV[2] = id
var takeScript = goredis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if not raw then
  return false
end
redis.call("DEL", KEYS[1])
local e = cjson.decode(raw)
for _, p in ipairs(e.participants) do
  local key = ARGV[1] .. e.kind .. ":" .. p
  if redis.call("GET", key) == ARGV[2] then
    redis.call("DEL", key)
  end
end
return raw
`)

// KEYS[1] = entry key, KEYS[2..] = index keys
// ARGV[1] = entry json, ARGV[2] = ttl ms or "keep"
var rewriteScript = goredis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
if ARGV[2] == "keep" then
  redis.call("SET", KEYS[1], ARGV[1], "KEEPTTL")
  return 1
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
for i = 2, #KEYS do
  redis.call("PEXPIRE", KEYS[i], ARGV[2])
end
return 1
`)

// KEYS[1] = entry key, KEYS[2..] = index keys
// ARGV[1] = entry json, ARGV[2] = ttl ms, ARGV[3] = id, ARGV[4] = entry prefix
var proposeScript = goredis.NewScript(`
for i = 2, #KEYS do
  local holder = redis.call("GET", KEYS[i])
  if holder then
    local raw = redis.call("GET", ARGV[4] .. holder)
    if raw then
      return {1, holder, raw}
    end
    redis.call("DEL", KEYS[i])
  end
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
for i = 2, #KEYS do
  redis.call("SET", KEYS[i], ARGV[3], "PX", ARGV[2])
end
return {0}
`)

type Options struct {
	Prefix string
	Now    func() time.Time
}

type Registry struct {
	client *goredis.Client
	prefix string
	now    func() time.Time
}

var _ ports.SessionRegistry = (*Registry)(nil)

func Dial(addr, password string, db int) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func New(client *goredis.Client, opts Options) *Registry {
	if opts.Prefix == "" {
		opts.Prefix = defaultPrefix
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{client: client, prefix: opts.Prefix, now: opts.Now}
}

func (r *Registry) Create(ctx context.Context, in session.NewEntry) (session.Entry, error) {
	e, raw, err := r.build(in)
	if err != nil {
		return session.Entry{}, err
	}
	res, err := createScript.Run(ctx, r.client, r.keys(e), raw, ttlMillis(e, r.now()), e.ID).Result()
	if err != nil {
		return session.Entry{}, fmt.Errorf("redis create session: %w", err)
	}
	if holder, ok := res.(string); ok {
		return session.Entry{}, fmt.Errorf("%w: %s already open as %s", ports.ErrSessionConflict, e.Kind, holder)
	}
	return e, nil
}

func (r *Registry) Get(ctx context.Context, id string) (session.Entry, error) {
	raw, err := r.client.Get(ctx, r.entryKey(id)).Result()
	if errors.Is(err, goredis.Nil) {
		return session.Entry{}, ports.ErrSessionNotFound
	}
	if err != nil {
		return session.Entry{}, fmt.Errorf("redis get session: %w", err)
	}
	e, err := decode(raw)
	if err != nil {
		return session.Entry{}, err
	}
	if e.Expired(r.now()) {
		return session.Entry{}, ports.ErrSessionNotFound
	}
	return e, nil
}

func (r *Registry) Update(ctx context.Context, id string, payload json.RawMessage) (session.Entry, error) {
	e, err := r.Get(ctx, id)
	if err != nil {
		return session.Entry{}, err
	}
	e.Payload = append(json.RawMessage(nil), payload...)
	return e, r.rewrite(ctx, e, "keep")
}

func (r *Registry) Renew(ctx context.Context, id string, ttl time.Duration) (session.Entry, error) {
	e, err := r.Get(ctx, id)
	if err != nil {
		return session.Entry{}, err
	}
	ttl = session.ClampTTL(ttl)
	e.ExpiresAt = r.now().Add(ttl)
	return e, r.rewrite(ctx, e, ttl.Milliseconds())
}

func (r *Registry) Delete(ctx context.Context, id string) error {
	_, err := r.Take(ctx, id)
	if errors.Is(err, ports.ErrSessionNotFound) {
		return nil
	}
	return err
}

func (r *Registry) FindByParticipant(ctx context.Context, kind session.Kind, participant string) (session.Entry, error) {
	id, err := r.client.Get(ctx, r.indexKey(kind, participant)).Result()
	if errors.Is(err, goredis.Nil) {
		return session.Entry{}, ports.ErrSessionNotFound
	}
	if err != nil {
		return session.Entry{}, fmt.Errorf("redis find session: %w", err)
	}
	return r.Get(ctx, id)
}

func (r *Registry) Take(ctx context.Context, id string) (session.Entry, error) {
	res, err := takeScript.Run(ctx, r.client, []string{r.entryKey(id)}, r.prefix+"idx:", id).Result()
	if errors.Is(err, goredis.Nil) {
		return session.Entry{}, ports.ErrSessionNotFound
	}
	if err != nil {
		return session.Entry{}, fmt.Errorf("redis take session: %w", err)
	}
	raw, _ := res.(string)
	e, err := decode(raw)
	if err != nil {
		return session.Entry{}, err
	}
	if e.Expired(r.now()) {
		return session.Entry{}, ports.ErrSessionNotFound
	}
	return e, nil
}

// Propose creates the entry unless a participant already holds one of the
// kind. A held entry between the same pair, opened by the other side and
// accepted by mirror, is taken instead. Losing the take to a concurrent caller
// restarts the attempt.
func (r *Registry) Propose(ctx context.Context, in session.NewEntry, mirror func(existing session.Entry) bool) (session.Entry, bool, error) {
	if len(in.Participants) != 2 {
		return session.Entry{}, false, fmt.Errorf("%w: negotiation needs two participants", ports.ErrInvalidRequest)
	}
	e, raw, err := r.build(in)
	if err != nil {
		return session.Entry{}, false, err
	}
	for attempt := 0; attempt < proposeAttempts; attempt++ {
		res, err := proposeScript.Run(ctx, r.client, r.keys(e), raw, ttlMillis(e, r.now()), e.ID, r.prefix+"session:").Slice()
		if err != nil {
			return session.Entry{}, false, fmt.Errorf("redis propose session: %w", err)
		}
		if code, _ := res[0].(int64); code == 0 {
			return e, false, nil
		}
		holder, _ := res[1].(string)
		heldRaw, _ := res[2].(string)
		held, err := decode(heldRaw)
		if err != nil {
			return session.Entry{}, false, err
		}
		if held.Expired(r.now()) || !held.SamePair(e.Participants) || held.Initiator() == e.Initiator() || mirror == nil || !mirror(held) {
			return session.Entry{}, false, fmt.Errorf("%w: %s already open as %s", ports.ErrSessionConflict, e.Kind, holder)
		}
		taken, err := r.Take(ctx, holder)
		if errors.Is(err, ports.ErrSessionNotFound) {
			continue
		}
		if err != nil {
			return session.Entry{}, false, err
		}
		return taken, true, nil
	}
	return session.Entry{}, false, fmt.Errorf("%w: proposal contended", ports.ErrSessionConflict)
}

func (r *Registry) rewrite(ctx context.Context, e session.Entry, ttl any) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	n, err := rewriteScript.Run(ctx, r.client, r.keys(e), raw, ttl).Int()
	if err != nil {
		return fmt.Errorf("redis rewrite session: %w", err)
	}
	if n == 0 {
		return ports.ErrSessionNotFound
	}
	return nil
}

func (r *Registry) build(in session.NewEntry) (session.Entry, []byte, error) {
	if in.Kind == "" || len(in.Participants) == 0 {
		return session.Entry{}, nil, fmt.Errorf("%w: session kind and participants are required", ports.ErrInvalidRequest)
	}
	seen := map[string]struct{}{}
	for _, p := range in.Participants {
		if _, dup := seen[p]; dup || p == "" {
			return session.Entry{}, nil, fmt.Errorf("%w: bad participant %q", ports.ErrInvalidRequest, p)
		}
		seen[p] = struct{}{}
	}
	now := r.now()
	e := session.Entry{
		ID:           uuid.NewString(),
		Kind:         in.Kind,
		Participants: append([]string(nil), in.Participants...),
		Payload:      append(json.RawMessage(nil), in.Payload...),
		CreatedAt:    now,
		ExpiresAt:    now.Add(session.ClampTTL(in.TTL)),
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return session.Entry{}, nil, fmt.Errorf("encode session: %w", err)
	}
	return e, raw, nil
}

func (r *Registry) keys(e session.Entry) []string {
	keys := []string{r.entryKey(e.ID)}
	for _, p := range e.Participants {
		keys = append(keys, r.indexKey(e.Kind, p))
	}
	return keys
}

func (r *Registry) entryKey(id string) string {
	return r.prefix + "session:" + id
}

func (r *Registry) indexKey(kind session.Kind, participant string) string {
	return r.prefix + "idx:" + session.IndexKey(kind, participant)
}

func ttlMillis(e session.Entry, now time.Time) int64 {
	ms := e.ExpiresAt.Sub(now).Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return ms
}

func decode(raw string) (session.Entry, error) {
	var e session.Entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return session.Entry{}, fmt.Errorf("decode session: %w", err)
	}
	return e, nil
}
