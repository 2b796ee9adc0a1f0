package session

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

type Kind string

const (
	KindTrade     Kind = "trade"
	KindDuel      Kind = "duel"
	KindMarriage  Kind = "marriage"
	KindBlackjack Kind = "blackjack"
	KindCoinflip  Kind = "coinflip"
)

// Negotiation kinds are keyed by the unordered participant pair.
func (k Kind) Negotiation() bool {
	switch k {
	case KindTrade, KindDuel, KindMarriage:
		return true
	default:
		return false
	}
}

var DefaultTTLs = map[Kind]time.Duration{
	KindTrade:     5 * time.Minute,
	KindDuel:      60 * time.Second,
	KindMarriage:  5 * time.Minute,
	KindBlackjack: 10 * time.Minute,
	KindCoinflip:  30 * time.Second,
}

// MaxTTL bounds every entry so a lock held until settlement cannot orphan.
const MaxTTL = 30 * time.Minute

type Entry struct {
	ID           string          `json:"id"`
	Kind         Kind            `json:"kind"`
	Participants []string        `json:"participants"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	ExpiresAt    time.Time       `json:"expires_at"`
}

// Initiator is the first participant: the proposer of a negotiation or the
// player of a single-party game.
func (e Entry) Initiator() string {
	if len(e.Participants) == 0 {
		return ""
	}
	return e.Participants[0]
}

func (e Entry) Counterparty() string {
	if len(e.Participants) < 2 {
		return ""
	}
	return e.Participants[1]
}

func (e Entry) Has(subjectID string) bool {
	for _, p := range e.Participants {
		if p == subjectID {
			return true
		}
	}
	return false
}

func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// SamePair reports whether e joins exactly the given participants, in any order.
func (e Entry) SamePair(participants []string) bool {
	return PairKey(e.Participants) == PairKey(participants)
}

// PairKey canonicalises a participant set so a negotiation and its mirror
// share one key.
func PairKey(participants []string) string {
	ids := append([]string(nil), participants...)
	sort.Strings(ids)
	return strings.Join(ids, "|")
}

// IndexKey is the exclusivity key for one participant within one kind.
func IndexKey(kind Kind, participant string) string {
	return string(kind) + ":" + participant
}

type NewEntry struct {
	Kind         Kind
	Participants []string
	Payload      json.RawMessage
	TTL          time.Duration
}

func ClampTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 || ttl > MaxTTL {
		return MaxTTL
	}
	return ttl
}
