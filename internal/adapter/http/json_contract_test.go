package httpadapter

import (
	"encoding/json"
	"testing"
	"time"

	"econcore/internal/app/economy"
	"econcore/internal/domain/cards"
	"econcore/internal/domain/ledger"
	"econcore/internal/domain/session"
	"econcore/internal/domain/workflow"
)

func TestResponseJSONUsesSnakeCase(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	rec := ledger.NewAccount("u1", 500, now)
	rec.StampCooldown("beg", now)
	rec.AddItem("rose", now, time.Hour)

	cases := []struct {
		name    string
		payload any
		want    []string
		notWant []string
	}{
		{
			name:    "profile",
			payload: economy.Profile{Account: rec, Cooldowns: map[string]int{"beg": 30}},
			want:    []string{"account", "cooldowns", "active_items"},
			notWant: []string{"Account", "ActiveItems"},
		},
		{
			name:    "work_step",
			payload: economy.WorkStep{Token: "t", Stage: workflow.StageShift, JobID: "barista", TasksTotal: 2},
			want:    []string{"token", "stage", "job_id", "tasks_done", "tasks_total"},
			notWant: []string{"JobID", "TasksDone", "correct"},
		},
		{
			name:    "blackjack",
			payload: economy.BlackjackView{State: economy.BlackjackSettled, Bet: 10, Player: cards.Hand{{Rank: 1, Suit: "spades"}}, Result: cards.ResultPush},
			want:    []string{"state", "bet", "player", "player_value", "dealer", "result", "delta"},
			notWant: []string{"PlayerValue", "session_id"},
		},
		{
			name:    "negotiation",
			payload: economy.Negotiation{SessionID: "s1", Kind: session.KindDuel, Status: economy.StatusAccepted, Initiator: "a", Counterparty: "b", Duel: &economy.DuelOutcome{Winner: "a", Loser: "b", Stake: 5}},
			want:    []string{"session_id", "kind", "status", "initiator", "counterparty", "duel"},
			notWant: []string{"SessionID", "expires_at"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := json.Marshal(tc.payload)
			if err != nil {
				t.Fatalf("marshal failed: %v", err)
			}
			var got map[string]any
			if err := json.Unmarshal(b, &got); err != nil {
				t.Fatalf("unmarshal failed: %v", err)
			}
			for _, key := range tc.want {
				if _, ok := got[key]; !ok {
					t.Fatalf("expected key %q in %s", key, string(b))
				}
			}
			for _, key := range tc.notWant {
				if _, ok := got[key]; ok {
					t.Fatalf("unexpected key %q in %s", key, string(b))
				}
			}
			if tc.name == "profile" {
				account := asMap(got["account"])
				for _, key := range []string{"subject_id", "liquid", "banked", "cooldowns", "inventory", "stats", "progression", "version"} {
					if _, ok := account[key]; !ok {
						t.Fatalf("expected nested key account.%s in %s", key, string(b))
					}
				}
				if _, ok := account["SubjectID"]; ok {
					t.Fatalf("unexpected nested key account.SubjectID in %s", string(b))
				}
			}
		})
	}
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}
