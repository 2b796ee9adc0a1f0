package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"econcore/internal/domain/session"
	"econcore/internal/domain/workflow"

	"gopkg.in/yaml.v3"
)

// Transfer kinds with their own fee policy.
const (
	TransferPay   = "pay"
	TransferGift  = "gift"
	TransferTrade = "trade"
)

// Tuning holds every economy table. Zero values are never used directly:
// DefaultTuning fills them and a YAML file overrides any subset.
type Tuning struct {
	StartingBalance int64                          `yaml:"starting_balance"`
	Cooldowns       Cooldowns                      `yaml:"cooldowns"`
	SessionTTLs     map[session.Kind]time.Duration `yaml:"session_ttls"`
	Daily           DailyReward                    `yaml:"daily"`
	Beg             BegReward                      `yaml:"beg"`
	Betting         Betting                        `yaml:"betting"`
	Jobs            []Job                          `yaml:"jobs"`
	Shifts          []Shift                        `yaml:"shifts"`
	Qualities       []QualityTier                  `yaml:"qualities"`
	Correctness     Correctness                    `yaml:"correctness"`
	Streak          Streak                         `yaml:"streak"`
	Slots           []SlotOutcome                  `yaml:"slots"`
	Blackjack       Blackjack                      `yaml:"blackjack"`
	Fees            map[string]int64               `yaml:"fees"`
	Shop            []ShopItem                     `yaml:"shop"`
	Loan            LoanPolicy                     `yaml:"loan"`
	MarriageItem    string                         `yaml:"marriage_item"`
}

type Cooldowns struct {
	Beg    time.Duration `yaml:"beg"`
	Daily  time.Duration `yaml:"daily"`
	Gamble time.Duration `yaml:"gamble"`
	Duel   time.Duration `yaml:"duel"`
}

type DailyReward struct {
	Base        int64         `yaml:"base"`
	StreakStep  int64         `yaml:"streak_step"`
	StreakCap   int           `yaml:"streak_cap"`
	StreakGrace time.Duration `yaml:"streak_grace"`
}

type BegReward struct {
	Min int64 `yaml:"min"`
	Max int64 `yaml:"max"`
}

type Betting struct {
	Min int64 `yaml:"min"`
	Max int64 `yaml:"max"`
}

type Job struct {
	ID         string  `yaml:"id"`
	Name       string  `yaml:"name"`
	HourlyPay  int64   `yaml:"hourly_pay"`
	Tasks      int     `yaml:"tasks"`
	MinLevel   int     `yaml:"min_level"`
	Experience int     `yaml:"experience"`
	Checks     []Check `yaml:"checks"`
}

type Check struct {
	Prompt  string   `yaml:"prompt"`
	Options []string `yaml:"options"`
	Answer  int      `yaml:"answer"`
}

type Shift struct {
	ID    string `yaml:"id"`
	Hours int    `yaml:"hours"`
}

func (s Shift) Duration() time.Duration {
	return time.Duration(s.Hours) * time.Hour
}

type QualityTier struct {
	ID         string  `yaml:"id"`
	Multiplier float64 `yaml:"multiplier"`
}

type Correctness struct {
	Right float64 `yaml:"right"`
	Wrong float64 `yaml:"wrong"`
}

// Streak rewards consecutive shifts finished within Window of the last one.
type Streak struct {
	Step   float64       `yaml:"step"`
	Max    float64       `yaml:"max"`
	Window time.Duration `yaml:"window"`
}

// Multiplier for a streak of n consecutive shifts, the first being n=1.
func (s Streak) Multiplier(n int) float64 {
	if n <= 1 {
		return 1
	}
	m := 1 + s.Step*float64(n-1)
	if s.Max > 0 && m > s.Max {
		return s.Max
	}
	return m
}

type SlotOutcome struct {
	Symbol     string  `yaml:"symbol"`
	Weight     float64 `yaml:"weight"`
	Multiplier float64 `yaml:"multiplier"`
}

type Blackjack struct {
	NaturalMultiplier float64 `yaml:"natural_multiplier"`
}

type ShopItem struct {
	ID        string        `yaml:"id"`
	Name      string        `yaml:"name"`
	Price     int64         `yaml:"price"`
	Lifetime  time.Duration `yaml:"lifetime"`
	WorkBoost float64       `yaml:"work_boost"`
}

type LoanPolicy struct {
	MaxPrincipal int64         `yaml:"max_principal"`
	Term         time.Duration `yaml:"term"`
}

func DefaultTuning() Tuning {
	ttls := make(map[session.Kind]time.Duration, len(session.DefaultTTLs))
	for k, v := range session.DefaultTTLs {
		ttls[k] = v
	}
	return Tuning{
		StartingBalance: 500,
		Cooldowns: Cooldowns{
			Beg:    60 * time.Second,
			Daily:  24 * time.Hour,
			Gamble: 2 * time.Minute,
			Duel:   10 * time.Minute,
		},
		SessionTTLs: ttls,
		Daily:       DailyReward{Base: 200, StreakStep: 20, StreakCap: 7, StreakGrace: 48 * time.Hour},
		Beg:         BegReward{Min: 1, Max: 25},
		Betting:     Betting{Min: 10, Max: 50_000},
		Jobs: []Job{
			{
				ID: "barista", Name: "Barista", HourlyPay: 40, Tasks: 2, MinLevel: 1, Experience: 20,
				Checks: []Check{
					{Prompt: "Which drink is a shot of espresso topped with foam?", Options: []string{"Latte", "Cappuccino", "Americano"}, Answer: 1},
					{Prompt: "What grind suits espresso?", Options: []string{"Coarse", "Medium", "Fine"}, Answer: 2},
				},
			},
			{
				ID: "courier", Name: "Courier", HourlyPay: 55, Tasks: 3, MinLevel: 2, Experience: 30,
				Checks: []Check{
					{Prompt: "A parcel marked fragile goes where?", Options: []string{"Bottom of the bag", "Top of the bag", "Anywhere"}, Answer: 1},
				},
			},
			{
				ID: "engineer", Name: "Engineer", HourlyPay: 90, Tasks: 4, MinLevel: 5, Experience: 50,
				Checks: []Check{
					{Prompt: "What does a failing CI build block?", Options: []string{"The merge", "The coffee", "Nothing"}, Answer: 0},
					{Prompt: "2 to the power of 10 is", Options: []string{"1000", "1024", "2048"}, Answer: 1},
				},
			},
		},
		Shifts: []Shift{{ID: "2h", Hours: 2}, {ID: "4h", Hours: 4}, {ID: "6h", Hours: 6}, {ID: "8h", Hours: 8}},
		Qualities: []QualityTier{
			{ID: "sloppy", Multiplier: 0.8},
			{ID: "standard", Multiplier: 1.0},
			{ID: "excellent", Multiplier: 1.2},
		},
		Correctness: Correctness{Right: 1.1, Wrong: 0.9},
		Streak:      Streak{Step: 0.05, Max: 1.5, Window: 24 * time.Hour},
		Slots: []SlotOutcome{
			{Symbol: "skull", Weight: 30, Multiplier: 0},
			{Symbol: "cherry", Weight: 25, Multiplier: 0.5},
			{Symbol: "lemon", Weight: 20, Multiplier: 1},
			{Symbol: "bell", Weight: 15, Multiplier: 2},
			{Symbol: "bar", Weight: 7, Multiplier: 3},
			{Symbol: "seven", Weight: 3, Multiplier: 10},
		},
		Blackjack: Blackjack{NaturalMultiplier: 1.5},
		Fees: map[string]int64{
			TransferPay:   500,
			TransferGift:  0,
			TransferTrade: 0,
		},
		Shop: []ShopItem{
			{ID: "coffee", Name: "Coffee", Price: 150, Lifetime: 4 * time.Hour, WorkBoost: 1.25},
			{ID: "toolkit", Name: "Toolkit", Price: 900, Lifetime: 72 * time.Hour, WorkBoost: 1.5},
			{ID: "ring", Name: "Ring", Price: 2_500, Lifetime: 365 * 24 * time.Hour},
			{ID: "rose", Name: "Rose", Price: 40, Lifetime: 24 * time.Hour},
		},
		Loan:         LoanPolicy{MaxPrincipal: 5_000, Term: 72 * time.Hour},
		MarriageItem: "ring",
	}
}

// LoadTuning overlays the YAML file at path onto DefaultTuning. An empty path
// yields the defaults.
func LoadTuning(path string) (Tuning, error) {
	t := DefaultTuning()
	if path == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Tuning{}, fmt.Errorf("read tuning: %w", err)
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return Tuning{}, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return Tuning{}, err
	}
	return t, nil
}

func (t Tuning) Validate() error {
	var errs []error
	if t.StartingBalance < 0 {
		errs = append(errs, errors.New("starting_balance must not be negative"))
	}
	if t.Beg.Min < 1 || t.Beg.Max < t.Beg.Min {
		errs = append(errs, errors.New("beg range must satisfy 1 <= min <= max"))
	}
	if t.Betting.Min < 1 || t.Betting.Max < t.Betting.Min {
		errs = append(errs, errors.New("betting range must satisfy 1 <= min <= max"))
	}
	if len(t.Jobs) == 0 || len(t.Shifts) == 0 || len(t.Qualities) == 0 {
		errs = append(errs, errors.New("jobs, shifts and qualities must not be empty"))
	}
	for _, j := range t.Jobs {
		if !workflow.ValidField(j.ID) {
			errs = append(errs, fmt.Errorf("job id %q must be non-empty, free of '_' and not \"-\"", j.ID))
		}
		if j.HourlyPay <= 0 || j.Tasks < 1 || len(j.Checks) == 0 {
			errs = append(errs, fmt.Errorf("job %q needs positive pay, tasks and checks", j.ID))
		}
		for _, c := range j.Checks {
			if c.Answer < 0 || c.Answer >= len(c.Options) {
				errs = append(errs, fmt.Errorf("job %q check %q answer out of range", j.ID, c.Prompt))
			}
		}
	}
	for _, s := range t.Shifts {
		if !workflow.ValidField(s.ID) || s.Hours <= 0 {
			errs = append(errs, fmt.Errorf("shift %q needs a token-safe id and positive hours", s.ID))
		}
	}
	for _, q := range t.Qualities {
		if !workflow.ValidField(q.ID) || q.Multiplier <= 0 {
			errs = append(errs, fmt.Errorf("quality %q needs a token-safe id and a positive multiplier", q.ID))
		}
	}
	if t.Correctness.Right <= 0 || t.Correctness.Wrong <= 0 {
		errs = append(errs, errors.New("correctness multipliers must be positive"))
	}
	var slotWeight float64
	for _, s := range t.Slots {
		if s.Weight < 0 || s.Multiplier < 0 {
			errs = append(errs, fmt.Errorf("slot %q has a negative weight or multiplier", s.Symbol))
		}
		slotWeight += s.Weight
	}
	if slotWeight <= 0 {
		errs = append(errs, errors.New("slots need a positive total weight"))
	}
	for _, it := range t.Shop {
		if it.ID == "" || it.Price <= 0 || it.Lifetime <= 0 {
			errs = append(errs, fmt.Errorf("shop item %q needs a positive price and lifetime", it.ID))
		}
	}
	if t.Loan.MaxPrincipal <= 0 || t.Loan.Term <= 0 {
		errs = append(errs, errors.New("loan needs a positive max_principal and term"))
	}
	for kind, bp := range t.Fees {
		if bp < 0 || bp >= 10_000 {
			errs = append(errs, fmt.Errorf("fee for %q must be in [0, 10000) basis points", kind))
		}
	}
	for kind, ttl := range t.SessionTTLs {
		if ttl <= 0 || ttl > session.MaxTTL {
			errs = append(errs, fmt.Errorf("session ttl for %q must be in (0, %s]", kind, session.MaxTTL))
		}
	}
	return errors.Join(errs...)
}

func (t Tuning) Job(id string) (Job, bool) {
	for _, j := range t.Jobs {
		if j.ID == id {
			return j, true
		}
	}
	return Job{}, false
}

func (t Tuning) Shift(id string) (Shift, bool) {
	for _, s := range t.Shifts {
		if s.ID == id {
			return s, true
		}
	}
	return Shift{}, false
}

func (t Tuning) Quality(id string) (QualityTier, bool) {
	for _, q := range t.Qualities {
		if q.ID == id {
			return q, true
		}
	}
	return QualityTier{}, false
}

func (t Tuning) Item(id string) (ShopItem, bool) {
	for _, it := range t.Shop {
		if it.ID == id {
			return it, true
		}
	}
	return ShopItem{}, false
}

// FeeBasisPoints returns the configured fee for a transfer kind, zero when
// the kind has no entry.
func (t Tuning) FeeBasisPoints(kind string) int64 {
	return t.Fees[kind]
}

func (t Tuning) TTL(kind session.Kind) time.Duration {
	if ttl, ok := t.SessionTTLs[kind]; ok {
		return ttl
	}
	if ttl, ok := session.DefaultTTLs[kind]; ok {
		return ttl
	}
	return session.MaxTTL
}
