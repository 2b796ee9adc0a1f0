// Package workflow carries single-owner multi-stage state across stateless
// round trips as a signed, underscore-delimited token:
//
//	{flow}_{owner}_{stage}_{seq}_{job}_{shift}_{check}_{choice}_{done}_{total}_{quality}_{sig}
//
// The owner is hex encoded so any subject id fits. The token never carries a
// check's answer or whether the choice was right. Callers treat the string as
// opaque.
package workflow

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrMalformedToken    = errors.New("malformed workflow token")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidTransition = errors.New("invalid transition")
)

const (
	FlowWork   = "work"
	separator  = "_"
	emptyField = "-"
	fieldCount = 12
	sigBytes   = 12
)

type Stage string

const (
	StageJob     Stage = "job"
	StageShift   Stage = "shift"
	StageCheck   Stage = "check"
	StageTasks   Stage = "tasks"
	StageQuality Stage = "quality"
	StageSettled Stage = "settled"
)

type Token struct {
	Flow       string
	Owner      string
	Stage      Stage
	Seq        int64
	JobID      string
	ShiftID    string
	Check      int
	Choice     int
	TasksDone  int
	TasksTotal int
	Quality    string
}

// TransitionError reports the stage a token was at and the stage requested.
type TransitionError struct {
	From Stage
	To   Stage
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s -> %s", ErrInvalidTransition, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// Successor returns the only stage that may follow t.
func (t Token) Successor() (Stage, bool) {
	switch t.Stage {
	case StageJob:
		return StageShift, true
	case StageShift:
		return StageCheck, true
	case StageCheck:
		return StageTasks, true
	case StageTasks:
		if t.TasksDone < t.TasksTotal {
			return StageTasks, true
		}
		return StageQuality, true
	case StageQuality:
		return StageSettled, true
	default:
		return "", false
	}
}

// Advance checks ownership and that to is the unique successor of the current
// stage, then returns the token moved to that stage.
func (t Token) Advance(subjectID string, to Stage) (Token, error) {
	if t.Owner != subjectID {
		return Token{}, ErrUnauthorized
	}
	next, ok := t.Successor()
	if !ok || next != to {
		return Token{}, &TransitionError{From: t.Stage, To: to}
	}
	out := t
	out.Stage = to
	if to == StageTasks {
		out.TasksDone++
	}
	return out, nil
}

type Codec struct {
	secret []byte
}

func NewCodec(secret []byte) (Codec, error) {
	if len(secret) == 0 {
		return Codec{}, errors.New("workflow token secret is empty")
	}
	return Codec{secret: append([]byte(nil), secret...)}, nil
}

// ValidField reports whether s can sit in a token field verbatim.
func ValidField(s string) bool {
	return s != "" && s != emptyField && !strings.Contains(s, separator)
}

func (c Codec) Encode(t Token) (string, error) {
	if t.Owner == "" {
		return "", fmt.Errorf("%w: empty owner", ErrMalformedToken)
	}
	for _, f := range []string{t.Flow, string(t.Stage)} {
		if !ValidField(f) {
			return "", fmt.Errorf("%w: field %q", ErrMalformedToken, f)
		}
	}
	for _, f := range []string{t.JobID, t.ShiftID, t.Quality} {
		if f != "" && !ValidField(f) {
			return "", fmt.Errorf("%w: field %q", ErrMalformedToken, f)
		}
	}
	fields := []string{
		t.Flow,
		hex.EncodeToString([]byte(t.Owner)),
		string(t.Stage),
		strconv.FormatInt(t.Seq, 10),
		orEmpty(t.JobID),
		orEmpty(t.ShiftID),
		strconv.Itoa(t.Check),
		strconv.Itoa(t.Choice),
		strconv.Itoa(t.TasksDone),
		strconv.Itoa(t.TasksTotal),
		orEmpty(t.Quality),
	}
	body := strings.Join(fields, separator)
	return body + separator + c.sign(body), nil
}

func (c Codec) Decode(raw string) (Token, error) {
	parts := strings.Split(raw, separator)
	if len(parts) != fieldCount {
		return Token{}, fmt.Errorf("%w: want %d fields, got %d", ErrMalformedToken, fieldCount, len(parts))
	}
	body := strings.Join(parts[:fieldCount-1], separator)
	if !hmac.Equal([]byte(parts[fieldCount-1]), []byte(c.sign(body))) {
		return Token{}, fmt.Errorf("%w: bad signature", ErrMalformedToken)
	}

	owner, err := hex.DecodeString(parts[1])
	if err != nil || len(owner) == 0 {
		return Token{}, fmt.Errorf("%w: owner", ErrMalformedToken)
	}
	seq, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return Token{}, fmt.Errorf("%w: seq: %v", ErrMalformedToken, err)
	}
	check, err := strconv.Atoi(parts[6])
	if err != nil {
		return Token{}, fmt.Errorf("%w: check: %v", ErrMalformedToken, err)
	}
	choice, err := strconv.Atoi(parts[7])
	if err != nil {
		return Token{}, fmt.Errorf("%w: choice: %v", ErrMalformedToken, err)
	}
	done, err := strconv.Atoi(parts[8])
	if err != nil {
		return Token{}, fmt.Errorf("%w: done: %v", ErrMalformedToken, err)
	}
	total, err := strconv.Atoi(parts[9])
	if err != nil {
		return Token{}, fmt.Errorf("%w: total: %v", ErrMalformedToken, err)
	}
	return Token{
		Flow:       parts[0],
		Owner:      string(owner),
		Stage:      Stage(parts[2]),
		Seq:        seq,
		JobID:      fromEmpty(parts[4]),
		ShiftID:    fromEmpty(parts[5]),
		Check:      check,
		Choice:     choice,
		TasksDone:  done,
		TasksTotal: total,
		Quality:    fromEmpty(parts[10]),
	}, nil
}

// Open decodes raw and checks it belongs to flow and subjectID.
func (c Codec) Open(raw, flow, subjectID string) (Token, error) {
	t, err := c.Decode(raw)
	if err != nil {
		return Token{}, err
	}
	if t.Flow != flow {
		return Token{}, fmt.Errorf("%w: flow %q", ErrMalformedToken, t.Flow)
	}
	if t.Owner != subjectID {
		return Token{}, ErrUnauthorized
	}
	return t, nil
}

// Pick maps key onto [0, n) under the token secret. The same key always
// draws the same index.
func (c Codec) Pick(n int, key string) int {
	if n <= 1 {
		return 0
	}
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte("pick:" + key))
	return int(binary.BigEndian.Uint64(mac.Sum(nil)[:8]) % uint64(n))
}

func (c Codec) sign(body string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil)[:sigBytes])
}

func orEmpty(s string) string {
	if s == "" {
		return emptyField
	}
	return s
}

func fromEmpty(s string) string {
	if s == emptyField {
		return ""
	}
	return s
}
