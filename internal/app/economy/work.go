package economy

import (
	"context"
	"fmt"
	"time"

	"econcore/internal/app/ports"
	"econcore/internal/app/shared/cooldown"
	"econcore/internal/config"
	"econcore/internal/domain/ledger"
	"econcore/internal/domain/outcome"
	"econcore/internal/domain/workflow"
)

// StartWork opens the pipeline for jobID. The returned token is bound to the
// account's current work sequence, so it dies once any shift settles.
func (e *Engine) StartWork(ctx context.Context, subjectID, jobID string) (WorkStep, error) {
	step, err := e.startWork(ctx, subjectID, jobID)
	return step, e.observe(FlowWork, err)
}

func (e *Engine) startWork(ctx context.Context, subjectID, jobID string) (WorkStep, error) {
	job, ok := e.Tuning.Job(jobID)
	if !ok {
		return WorkStep{}, fmt.Errorf("%w: unknown job %q", ports.ErrInvalidRequest, jobID)
	}
	rec, err := e.Ledger.Get(ctx, subjectID)
	if err != nil {
		return WorkStep{}, err
	}
	if rec.Progression.Level < job.MinLevel {
		return WorkStep{}, fmt.Errorf("%w: %s needs level %d", ports.ErrInvalidRequest, job.ID, job.MinLevel)
	}
	if err := cooldown.Check(rec, workGate(rec), e.Now()); err != nil {
		return WorkStep{}, err
	}
	tok := workflow.Token{
		Flow:       workflow.FlowWork,
		Owner:      subjectID,
		Stage:      workflow.StageJob,
		Seq:        rec.Progression.WorkSeq,
		JobID:      job.ID,
		TasksTotal: job.Tasks,
	}
	return e.workStep(tok, nil)
}

// ChooseShift fixes the shift and draws the check. The draw depends only on the
// subject, sequence and job, so replaying an earlier token shows the same check.
func (e *Engine) ChooseShift(ctx context.Context, subjectID, rawToken, shiftID string) (WorkStep, error) {
	step, err := e.advanceWork(ctx, subjectID, rawToken, workflow.StageShift, func(tok *workflow.Token, job config.Job) (*config.Check, error) {
		if _, ok := e.Tuning.Shift(shiftID); !ok {
			return nil, fmt.Errorf("%w: unknown shift %q", ports.ErrInvalidRequest, shiftID)
		}
		tok.ShiftID = shiftID
		tok.Check = e.Tokens.Pick(len(job.Checks), fmt.Sprintf("%s|%d|%s", tok.Owner, tok.Seq, tok.JobID))
		check := job.Checks[tok.Check]
		return &check, nil
	})
	return step, e.observe(FlowWork, err)
}

// AnswerCheck records the choice. Whether it was right only shows in the payout.
func (e *Engine) AnswerCheck(ctx context.Context, subjectID, rawToken string, choice int) (WorkStep, error) {
	step, err := e.advanceWork(ctx, subjectID, rawToken, workflow.StageCheck, func(tok *workflow.Token, job config.Job) (*config.Check, error) {
		check, ok := jobCheck(job, tok.Check)
		if !ok {
			return nil, fmt.Errorf("%w: work token references retired check", ports.ErrInvalidRequest)
		}
		if choice < 0 || choice >= len(check.Options) {
			return nil, fmt.Errorf("%w: choice %d out of range", ports.ErrInvalidRequest, choice)
		}
		tok.Choice = choice
		return nil, nil
	})
	return step, e.observe(FlowWork, err)
}

func (e *Engine) CompleteTask(ctx context.Context, subjectID, rawToken string) (WorkStep, error) {
	step, err := e.advanceWork(ctx, subjectID, rawToken, workflow.StageTasks, nil)
	return step, e.observe(FlowWork, err)
}

func (e *Engine) ChooseQuality(ctx context.Context, subjectID, rawToken, qualityID string) (WorkStep, error) {
	step, err := e.advanceWork(ctx, subjectID, rawToken, workflow.StageQuality, func(tok *workflow.Token, _ config.Job) (*config.Check, error) {
		if _, ok := e.Tuning.Quality(qualityID); !ok {
			return nil, fmt.Errorf("%w: unknown quality %q", ports.ErrInvalidRequest, qualityID)
		}
		tok.Quality = qualityID
		return nil, nil
	})
	return step, e.observe(FlowWork, err)
}

// FinishWork settles the shift. Pay is hourly pay times hours, then floored
// after each of the quality, correctness, streak and boost multipliers.
func (e *Engine) FinishWork(ctx context.Context, subjectID, rawToken string) (WorkPayout, error) {
	out, err := e.finishWork(ctx, subjectID, rawToken)
	if err == nil {
		e.settled(FlowWork, subjectID, out.Pay, "streak", out.Streak)
	}
	return out, e.observe(FlowWork, err)
}

func (e *Engine) finishWork(ctx context.Context, subjectID, rawToken string) (WorkPayout, error) {
	tok, err := e.openWork(ctx, subjectID, rawToken)
	if err != nil {
		return WorkPayout{}, err
	}
	next, err := tok.Advance(subjectID, workflow.StageSettled)
	if err != nil {
		return WorkPayout{}, err
	}
	job, jobOK := e.Tuning.Job(next.JobID)
	shift, shiftOK := e.Tuning.Shift(next.ShiftID)
	quality, qualityOK := e.Tuning.Quality(next.Quality)
	check, checkOK := jobCheck(job, next.Check)
	if !jobOK || !shiftOK || !qualityOK || !checkOK {
		return WorkPayout{}, fmt.Errorf("%w: work token references retired tuning", ports.ErrInvalidRequest)
	}

	now := e.Now()
	correctness := e.Tuning.Correctness.Wrong
	if next.Choice == check.Answer {
		correctness = e.Tuning.Correctness.Right
	}
	base := job.HourlyPay * int64(shift.Hours)
	var out WorkPayout
	rec, err := e.apply(ctx, subjectID, now, func(r ledger.AccountRecord) (ledger.AccountRecord, error) {
		if r.Progression.WorkSeq != next.Seq {
			return r, &workflow.TransitionError{From: workflow.StageSettled, To: workflow.StageSettled}
		}
		if err := cooldown.Check(r, workGate(r), now); err != nil {
			return r, err
		}
		if last, ok := r.LastAction(ActionWork); ok && now.Sub(last) <= time.Duration(r.Progression.LastShiftHours)*time.Hour+e.Tuning.Streak.Window {
			r.Progression.WorkStreak++
		} else {
			r.Progression.WorkStreak = 1
		}
		multipliers := []float64{
			quality.Multiplier,
			correctness,
			e.Tuning.Streak.Multiplier(r.Progression.WorkStreak),
			e.workBoost(r, now),
		}
		pay := outcome.ApplyMultipliers(base, multipliers...)
		if pay > 0 {
			if err := r.Credit(pay); err != nil {
				return r, err
			}
		}
		r.Progression.WorkSeq++
		r.Progression.LastShiftHours = shift.Hours
		r.StampCooldown(ActionWork, now)
		gained := r.AddExperience(int64(job.Experience))
		out = WorkPayout{
			Base:         base,
			Multipliers:  multipliers,
			Pay:          pay,
			Streak:       r.Progression.WorkStreak,
			LevelsGained: gained,
		}
		return r, nil
	})
	if err != nil {
		return WorkPayout{}, err
	}
	out.Balance = rec.Liquid
	out.Level = rec.Progression.Level
	if out.Token, err = e.Tokens.Encode(next); err != nil {
		return WorkPayout{}, err
	}
	return out, nil
}

func jobCheck(job config.Job, i int) (config.Check, bool) {
	if i < 0 || i >= len(job.Checks) {
		return config.Check{}, false
	}
	return job.Checks[i], true
}

// workBoost is the strongest active shop boost, or 1.
func (e *Engine) workBoost(r ledger.AccountRecord, now time.Time) float64 {
	best := 1.0
	for _, item := range e.Tuning.Shop {
		if item.WorkBoost > best && r.HasActiveItem(item.ID, now) {
			best = item.WorkBoost
		}
	}
	return best
}

// openWork decodes rawToken for subjectID and rejects tokens from a sequence
// that has already settled.
func (e *Engine) openWork(ctx context.Context, subjectID, rawToken string) (workflow.Token, error) {
	tok, err := e.Tokens.Open(rawToken, workflow.FlowWork, subjectID)
	if err != nil {
		return workflow.Token{}, err
	}
	rec, err := e.Ledger.Get(ctx, subjectID)
	if err != nil {
		return workflow.Token{}, err
	}
	if tok.Seq != rec.Progression.WorkSeq {
		return workflow.Token{}, &workflow.TransitionError{From: tok.Stage, To: workflow.StageSettled}
	}
	return tok, nil
}

func (e *Engine) advanceWork(ctx context.Context, subjectID, rawToken string, to workflow.Stage, fill func(*workflow.Token, config.Job) (*config.Check, error)) (WorkStep, error) {
	tok, err := e.openWork(ctx, subjectID, rawToken)
	if err != nil {
		return WorkStep{}, err
	}
	next, err := tok.Advance(subjectID, to)
	if err != nil {
		return WorkStep{}, err
	}
	job, ok := e.Tuning.Job(next.JobID)
	if !ok {
		return WorkStep{}, fmt.Errorf("%w: work token references retired job %q", ports.ErrInvalidRequest, next.JobID)
	}
	var check *config.Check
	if fill != nil {
		if check, err = fill(&next, job); err != nil {
			return WorkStep{}, err
		}
	}
	return e.workStep(next, check)
}

func (e *Engine) workStep(tok workflow.Token, check *config.Check) (WorkStep, error) {
	raw, err := e.Tokens.Encode(tok)
	if err != nil {
		return WorkStep{}, err
	}
	step := WorkStep{
		Token:      raw,
		Stage:      tok.Stage,
		JobID:      tok.JobID,
		ShiftID:    tok.ShiftID,
		TasksDone:  tok.TasksDone,
		TasksTotal: tok.TasksTotal,
	}
	if check != nil {
		step.Prompt = check.Prompt
		step.Options = check.Options
	}
	if next, _ := tok.Successor(); next == workflow.StageQuality {
		for _, q := range e.Tuning.Qualities {
			step.Qualities = append(step.Qualities, q.ID)
		}
	}
	return step, nil
}
