package httpadapter

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"strings"

	"econcore/internal/app/economy"
	"econcore/internal/app/ports"
	"econcore/internal/domain/ledger"
	"econcore/internal/domain/outcome"
	"econcore/internal/domain/workflow"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

const subjectIDHeader = "X-Subject-ID"
const adminTokenHeader = "X-Admin-Token"

type Handler struct {
	Economy    *economy.Engine
	AdminToken string
	KPI        kpiSnapshotProvider
}

func (h Handler) RegisterRoutes(s *server.Hertz) {
	s.Use(corsMiddleware())

	wallet := s.Group("/api/economy")
	wallet.GET("/balance", h.balance)
	wallet.GET("/profile", h.profile)
	wallet.POST("/daily", h.daily)
	wallet.POST("/beg", h.beg)
	wallet.POST("/deposit", h.deposit)
	wallet.POST("/withdraw", h.withdraw)
	wallet.POST("/pay", h.pay)
	wallet.POST("/loan/borrow", h.borrow)
	wallet.POST("/loan/repay", h.repay)
	wallet.POST("/shop/buy", h.buy)
	wallet.POST("/gift", h.gift)

	work := s.Group("/api/work")
	work.POST("/start", h.startWork)
	work.POST("/shift", h.chooseShift)
	work.POST("/check", h.answerCheck)
	work.POST("/task", h.completeTask)
	work.POST("/quality", h.chooseQuality)
	work.POST("/finish", h.finishWork)

	games := s.Group("/api/games")
	games.POST("/blackjack/deal", h.deal)
	games.POST("/blackjack/hit", h.hit)
	games.POST("/blackjack/stand", h.stand)
	games.POST("/coinflip", h.coinflip)
	games.POST("/slots", h.slots)

	deals := s.Group("/api/negotiations")
	deals.GET("", h.pending)
	deals.POST("/trade", h.proposeTrade)
	deals.POST("/duel", h.challengeDuel)
	deals.POST("/marriage", h.proposeMarriage)
	deals.POST("/:id/respond", h.respond)
	deals.POST("/:id/cancel", h.cancel)
	s.POST("/api/marriage/divorce", h.divorce)

	s.POST("/api/admin/reset", h.reset)
	s.GET("/ops/kpi", h.kpi)
}

type amountRequest struct {
	Amount int64 `json:"amount"`
	All    bool  `json:"all,omitempty"`
}

func (r amountRequest) value() int64 {
	if r.All {
		return economy.All
	}
	return r.Amount
}

type payRequest struct {
	To     string `json:"to"`
	Amount int64  `json:"amount"`
}

type itemRequest struct {
	To     string `json:"to,omitempty"`
	ItemID string `json:"item_id"`
}

type workRequest struct {
	Token   string `json:"token"`
	JobID   string `json:"job_id,omitempty"`
	ShiftID string `json:"shift_id,omitempty"`
	Choice  int    `json:"choice,omitempty"`
	Quality string `json:"quality,omitempty"`
}

type betRequest struct {
	Bet  int64  `json:"bet"`
	Call string `json:"call,omitempty"`
}

type tradeRequest struct {
	To    string             `json:"to"`
	Terms economy.TradeTerms `json:"terms"`
}

type duelRequest struct {
	To    string `json:"to"`
	Stake int64  `json:"stake"`
}

type respondRequest struct {
	Accept bool `json:"accept"`
}

func (h Handler) balance(c context.Context, ctx *app.RequestContext) {
	subject, ok := requireSubject(ctx)
	if !ok {
		return
	}
	rec, err := h.Economy.Balance(c, subject)
	respond(ctx, rec, err)
}

func (h Handler) profile(c context.Context, ctx *app.RequestContext) {
	subject, ok := requireSubject(ctx)
	if !ok {
		return
	}
	resp, err := h.Economy.Profile(c, subject)
	respond(ctx, resp, err)
}

func (h Handler) daily(c context.Context, ctx *app.RequestContext) {
	subject, ok := requireSubject(ctx)
	if !ok {
		return
	}
	resp, err := h.Economy.Daily(c, subject)
	respond(ctx, resp, err)
}

func (h Handler) beg(c context.Context, ctx *app.RequestContext) {
	subject, ok := requireSubject(ctx)
	if !ok {
		return
	}
	resp, err := h.Economy.Beg(c, subject)
	respond(ctx, resp, err)
}

func (h Handler) deposit(c context.Context, ctx *app.RequestContext) {
	subject, body, ok := bind[amountRequest](ctx)
	if !ok {
		return
	}
	resp, err := h.Economy.Deposit(c, subject, body.value())
	respond(ctx, resp, err)
}

func (h Handler) withdraw(c context.Context, ctx *app.RequestContext) {
	subject, body, ok := bind[amountRequest](ctx)
	if !ok {
		return
	}
	resp, err := h.Economy.Withdraw(c, subject, body.value())
	respond(ctx, resp, err)
}

func (h Handler) pay(c context.Context, ctx *app.RequestContext) {
	subject, body, ok := bind[payRequest](ctx)
	if !ok {
		return
	}
	resp, err := h.Economy.Pay(c, subject, strings.TrimSpace(body.To), body.Amount)
	respond(ctx, resp, err)
}

func (h Handler) borrow(c context.Context, ctx *app.RequestContext) {
	subject, body, ok := bind[amountRequest](ctx)
	if !ok {
		return
	}
	resp, err := h.Economy.Borrow(c, subject, body.Amount)
	respond(ctx, resp, err)
}

func (h Handler) repay(c context.Context, ctx *app.RequestContext) {
	subject, body, ok := bind[amountRequest](ctx)
	if !ok {
		return
	}
	resp, err := h.Economy.Repay(c, subject, body.value())
	respond(ctx, resp, err)
}

func (h Handler) buy(c context.Context, ctx *app.RequestContext) {
	subject, body, ok := bind[itemRequest](ctx)
	if !ok {
		return
	}
	resp, err := h.Economy.Buy(c, subject, body.ItemID)
	respond(ctx, resp, err)
}

func (h Handler) gift(c context.Context, ctx *app.RequestContext) {
	subject, body, ok := bind[itemRequest](ctx)
	if !ok {
		return
	}
	resp, err := h.Economy.Gift(c, subject, strings.TrimSpace(body.To), body.ItemID)
	respond(ctx, resp, err)
}

func (h Handler) startWork(c context.Context, ctx *app.RequestContext) {
	subject, body, ok := bind[workRequest](ctx)
	if !ok {
		return
	}
	resp, err := h.Economy.StartWork(c, subject, body.JobID)
	respond(ctx, resp, err)
}

func (h Handler) chooseShift(c context.Context, ctx *app.RequestContext) {
	subject, body, ok := bind[workRequest](ctx)
	if !ok {
		return
	}
	resp, err := h.Economy.ChooseShift(c, subject, body.Token, body.ShiftID)
	respond(ctx, resp, err)
}

func (h Handler) answerCheck(c context.Context, ctx *app.RequestContext) {
	subject, body, ok := bind[workRequest](ctx)
	if !ok {
		return
	}
	resp, err := h.Economy.AnswerCheck(c, subject, body.Token, body.Choice)
	respond(ctx, resp, err)
}

func (h Handler) completeTask(c context.Context, ctx *app.RequestContext) {
	subject, body, ok := bind[workRequest](ctx)
	if !ok {
		return
	}
	resp, err := h.Economy.CompleteTask(c, subject, body.Token)
	respond(ctx, resp, err)
}

func (h Handler) chooseQuality(c context.Context, ctx *app.RequestContext) {
	subject, body, ok := bind[workRequest](ctx)
	if !ok {
		return
	}
	resp, err := h.Economy.ChooseQuality(c, subject, body.Token, body.Quality)
	respond(ctx, resp, err)
}

func (h Handler) finishWork(c context.Context, ctx *app.RequestContext) {
	subject, body, ok := bind[workRequest](ctx)
	if !ok {
		return
	}
	resp, err := h.Economy.FinishWork(c, subject, body.Token)
	respond(ctx, resp, err)
}

func (h Handler) deal(c context.Context, ctx *app.RequestContext) {
	subject, body, ok := bind[betRequest](ctx)
	if !ok {
		return
	}
	resp, err := h.Economy.Deal(c, subject, body.Bet)
	respond(ctx, resp, err)
}

func (h Handler) hit(c context.Context, ctx *app.RequestContext) {
	subject, ok := requireSubject(ctx)
	if !ok {
		return
	}
	resp, err := h.Economy.Hit(c, subject)
	respond(ctx, resp, err)
}

func (h Handler) stand(c context.Context, ctx *app.RequestContext) {
	subject, ok := requireSubject(ctx)
	if !ok {
		return
	}
	resp, err := h.Economy.Stand(c, subject)
	respond(ctx, resp, err)
}

func (h Handler) coinflip(c context.Context, ctx *app.RequestContext) {
	subject, body, ok := bind[betRequest](ctx)
	if !ok {
		return
	}
	resp, err := h.Economy.Coinflip(c, subject, body.Bet, body.Call)
	respond(ctx, resp, err)
}

func (h Handler) slots(c context.Context, ctx *app.RequestContext) {
	subject, body, ok := bind[betRequest](ctx)
	if !ok {
		return
	}
	resp, err := h.Economy.Slots(c, subject, body.Bet)
	respond(ctx, resp, err)
}

func (h Handler) pending(c context.Context, ctx *app.RequestContext) {
	subject, ok := requireSubject(ctx)
	if !ok {
		return
	}
	resp, err := h.Economy.Pending(c, subject)
	respond(ctx, map[string]any{"negotiations": resp}, err)
}

func (h Handler) proposeTrade(c context.Context, ctx *app.RequestContext) {
	subject, body, ok := bind[tradeRequest](ctx)
	if !ok {
		return
	}
	resp, err := h.Economy.ProposeTrade(c, subject, strings.TrimSpace(body.To), body.Terms)
	respond(ctx, resp, err)
}

func (h Handler) challengeDuel(c context.Context, ctx *app.RequestContext) {
	subject, body, ok := bind[duelRequest](ctx)
	if !ok {
		return
	}
	resp, err := h.Economy.ChallengeDuel(c, subject, strings.TrimSpace(body.To), body.Stake)
	respond(ctx, resp, err)
}

func (h Handler) proposeMarriage(c context.Context, ctx *app.RequestContext) {
	subject, body, ok := bind[itemRequest](ctx)
	if !ok {
		return
	}
	resp, err := h.Economy.ProposeMarriage(c, subject, strings.TrimSpace(body.To))
	respond(ctx, resp, err)
}

func (h Handler) respond(c context.Context, ctx *app.RequestContext) {
	subject, body, ok := bind[respondRequest](ctx)
	if !ok {
		return
	}
	resp, err := h.Economy.Respond(c, subject, ctx.Param("id"), body.Accept)
	respond(ctx, resp, err)
}

func (h Handler) cancel(c context.Context, ctx *app.RequestContext) {
	subject, ok := requireSubject(ctx)
	if !ok {
		return
	}
	resp, err := h.Economy.Cancel(c, subject, ctx.Param("id"))
	respond(ctx, resp, err)
}

func (h Handler) divorce(c context.Context, ctx *app.RequestContext) {
	subject, ok := requireSubject(ctx)
	if !ok {
		return
	}
	err := h.Economy.Divorce(c, subject)
	respond(ctx, map[string]bool{"divorced": true}, err)
}

// reset is disabled unless an admin token is configured.
func (h Handler) reset(c context.Context, ctx *app.RequestContext) {
	if h.AdminToken == "" {
		writeErrorBody(ctx, consts.StatusNotFound, "not_configured", "admin token not configured")
		return
	}
	got := []byte(strings.TrimSpace(string(ctx.GetHeader(adminTokenHeader))))
	if subtle.ConstantTimeCompare(got, []byte(h.AdminToken)) != 1 {
		writeErrorBody(ctx, consts.StatusForbidden, "unauthorized", "invalid admin token")
		return
	}
	actor := strings.TrimSpace(string(ctx.GetHeader(subjectIDHeader)))
	if actor == "" {
		actor = "admin"
	}
	err := h.Economy.ResetAll(c, actor)
	respond(ctx, map[string]bool{"reset": true}, err)
}

type kpiSnapshotProvider interface {
	SnapshotAny() any
}

func (h Handler) kpi(_ context.Context, ctx *app.RequestContext) {
	if h.KPI == nil {
		writeErrorBody(ctx, consts.StatusNotFound, "not_configured", "kpi provider not configured")
		return
	}
	ctx.JSON(consts.StatusOK, h.KPI.SnapshotAny())
}

func decodeJSON(ctx *app.RequestContext, out any) error {
	body := ctx.Request.Body()
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}

var ErrMissingSubjectHeader = errors.New("missing x-subject-id header")

func requireSubject(ctx *app.RequestContext) (string, bool) {
	subject := strings.TrimSpace(string(ctx.GetHeader(subjectIDHeader)))
	if subject == "" {
		writeError(ctx, ErrMissingSubjectHeader)
		return "", false
	}
	return subject, true
}

// bind resolves the subject and decodes the request body into T.
func bind[T any](ctx *app.RequestContext) (string, T, bool) {
	var body T
	subject, ok := requireSubject(ctx)
	if !ok {
		return "", body, false
	}
	if err := decodeJSON(ctx, &body); err != nil {
		writeErrorBody(ctx, consts.StatusBadRequest, "invalid_json", "invalid json")
		return "", body, false
	}
	return subject, body, true
}

func respond(ctx *app.RequestContext, resp any, err error) {
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, resp)
}

func writeError(ctx *app.RequestContext, err error) {
	var cooldownErr *outcome.CooldownActiveError
	switch {
	case errors.Is(err, ErrMissingSubjectHeader):
		writeErrorBody(ctx, consts.StatusBadRequest, "missing_subject_id", err.Error())
	case errors.As(err, &cooldownErr):
		writeErrorDetails(ctx, consts.StatusTooManyRequests, "cooldown_active", err.Error(), map[string]any{
			"action":            cooldownErr.Action,
			"remaining_seconds": cooldownErr.RemainingSeconds(),
		})
	case errors.Is(err, ports.ErrInsufficientFunds):
		writeErrorBody(ctx, consts.StatusConflict, "insufficient_funds", err.Error())
	case errors.Is(err, ports.ErrSessionConflict):
		writeErrorBody(ctx, consts.StatusConflict, "session_conflict", err.Error())
	case errors.Is(err, ports.ErrSessionNotFound),
		errors.Is(err, ports.ErrSessionExpired):
		writeErrorBody(ctx, consts.StatusNotFound, "session_not_found", err.Error())
	case errors.Is(err, ports.ErrUnauthorized):
		writeErrorBody(ctx, consts.StatusForbidden, "unauthorized", err.Error())
	case errors.Is(err, ports.ErrInvalidTransition):
		writeErrorBody(ctx, consts.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, ledger.ErrItemNotOwned):
		writeErrorBody(ctx, consts.StatusConflict, "item_not_owned", err.Error())
	case errors.Is(err, ledger.ErrDebtOutstanding):
		writeErrorBody(ctx, consts.StatusConflict, "debt_outstanding", err.Error())
	case errors.Is(err, ledger.ErrNoDebt):
		writeErrorBody(ctx, consts.StatusConflict, "no_debt", err.Error())
	case errors.Is(err, workflow.ErrMalformedToken):
		writeErrorBody(ctx, consts.StatusBadRequest, "invalid_token", err.Error())
	case errors.Is(err, ports.ErrInvalidRequest),
		errors.Is(err, ledger.ErrInvalidAmount):
		writeErrorBody(ctx, consts.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, ports.ErrNotFound):
		writeErrorBody(ctx, consts.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, ports.ErrConflict):
		writeErrorBody(ctx, consts.StatusConflict, "conflict", err.Error())
	default:
		writeErrorBody(ctx, consts.StatusInternalServerError, "internal_error", "internal error")
	}
}

func writeErrorBody(ctx *app.RequestContext, status int, code, message string) {
	writeErrorDetails(ctx, status, code, message, nil)
}

func writeErrorDetails(ctx *app.RequestContext, status int, code, message string, details map[string]any) {
	errObj := map[string]any{
		"code":    code,
		"message": message,
	}
	if details != nil {
		errObj["details"] = details
	}
	ctx.JSON(status, map[string]any{"error": errObj})
}
