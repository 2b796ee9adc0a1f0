package economy

import "context"

// ResetAll wipes every account. In-flight applies either finish before the
// wipe or start against fresh accounts.
func (e *Engine) ResetAll(ctx context.Context, actor string) error {
	if err := e.Ledger.ResetAll(ctx); err != nil {
		return e.observe(FlowAdmin, err)
	}
	e.Logger.Warn("ledger reset", "actor", actor)
	return e.observe(FlowAdmin, nil)
}
