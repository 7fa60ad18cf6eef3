package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"newstrader/src/connectors"
	"newstrader/src/model"
	"newstrader/src/tp_sl"
)

func validateBracket(side string, ref decimal.Decimal, b model.Bracket) error {
	if err := tp_sl.Validate(side, ref, b); err != nil {
		return invalid("bracket", "%v", err)
	}
	return nil
}

// autoBracket attaches take-profit and stop-loss legs to a freshly filled
// entry. A failure is reported on the handle; the entry stays filled.
func (e *Executor) autoBracket(ctx context.Context, adapter connectors.ExchangeAdapter, order *model.Order, inst model.Instrument, explicit *model.Bracket, h *OrderHandle) {
	var b model.Bracket
	switch {
	case explicit != nil:
		b = *explicit
	case e.cfg.AutoBracketOnFill:
		b = tp_sl.FromTradeConfig(order.Side, order.FilledPrice, e.tradeConfig(ctx, order.AccountID), inst)
	default:
		return
	}
	if b.TakeProfit.IsZero() && b.StopLoss.IsZero() {
		return
	}
	if !order.FilledPrice.IsPositive() {
		h.BracketError = fmt.Sprintf("order %s has no fill price, bracket not placed", order.ID)
		return
	}

	legs, err := e.placeBracket(ctx, adapter, order, inst, b)
	for _, leg := range legs {
		h.Legs = append(h.Legs, e.handle(leg))
	}
	if err != nil {
		h.BracketError = err.Error()
	}
	h.Order = e.handle(order).Order
}

// placeBracket validates b against the entry fill price and submits one leg per non-zero price.
func (e *Executor) placeBracket(ctx context.Context, adapter connectors.ExchangeAdapter, parent *model.Order, inst model.Instrument, b model.Bracket) ([]*model.Order, error) {
	b.TakeProfit = inst.RoundPrice(b.TakeProfit)
	b.StopLoss = inst.RoundPrice(b.StopLoss)
	if err := validateBracket(parent.Side, parent.FilledPrice, b); err != nil {
		return nil, err
	}

	var placed []*model.Order
	var errs []error
	for _, leg := range tp_sl.Legs(parent, b) {
		leg.CreatedAt = e.now()
		leg.UpdatedAt = leg.CreatedAt
		if err := e.create(ctx, leg); err != nil {
			errs = append(errs, err)
			continue
		}
		placed = append(placed, leg)
		if err := e.move(ctx, leg, model.OrderStatePending, ""); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := e.send(ctx, adapter, leg, inst); err != nil {
			errs = append(errs, fmt.Errorf("%s leg: %w", leg.Type, err))
		}
	}

	e.mu.Lock()
	parent.Bracket = b
	parent.UpdatedAt = e.now()
	e.mu.Unlock()
	if e.store != nil {
		if err := e.store.Update(ctx, parent); err != nil {
			errs = append(errs, fmt.Errorf("store bracket: %w", err))
		}
	}

	if len(errs) > 0 {
		e.capture(ctx, "placeBracket", errors.Join(errs...), parent)
	}
	return placed, errors.Join(errs...)
}

// AttachBracket places take-profit and stop-loss legs on a filled order,
// replacing any legs still resting. A zero price uses the account default percent.
func (e *Executor) AttachBracket(ctx context.Context, orderID uuid.UUID, tp, sl decimal.Decimal) ([]*OrderHandle, error) {
	b := model.Bracket{TakeProfit: tp, StopLoss: sl}
	parent, err := e.lookup(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if parent.ParentID != nil {
		return nil, invalid("order", "order %s is a bracket leg", orderID)
	}

	lock := e.accountLock(parent.AccountID)
	lock.Lock()
	defer lock.Unlock()

	if parent.State != model.OrderStateFilled {
		return nil, invalid("order", "order %s is %s, brackets need a filled order", orderID, parent.State)
	}

	account, ok := e.registry.Account(parent.AccountID)
	if !ok {
		return nil, fmt.Errorf("attach bracket: unknown account %q", parent.AccountID)
	}
	inst, ok := e.catalog.Lookup(account.ExchangeID, parent.Symbol)
	if !ok {
		return nil, invalid("symbol", "no instrument %s on %s", parent.Symbol, account.ExchangeID)
	}

	defaults := tp_sl.FromTradeConfig(parent.Side, parent.FilledPrice, e.tradeConfig(ctx, parent.AccountID), inst)
	if b.TakeProfit.IsZero() {
		b.TakeProfit = defaults.TakeProfit
	}
	if b.StopLoss.IsZero() {
		b.StopLoss = defaults.StopLoss
	}
	if b.TakeProfit.IsZero() && b.StopLoss.IsZero() {
		return nil, invalid("bracket", "no take profit or stop loss given and the account has no defaults")
	}
	if err := validateBracket(parent.Side, parent.FilledPrice, b); err != nil {
		return nil, err
	}

	adapter, err := e.adapters.AdapterFor(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("attach bracket: %w", err)
	}

	for _, leg := range e.openLegs(parent.ID) {
		if _, err := e.cancelLocked(ctx, adapter, leg, "replaced by new bracket"); err != nil {
			return nil, fmt.Errorf("replace bracket: %w", err)
		}
	}

	legs, err := e.placeBracket(ctx, adapter, parent, inst, b)
	handles := make([]*OrderHandle, 0, len(legs))
	for _, leg := range legs {
		handles = append(handles, e.handle(leg))
	}
	return handles, err
}

// openLegs returns the pending children of parentID.
func (e *Executor) openLegs(parentID uuid.UUID) []*model.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*model.Order
	for _, o := range e.orders {
		if o.ParentID != nil && *o.ParentID == parentID && o.State == model.OrderStatePending {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// pending returns every pending order grouped by account.
func (e *Executor) pending() map[string][]*model.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string][]*model.Order)
	for _, o := range e.orders {
		if o.State == model.OrderStatePending {
			out[o.AccountID] = append(out[o.AccountID], o)
		}
	}
	for _, list := range out {
		sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	}
	return out
}

// cancelLocked cancels one pending order. The caller holds the account lock.
func (e *Executor) cancelLocked(ctx context.Context, adapter connectors.ExchangeAdapter, order *model.Order, reason string) (CancelResult, error) {
	c, cancel := e.exchangeCtx(ctx)
	err := adapter.CancelOrder(c, order.ExchangeOrderID)
	cancel()

	switch {
	case err == nil:
		if err := e.move(ctx, order, model.OrderStateCancelled, reason); err != nil {
			return CancelResult{}, err
		}
		return CancelResult{State: order.State}, nil
	case errors.Is(err, connectors.ErrStateConflict), errors.Is(err, connectors.ErrOrderNotFound):
		return e.resolveConflict(ctx, adapter, order, err)
	default:
		return CancelResult{State: order.State}, fmt.Errorf("cancel %s: %w", order.ID, err)
	}
}

// Reconcile polls every pending order and applies what the exchange reports.
// When a bracket leg fills, its sibling is cancelled. Orders that failed after
// an exchange ack are settled, and old terminal orders leave memory.
func (e *Executor) Reconcile(ctx context.Context) error {
	var errs []error
	for accountID, list := range e.pending() {
		if err := e.reconcileAccount(ctx, accountID, list); err != nil {
			errs = append(errs, err)
		}
	}
	for accountID, list := range e.unsettledByAccount() {
		if err := e.settleAccount(ctx, accountID, list); err != nil {
			errs = append(errs, err)
		}
	}
	e.prune()
	return errors.Join(errs...)
}

func (e *Executor) reconcileAccount(ctx context.Context, accountID string, list []*model.Order) error {
	account, ok := e.registry.Account(accountID)
	if !ok {
		return fmt.Errorf("reconcile: unknown account %q", accountID)
	}
	adapter, err := e.adapters.AdapterFor(ctx, account)
	if err != nil {
		return fmt.Errorf("reconcile %s: %w", accountID, err)
	}

	lock := e.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	var errs []error
	for _, order := range list {
		if order.State != model.OrderStatePending {
			continue
		}
		status, err := e.fetchStatus(ctx, adapter, order.ExchangeOrderID)
		if err != nil {
			errs = append(errs, fmt.Errorf("status %s: %w", order.ID, err))
			continue
		}
		if _, err := e.applyStatus(ctx, order, status); err != nil {
			if _, rejected := connectors.IsRejected(err); !rejected {
				errs = append(errs, err)
			}
			continue
		}
		if order.State == model.OrderStateFilled && order.ParentID != nil {
			for _, sibling := range e.openLegs(*order.ParentID) {
				if _, err := e.cancelLocked(ctx, adapter, sibling, "sibling leg filled"); err != nil {
					errs = append(errs, err)
				}
			}
		}
	}
	return errors.Join(errs...)
}

// TrailStops moves the resting stop legs on symbol behind mark for accounts
// with a trailing stop percent. A moved stop is cancelled and resubmitted.
func (e *Executor) TrailStops(ctx context.Context, symbol string, mark decimal.Decimal) error {
	var errs []error
	for accountID, list := range e.pending() {
		var stops []*model.Order
		for _, o := range list {
			if o.Symbol == symbol && o.Type == model.OrderTypeStop && o.ParentID != nil {
				stops = append(stops, o)
			}
		}
		if len(stops) == 0 {
			continue
		}
		pct := e.tradeConfig(ctx, accountID).TrailingStopPct
		if !pct.IsPositive() {
			continue
		}
		if err := e.trailAccount(ctx, accountID, stops, mark, pct); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Executor) trailAccount(ctx context.Context, accountID string, stops []*model.Order, mark, pct decimal.Decimal) error {
	account, ok := e.registry.Account(accountID)
	if !ok {
		return fmt.Errorf("trail: unknown account %q", accountID)
	}
	adapter, err := e.adapters.AdapterFor(ctx, account)
	if err != nil {
		return fmt.Errorf("trail %s: %w", accountID, err)
	}

	lock := e.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	var errs []error
	for _, stop := range stops {
		if stop.State != model.OrderStatePending {
			continue
		}
		inst, ok := e.catalog.Lookup(account.ExchangeID, stop.Symbol)
		if !ok {
			continue
		}
		parent, err := e.lookup(ctx, *stop.ParentID)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		newSL, moved := tp_sl.ComputeTrailingStop(parent.Side, stop.TriggerPrice, mark, pct, inst)
		if !moved {
			continue
		}

		res, err := e.cancelLocked(ctx, adapter, stop, "trailing stop moved")
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if res.NoOp {
			// the stop fired before it could be moved
			continue
		}

		next := &model.Order{
			ID:           uuid.New(),
			ParentID:     stop.ParentID,
			AccountID:    stop.AccountID,
			ExchangeID:   stop.ExchangeID,
			Symbol:       stop.Symbol,
			Side:         stop.Side,
			Size:         stop.Size,
			Leverage:     stop.Leverage,
			Type:         model.OrderTypeStop,
			TriggerPrice: newSL,
			ReduceOnly:   true,
			State:        model.OrderStateNew,
			CreatedAt:    e.now(),
			UpdatedAt:    e.now(),
		}
		if err := e.create(ctx, next); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := e.move(ctx, next, model.OrderStatePending, ""); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := e.send(ctx, adapter, next, inst); err != nil {
			errs = append(errs, err)
			continue
		}

		e.Log.WithFields(map[string]interface{}{
			"parent_id": parent.ID,
			"symbol":    stop.Symbol,
			"from":      stop.TriggerPrice.String(),
			"to":        newSL.String(),
		}).Info("trailing stop moved")

		e.mu.Lock()
		parent.Bracket.StopLoss = newSL
		parent.UpdatedAt = e.now()
		e.mu.Unlock()
		if e.store != nil {
			if err := e.store.Update(ctx, parent); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
