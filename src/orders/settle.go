package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"newstrader/src/connectors"
	"newstrader/src/model"
)

func (e *Executor) unsettledByAccount() map[string][]*model.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string][]*model.Order)
	for _, o := range e.unsettled {
		out[o.AccountID] = append(out[o.AccountID], o)
	}
	for _, list := range out {
		sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	}
	return out
}

func (e *Executor) settled(order *model.Order) {
	e.mu.Lock()
	delete(e.unsettled, order.ID)
	e.mu.Unlock()
}

// settleAccount refetches orders that failed after the exchange acked them.
// The local state stays failed; a fill the exchange reports later still
// reaches the registry, and an order still resting is cancelled. Nothing is
// resubmitted.
func (e *Executor) settleAccount(ctx context.Context, accountID string, list []*model.Order) error {
	account, ok := e.registry.Account(accountID)
	if !ok {
		return fmt.Errorf("settle: unknown account %q", accountID)
	}
	adapter, err := e.adapters.AdapterFor(ctx, account)
	if err != nil {
		return fmt.Errorf("settle %s: %w", accountID, err)
	}

	lock := e.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	var errs []error
	for _, order := range list {
		status, err := e.fetchStatus(ctx, adapter, order.ExchangeOrderID)
		if errors.Is(err, connectors.ErrOrderNotFound) {
			e.settled(order)
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("settle %s: %w", order.ID, err))
			continue
		}

		log := e.Log.WithFields(map[string]interface{}{
			"order_id": order.ID,
			"account":  order.AccountID,
			"symbol":   order.Symbol,
			"exchange": status.State,
		})

		switch status.State {
		case model.OrderStateFilled:
			price := fillPrice(order, status)
			if !price.IsPositive() {
				continue
			}
			if err := e.applyFills(ctx, order, status, price); err != nil {
				errs = append(errs, err)
				continue
			}
			e.mu.Lock()
			order.FilledPrice = price
			order.Reason = "filled on the exchange after confirmation failed"
			order.UpdatedAt = e.now()
			e.mu.Unlock()
			if e.store != nil {
				if err := e.store.Update(context.WithoutCancel(ctx), order); err != nil {
					e.capture(ctx, "settle", err, order)
				}
			}
			e.publish(order, order.State)
			e.settled(order)
			log.WithField("price", price.String()).Warn("late fill applied to failed order")
		case model.OrderStatePending:
			c, cancel := e.exchangeCtx(ctx)
			err := adapter.CancelOrder(c, order.ExchangeOrderID)
			cancel()
			if err != nil && !errors.Is(err, connectors.ErrOrderNotFound) {
				log.WithError(err).Warn("cancel of failed order pending on the exchange")
			}
		default:
			e.settled(order)
			log.Info("failed order settled")
		}
	}
	return errors.Join(errs...)
}

// prune drops terminal orders untouched for TerminalRetention. Parents of
// resting legs stay. Dropped orders still load from the store.
func (e *Executor) prune() {
	if e.cfg.TerminalRetention <= 0 {
		return
	}
	cutoff := e.now().Add(-e.cfg.TerminalRetention)

	e.mu.Lock()
	defer e.mu.Unlock()
	parents := make(map[string]bool)
	for _, o := range e.orders {
		if o.ParentID != nil && !terminal(o.State) {
			parents[o.ParentID.String()] = true
		}
	}
	for id, o := range e.orders {
		if !terminal(o.State) || !o.UpdatedAt.Before(cutoff) || parents[id.String()] {
			continue
		}
		if _, open := e.unsettled[id]; open {
			continue
		}
		delete(e.orders, id)
	}
}

func terminal(state string) bool {
	return len(transitions[state]) == 0
}
