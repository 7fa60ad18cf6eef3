package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"newstrader/src/connectors"
	"newstrader/src/messaging"
	"newstrader/src/model"
	"newstrader/src/utils"
)

// Catalog resolves instruments.
type Catalog interface {
	Lookup(exchangeID, symbol string) (model.Instrument, bool)
}

// Registry is the account and position registry used by the executor.
type Registry interface {
	Account(id string) (model.Account, bool)
	ApplyFill(ctx context.Context, fill model.Fill) (bool, error)
	ReplacePositions(ctx context.Context, accountID string, positions []model.Position) error
}

// Adapters resolves the exchange adapter of an account.
type Adapters interface {
	AdapterFor(ctx context.Context, account model.Account) (connectors.ExchangeAdapter, error)
}

// Store persists orders and their state logs.
type Store interface {
	Create(ctx context.Context, order *model.Order) error
	SaveTransition(ctx context.Context, order *model.Order, from string) error
	Update(ctx context.Context, order *model.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Order, error)
}

// TradeConfigs returns the per-account order defaults.
type TradeConfigs interface {
	TradeConfig(ctx context.Context, accountID string) (model.TradeConfig, error)
}

// ExceptionSink records system errors.
type ExceptionSink interface {
	Capture(ctx context.Context, module, method, level string, err error, contextData map[string]interface{})
}

type Publisher interface {
	Publish(kind string, payload interface{})
}

// OrderRequest is an order as requested by the operator or the auto-trigger.
type OrderRequest struct {
	AccountID    string          `json:"account_id"`
	Symbol       string          `json:"symbol"`
	Side         string          `json:"side"`
	Type         string          `json:"type"`
	Size         decimal.Decimal `json:"size"`
	Leverage     decimal.Decimal `json:"leverage"`
	LimitPrice   decimal.Decimal `json:"limit_price"`
	TriggerPrice decimal.Decimal `json:"trigger_price"`
	ReduceOnly   bool            `json:"reduce_only"`
	// Bracket prices to attach once filled. Nil uses the account TP/SL percent defaults.
	Bracket *model.Bracket `json:"bracket,omitempty"`
}

// OrderHandle is a snapshot of an order after an executor call.
type OrderHandle struct {
	Order        model.Order    `json:"order"`
	Legs         []*OrderHandle `json:"legs,omitempty"`
	BracketError string         `json:"bracket_error,omitempty"`
}

// CancelResult tells whether a cancel changed anything.
type CancelResult struct {
	NoOp  bool   `json:"no_op"`
	State string `json:"state"`
}

// OrderUpdate is published on every order transition.
type OrderUpdate struct {
	Order model.Order `json:"order"`
	From  string      `json:"from"`
}

// Executor validates, submits and tracks orders. State-changing calls of one
// account are serialized; different accounts proceed concurrently.
type Executor struct {
	Log        *logger.Entry
	Exceptions ExceptionSink

	cfg      Config
	catalog  Catalog
	registry Registry
	adapters Adapters
	store    Store
	configs  TradeConfigs
	bus      Publisher
	backoff  utils.Backoff
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	orders map[uuid.UUID]*model.Order
	// failed after the exchange acked them; settled by Reconcile
	unsettled map[uuid.UUID]*model.Order
}

func NewExecutor(cfg Config, catalog Catalog, registry Registry, adapters Adapters, store Store, configs TradeConfigs, bus Publisher) *Executor {
	return &Executor{
		Log:      logger.WithField("component", "executor"),
		cfg:      cfg,
		catalog:  catalog,
		registry: registry,
		adapters: adapters,
		store:    store,
		configs:  configs,
		bus:      bus,
		backoff:  cfg.confirmBackoff(),
		sleep:    sleepCtx,
		now:      func() time.Time { return time.Now().UTC() },
		locks:    make(map[string]*sync.Mutex),
		orders:   make(map[uuid.UUID]*model.Order),

		unsettled: make(map[uuid.UUID]*model.Order),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (e *Executor) accountLock(accountID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[accountID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[accountID] = l
	}
	return l
}

func (e *Executor) remember(o *model.Order) {
	e.mu.Lock()
	e.orders[o.ID] = o
	e.mu.Unlock()
}

// lookup returns the live order, loading it from the store when it belongs to an earlier session.
func (e *Executor) lookup(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	e.mu.Lock()
	o, ok := e.orders[id]
	e.mu.Unlock()
	if ok {
		return o, nil
	}
	if e.store == nil {
		return nil, fmt.Errorf("order %s: %w", id, ErrUnknownOrder)
	}
	stored, err := e.store.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load order %s: %w", id, err)
	}
	if stored == nil {
		return nil, fmt.Errorf("order %s: %w", id, ErrUnknownOrder)
	}
	stored.Logs = nil
	e.remember(stored)
	return stored, nil
}

// Order returns a copy of a known order.
func (e *Executor) Order(ctx context.Context, id uuid.UUID) (model.Order, error) {
	o, err := e.lookup(ctx, id)
	if err != nil {
		return model.Order{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return *o, nil
}

func (e *Executor) tradeConfig(ctx context.Context, accountID string) model.TradeConfig {
	if e.configs == nil {
		return model.DefaultTradeConfig(accountID)
	}
	cfg, err := e.configs.TradeConfig(ctx, accountID)
	if err != nil {
		e.Log.WithError(err).WithField("account", accountID).Warn("trade config unavailable, using defaults")
		return model.DefaultTradeConfig(accountID)
	}
	return cfg
}

// validate checks req against the account and the instrument bounds.
func (e *Executor) validate(ctx context.Context, req *OrderRequest) (model.Account, model.Instrument, error) {
	account, ok := e.registry.Account(req.AccountID)
	if !ok {
		return model.Account{}, model.Instrument{}, invalid("account_id", "unknown account %q", req.AccountID)
	}

	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	inst, ok := e.catalog.Lookup(account.ExchangeID, req.Symbol)
	if !ok {
		return account, model.Instrument{}, invalid("symbol", "no instrument %s on %s", req.Symbol, account.ExchangeID)
	}

	if req.Side != model.SideLong && req.Side != model.SideShort {
		return account, inst, invalid("side", "must be %s or %s", model.SideLong, model.SideShort)
	}
	if req.Type == "" {
		req.Type = model.OrderTypeMarket
	}
	switch req.Type {
	case model.OrderTypeMarket:
	case model.OrderTypeLimit:
		if !req.LimitPrice.IsPositive() {
			return account, inst, invalid("limit_price", "limit orders need a positive limit price")
		}
	case model.OrderTypeStop, model.OrderTypeTakeProfit:
		if !req.TriggerPrice.IsPositive() {
			return account, inst, invalid("trigger_price", "%s orders need a positive trigger price", req.Type)
		}
	default:
		return account, inst, invalid("type", "unsupported order type %q", req.Type)
	}

	if !req.Size.IsPositive() {
		return account, inst, invalid("size", "must be positive, got %s", req.Size)
	}
	if !inst.SizeInBounds(req.Size) {
		return account, inst, invalid("size", "%s outside [%s, %s] for %s", req.Size, inst.MinSize, inst.MaxSize, inst.Symbol)
	}

	if req.Leverage.IsZero() {
		req.Leverage = e.tradeConfig(ctx, account.ID).Leverage
	}
	if req.Leverage.IsNegative() {
		return account, inst, invalid("leverage", "must not be negative")
	}
	if inst.MaxLeverage.IsPositive() && req.Leverage.GreaterThan(inst.MaxLeverage) {
		return account, inst, invalid("leverage", "%s above max %s for %s", req.Leverage, inst.MaxLeverage, inst.Symbol)
	}

	if req.Bracket != nil {
		ref := req.LimitPrice
		if req.Type != model.OrderTypeLimit {
			ref = decimal.Zero
		}
		if err := validateBracket(req.Side, ref, *req.Bracket); err != nil {
			return account, inst, err
		}
	}
	return account, inst, nil
}

// Submit validates req, sends it once and waits for the exchange to confirm it.
// A validation failure returns *ValidationError before anything is stored or sent.
func (e *Executor) Submit(ctx context.Context, req OrderRequest) (*OrderHandle, error) {
	account, inst, err := e.validate(ctx, &req)
	if err != nil {
		e.Log.WithFields(map[string]interface{}{
			"account": req.AccountID,
			"symbol":  req.Symbol,
			"size":    req.Size.String(),
		}).WithError(err).Info("order rejected by validation")
		return nil, err
	}

	lock := e.accountLock(account.ID)
	lock.Lock()
	defer lock.Unlock()

	now := e.now()
	order := &model.Order{
		ID:           uuid.New(),
		AccountID:    account.ID,
		ExchangeID:   account.ExchangeID,
		Symbol:       inst.Symbol,
		Side:         req.Side,
		Size:         req.Size,
		Leverage:     req.Leverage,
		Type:         req.Type,
		LimitPrice:   inst.RoundPrice(req.LimitPrice),
		TriggerPrice: inst.RoundPrice(req.TriggerPrice),
		ReduceOnly:   req.ReduceOnly,
		State:        model.OrderStateNew,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if req.Bracket != nil {
		order.Bracket = *req.Bracket
	}

	adapter, err := e.adapters.AdapterFor(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}

	if err := e.create(ctx, order); err != nil {
		return nil, err
	}
	if err := e.move(ctx, order, model.OrderStatePending, ""); err != nil {
		return e.handle(order), err
	}

	if err := e.send(ctx, adapter, order, inst); err != nil {
		return e.handle(order), err
	}

	h := e.handle(order)
	if order.State == model.OrderStateFilled && !order.ReduceOnly {
		e.autoBracket(ctx, adapter, order, inst, req.Bracket, h)
	}
	return h, nil
}

// send places order on the exchange exactly once and confirms the outcome.
func (e *Executor) send(ctx context.Context, adapter connectors.ExchangeAdapter, order *model.Order, inst model.Instrument) error {
	submitCtx, cancel := e.exchangeCtx(ctx)
	ack, err := adapter.SubmitOrder(submitCtx, connectors.SubmitRequest{
		ClientOrderID: order.ID.String(),
		Symbol:        order.Symbol,
		Pair:          inst.Pair,
		Side:          order.Side,
		Type:          order.Type,
		Size:          order.Size,
		Leverage:      order.Leverage,
		LimitPrice:    order.LimitPrice,
		TriggerPrice:  order.TriggerPrice,
		ReduceOnly:    order.ReduceOnly,
	})
	cancel()

	if err != nil {
		if rej, ok := connectors.IsRejected(err); ok {
			_ = e.move(ctx, order, model.OrderStateRejected, rej.Reason)
			return err
		}
		_ = e.move(ctx, order, model.OrderStateFailed, err.Error())
		e.capture(ctx, "Submit", err, order)
		return fmt.Errorf("submit order %s: %w", order.ID, err)
	}

	e.mu.Lock()
	order.ExchangeOrderID = ack.ExchangeOrderID
	e.mu.Unlock()

	return e.confirm(ctx, adapter, order)
}

// confirm polls the order status with bounded backoff until the exchange
// reports a final or resting state.
func (e *Executor) confirm(ctx context.Context, adapter connectors.ExchangeAdapter, order *model.Order) error {
	if e.cfg.ConfirmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.ConfirmTimeout)
		defer cancel()
	}
	attempts := e.cfg.ConfirmAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		status, err := e.fetchStatus(ctx, adapter, order.ExchangeOrderID)
		if err == nil {
			done, applyErr := e.applyStatus(ctx, order, status)
			if applyErr != nil {
				return applyErr
			}
			if done || order.Type != model.OrderTypeMarket {
				return nil
			}
			lastErr = fmt.Errorf("order %s still %s", order.ExchangeOrderID, status.State)
		} else {
			if _, rejected := connectors.IsRejected(err); rejected {
				lastErr = err
				break
			}
			lastErr = err
		}

		if attempt == attempts {
			break
		}
		if err := e.sleep(ctx, e.backoff.Next(attempt)); err != nil {
			lastErr = fmt.Errorf("%v: %w", lastErr, err)
			break
		}
	}

	// the order may still rest or fill on the exchange; Reconcile settles it
	finalErr := fmt.Errorf("confirm order %s: %w: %v", order.ID, ErrConfirmTimeout, lastErr)
	_ = e.move(ctx, order, model.OrderStateFailed, "confirmation failed: "+lastErr.Error())
	if order.ExchangeOrderID != "" {
		e.mu.Lock()
		e.unsettled[order.ID] = order
		e.mu.Unlock()
	}
	e.capture(ctx, "confirm", finalErr, order)
	return finalErr
}

func (e *Executor) fetchStatus(ctx context.Context, adapter connectors.ExchangeAdapter, exchangeOrderID string) (connectors.OrderStatus, error) {
	c, cancel := e.exchangeCtx(ctx)
	defer cancel()
	return adapter.OrderStatus(c, exchangeOrderID)
}

// applyStatus moves order to the exchange state. It reports true once the order is terminal.
func (e *Executor) applyStatus(ctx context.Context, order *model.Order, status connectors.OrderStatus) (bool, error) {
	switch status.State {
	case model.OrderStateFilled:
		price := fillPrice(order, status)
		if !price.IsPositive() {
			// executions not published yet; confirmed on a later poll
			return false, nil
		}
		if err := e.applyFills(ctx, order, status, price); err != nil {
			return false, err
		}
		e.mu.Lock()
		order.FilledPrice = price
		e.mu.Unlock()
		if order.State != model.OrderStateFilled {
			if err := e.move(ctx, order, model.OrderStateFilled, ""); err != nil {
				return false, err
			}
		}
		return true, nil
	case model.OrderStateRejected, model.OrderStateCancelled:
		if order.State != status.State {
			if err := e.move(ctx, order, status.State, status.Reason); err != nil {
				return false, err
			}
		}
		if status.State == model.OrderStateRejected {
			return true, &connectors.RejectedError{Code: "rejected", Reason: status.Reason}
		}
		return true, nil
	default:
		return false, nil
	}
}

// fillPrice is the average execution price of a filled status. A limit
// order without reported executions filled at its limit; anything else has
// no price until the venue reports one.
func fillPrice(order *model.Order, status connectors.OrderStatus) decimal.Decimal {
	if p := status.AvgPrice(); p.IsPositive() {
		return p
	}
	if order.Type == model.OrderTypeLimit {
		return order.LimitPrice
	}
	return decimal.Zero
}

// applyFills hands every execution to the registry. Fills are keyed so a
// repeated status never counts twice. Without listed executions one fill of
// the filled size at price is booked.
func (e *Executor) applyFills(ctx context.Context, order *model.Order, status connectors.OrderStatus, price decimal.Decimal) error {
	fills := status.Fills
	if len(fills) == 0 {
		size := status.FilledSize
		if !size.IsPositive() {
			size = order.Size
		}
		fills = []connectors.FillReport{{FillID: status.ExchangeOrderID, Size: size, Price: price, Time: e.now()}}
	}

	for i, f := range fills {
		id := f.FillID
		if id == "" {
			id = fmt.Sprintf("%s-%d", status.ExchangeOrderID, i)
		}
		_, err := e.registry.ApplyFill(ctx, model.Fill{
			FillID:    id,
			OrderID:   order.ID.String(),
			AccountID: order.AccountID,
			Symbol:    order.Symbol,
			Side:      order.Side,
			Size:      f.Size,
			Price:     f.Price,
			Leverage:  order.Leverage,
			Time:      f.Time,
		})
		if err != nil {
			return fmt.Errorf("apply fill %s: %w", id, err)
		}
	}
	return nil
}

func (e *Executor) exchangeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.ExchangeTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.cfg.ExchangeTimeout)
}

func (e *Executor) create(ctx context.Context, order *model.Order) error {
	if e.store != nil {
		if err := e.store.Create(ctx, order); err != nil {
			return fmt.Errorf("store order: %w", err)
		}
	}
	e.remember(order)
	e.publish(order, "")
	return nil
}

// move transitions order, persists the log entry and notifies observers. The
// write outlives a cancelled ctx so timeouts are still recorded.
func (e *Executor) move(ctx context.Context, order *model.Order, to, reason string) error {
	ctx = context.WithoutCancel(ctx)
	e.mu.Lock()
	from, err := transition(order, to, reason, e.now())
	e.mu.Unlock()
	if err != nil {
		return err
	}

	e.Log.WithFields(map[string]interface{}{
		"order_id": order.ID,
		"account":  order.AccountID,
		"symbol":   order.Symbol,
		"from":     from,
		"to":       to,
		"reason":   reason,
	}).Info("order transition")

	if e.store != nil {
		if err := e.store.SaveTransition(ctx, order, from); err != nil {
			e.capture(ctx, "move", err, order)
		}
	}
	e.publish(order, from)
	return nil
}

func (e *Executor) publish(order *model.Order, from string) {
	if e.bus == nil {
		return
	}
	e.mu.Lock()
	snapshot := *order
	e.mu.Unlock()
	snapshot.Logs = nil
	e.bus.Publish(messaging.KindOrderUpdate, OrderUpdate{Order: snapshot, From: from})
}

func (e *Executor) handle(order *model.Order) *OrderHandle {
	e.mu.Lock()
	defer e.mu.Unlock()
	snapshot := *order
	snapshot.Logs = nil
	return &OrderHandle{Order: snapshot}
}

func (e *Executor) capture(ctx context.Context, method string, err error, order *model.Order) {
	if e.Exceptions == nil {
		return
	}
	e.Exceptions.Capture(context.WithoutCancel(ctx), "orders", method, "error", err, map[string]interface{}{
		"order_id": order.ID.String(),
		"account":  order.AccountID,
		"symbol":   order.Symbol,
	})
}

// Cancel cancels a pending order. Cancelling a filled order is a no-op.
func (e *Executor) Cancel(ctx context.Context, orderID uuid.UUID) (CancelResult, error) {
	order, err := e.lookup(ctx, orderID)
	if err != nil {
		return CancelResult{}, err
	}

	lock := e.accountLock(order.AccountID)
	lock.Lock()
	defer lock.Unlock()

	switch order.State {
	case model.OrderStateFilled, model.OrderStateCancelled, model.OrderStateRejected, model.OrderStateFailed:
		return CancelResult{NoOp: true, State: order.State}, nil
	case model.OrderStateNew:
		if err := e.move(ctx, order, model.OrderStateCancelled, "cancelled before submit"); err != nil {
			return CancelResult{}, err
		}
		return CancelResult{State: order.State}, nil
	}

	account, ok := e.registry.Account(order.AccountID)
	if !ok {
		return CancelResult{}, fmt.Errorf("cancel %s: unknown account %q", orderID, order.AccountID)
	}
	adapter, err := e.adapters.AdapterFor(ctx, account)
	if err != nil {
		return CancelResult{}, fmt.Errorf("cancel %s: %w", orderID, err)
	}

	return e.cancelLocked(ctx, adapter, order, "cancelled by request")
}

// resolveConflict refetches the authoritative order and position state after
// the exchange disagreed with a cancel.
func (e *Executor) resolveConflict(ctx context.Context, adapter connectors.ExchangeAdapter, order *model.Order, cause error) (CancelResult, error) {
	status, err := e.fetchStatus(ctx, adapter, order.ExchangeOrderID)
	if err != nil {
		return CancelResult{State: order.State}, fmt.Errorf("cancel %s: %v; refetch: %w", order.ID, cause, err)
	}

	e.Log.WithFields(map[string]interface{}{
		"order_id": order.ID,
		"state":    status.State,
	}).WithError(cause).Warn("cancel conflicted, applying exchange state")

	if _, err := e.applyStatus(ctx, order, status); err != nil && !errors.As(err, new(*connectors.RejectedError)) {
		return CancelResult{State: order.State}, err
	}

	if positions, err := adapter.Positions(ctx); err == nil {
		if err := e.registry.ReplacePositions(ctx, order.AccountID, positions); err != nil {
			e.Log.WithError(err).Warn("replace positions after conflict failed")
		}
	}

	switch order.State {
	case model.OrderStateFilled:
		return CancelResult{NoOp: true, State: order.State}, nil
	case model.OrderStatePending:
		return CancelResult{State: order.State}, fmt.Errorf("cancel %s: %w", order.ID, cause)
	default:
		return CancelResult{NoOp: true, State: order.State}, nil
	}
}
