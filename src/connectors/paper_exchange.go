package connectors

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"newstrader/src/model"
)

const PaperExchangeID = "paper"

type paperOrder struct {
	req    SubmitRequest
	status OrderStatus
}

// PaperExchange is an in-memory venue. Market orders fill at the last price,
// limit and trigger orders rest until SetPrice crosses them.
type PaperExchange struct {
	mu          sync.Mutex
	instruments []model.Instrument
	prices      map[string]decimal.Decimal
	orders      map[string]*paperOrder
	positions   map[string]model.Position
	submits     int
	now         func() time.Time
}

func NewPaperExchange(instruments []model.Instrument) *PaperExchange {
	return &PaperExchange{
		instruments: instruments,
		prices:      make(map[string]decimal.Decimal),
		orders:      make(map[string]*paperOrder),
		positions:   make(map[string]model.Position),
		now:         time.Now,
	}
}

func (p *PaperExchange) ID() string {
	return PaperExchangeID
}

// SubmitCount reports how many orders reached the venue.
func (p *PaperExchange) SubmitCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.submits
}

// SetPrice records the last price of symbol and triggers resting orders.
func (p *PaperExchange) SetPrice(symbol string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.prices[symbol] = price
	for id, o := range p.orders {
		if o.req.Symbol != symbol || o.status.State != model.OrderStatePending {
			continue
		}
		if crosses(o.req, price) {
			p.fillLocked(id, o, price)
		}
	}
}

func crosses(req SubmitRequest, price decimal.Decimal) bool {
	switch req.Type {
	case model.OrderTypeLimit:
		if req.Side == model.SideLong {
			return price.LessThanOrEqual(req.LimitPrice)
		}
		return price.GreaterThanOrEqual(req.LimitPrice)
	case model.OrderTypeStop:
		// a stop closing a long fires on the way down
		if req.Side == model.SideShort {
			return price.LessThanOrEqual(req.TriggerPrice)
		}
		return price.GreaterThanOrEqual(req.TriggerPrice)
	case model.OrderTypeTakeProfit:
		if req.Side == model.SideShort {
			return price.GreaterThanOrEqual(req.TriggerPrice)
		}
		return price.LessThanOrEqual(req.TriggerPrice)
	default:
		return true
	}
}

func (p *PaperExchange) SubmitOrder(_ context.Context, req SubmitRequest) (OrderAck, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.submits++

	if !req.Size.IsPositive() {
		return OrderAck{}, &RejectedError{Code: "invalidSize", Reason: "invalid size"}
	}
	if !p.knownLocked(req.Symbol) {
		return OrderAck{}, &RejectedError{Code: "contractNotFound", Reason: fmt.Sprintf("unknown symbol %s", req.Symbol)}
	}
	if req.ReduceOnly {
		pos, ok := p.positions[req.Symbol]
		if !ok || pos.Side() == req.Side {
			return OrderAck{}, &RejectedError{Code: "wouldNotReducePosition", Reason: "reduce-only order would not reduce position"}
		}
	}

	id := uuid.NewString()
	o := &paperOrder{req: req, status: OrderStatus{ExchangeOrderID: id, State: model.OrderStatePending}}
	p.orders[id] = o

	price, hasPrice := p.prices[req.Symbol]
	if req.Type == model.OrderTypeMarket {
		if !hasPrice {
			delete(p.orders, id)
			return OrderAck{}, NewTransient("paper submit", fmt.Errorf("no price for %s", req.Symbol))
		}
		p.fillLocked(id, o, price)
	} else if hasPrice && req.Type == model.OrderTypeLimit && crosses(req, price) {
		p.fillLocked(id, o, price)
	}

	logger.WithFields(map[string]interface{}{
		"exchange": PaperExchangeID,
		"order_id": id,
		"symbol":   req.Symbol,
		"side":     req.Side,
		"type":     req.Type,
		"size":     req.Size.String(),
		"state":    o.status.State,
	}).Debug("paper order accepted")

	return OrderAck{ExchangeOrderID: id, State: o.status.State}, nil
}

func (p *PaperExchange) knownLocked(symbol string) bool {
	for _, in := range p.instruments {
		if in.Symbol == symbol {
			return true
		}
	}
	return false
}

func (p *PaperExchange) fillLocked(id string, o *paperOrder, price decimal.Decimal) {
	o.status.State = model.OrderStateFilled
	o.status.FilledSize = o.req.Size
	o.status.AvgFillPrice = price
	o.status.Fills = append(o.status.Fills, FillReport{
		FillID: id + "-1",
		Size:   o.req.Size,
		Price:  price,
		Time:   p.now(),
	})

	signed := o.req.Size
	if o.req.Side == model.SideShort {
		signed = signed.Neg()
	}

	pos := p.positions[o.req.Symbol]
	newSize := pos.Size.Add(signed)
	switch {
	case newSize.IsZero():
		delete(p.positions, o.req.Symbol)
		return
	case pos.Size.IsZero() || pos.Size.Sign() != newSize.Sign():
		pos.EntryPrice = price
	case pos.Size.Sign() == signed.Sign():
		pos.EntryPrice = pos.EntryPrice.Mul(pos.Size.Abs()).Add(price.Mul(signed.Abs())).Div(newSize.Abs())
	}
	pos.Symbol = o.req.Symbol
	pos.Size = newSize
	if o.req.Leverage.IsPositive() {
		pos.Leverage = o.req.Leverage
	}
	p.positions[o.req.Symbol] = pos
}

func (p *PaperExchange) CancelOrder(_ context.Context, exchangeOrderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[exchangeOrderID]
	if !ok {
		return fmt.Errorf("order %s: %w", exchangeOrderID, ErrOrderNotFound)
	}
	switch o.status.State {
	case model.OrderStateFilled:
		return fmt.Errorf("cancel %s: %w", exchangeOrderID, ErrStateConflict)
	case model.OrderStateCancelled:
		return nil
	}
	o.status.State = model.OrderStateCancelled
	return nil
}

func (p *PaperExchange) OrderStatus(_ context.Context, exchangeOrderID string) (OrderStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[exchangeOrderID]
	if !ok {
		return OrderStatus{}, fmt.Errorf("order %s: %w", exchangeOrderID, ErrOrderNotFound)
	}
	status := o.status
	status.Fills = append([]FillReport(nil), o.status.Fills...)
	return status, nil
}

func (p *PaperExchange) Positions(_ context.Context) ([]model.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]model.Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, pos)
	}
	return out, nil
}

func (p *PaperExchange) Instruments(_ context.Context) ([]model.Instrument, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.Instrument(nil), p.instruments...), nil
}

// SetInstruments replaces the tradable instrument list.
func (p *PaperExchange) SetInstruments(instruments []model.Instrument) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.instruments = instruments
}
