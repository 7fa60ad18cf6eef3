package connectors

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"newstrader/src/model"
)

// SubmitRequest is an exchange-neutral order as handed to an adapter.
type SubmitRequest struct {
	ClientOrderID string
	Symbol        string // normalized coin symbol
	Pair          string // exchange pair name
	Side          string // model.SideLong or model.SideShort
	Type          string // model.OrderType*
	Size          decimal.Decimal
	Leverage      decimal.Decimal
	LimitPrice    decimal.Decimal
	TriggerPrice  decimal.Decimal
	ReduceOnly    bool
}

// OrderAck is returned once the exchange accepted an order.
type OrderAck struct {
	ExchangeOrderID string
	State           string // model.OrderStatePending or model.OrderStateFilled
}

// FillReport is one execution of an order as reported by the exchange.
type FillReport struct {
	FillID string
	Size   decimal.Decimal
	Price  decimal.Decimal
	Time   time.Time
}

// OrderStatus is the authoritative exchange-side view of one order.
type OrderStatus struct {
	ExchangeOrderID string
	State           string // model.OrderState*
	FilledSize      decimal.Decimal
	AvgFillPrice    decimal.Decimal // venue reported average, used when Fills lag behind
	Reason          string
	Fills           []FillReport
}

// AvgPrice returns the size-weighted price of all fills, or the venue
// reported average when no fill is listed yet.
func (s OrderStatus) AvgPrice() decimal.Decimal {
	if len(s.Fills) == 0 {
		return s.AvgFillPrice
	}
	total := decimal.Zero
	notional := decimal.Zero
	for _, f := range s.Fills {
		total = total.Add(f.Size)
		notional = notional.Add(f.Size.Mul(f.Price))
	}
	if total.IsZero() {
		return decimal.Zero
	}
	return notional.Div(total)
}

// ExchangeAdapter is the boundary to one venue for one account.
// Errors are classified as *TransientError, *RejectedError or wrap ErrStateConflict.
type ExchangeAdapter interface {
	ID() string
	SubmitOrder(ctx context.Context, req SubmitRequest) (OrderAck, error)
	CancelOrder(ctx context.Context, exchangeOrderID string) error
	OrderStatus(ctx context.Context, exchangeOrderID string) (OrderStatus, error)
	Positions(ctx context.Context) ([]model.Position, error)
	Instruments(ctx context.Context) ([]model.Instrument, error)
}
