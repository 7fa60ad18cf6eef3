package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	SideLong  = "long"
	SideShort = "short"
)

const (
	OrderTypeMarket     = "market"
	OrderTypeLimit      = "limit"
	OrderTypeStop       = "stop"
	OrderTypeTakeProfit = "take_profit"
)

// Order lifecycle states.
const (
	OrderStateNew       = "new"
	OrderStatePending   = "pending"
	OrderStateFilled    = "filled"
	OrderStateRejected  = "rejected"
	OrderStateFailed    = "failed"
	OrderStateCancelled = "cancelled"
)

// OrderStateTerminal reports whether no further transitions are allowed from state.
func OrderStateTerminal(state string) bool {
	switch state {
	case OrderStateFilled, OrderStateRejected, OrderStateFailed, OrderStateCancelled:
		return true
	}
	return false
}

// OppositeSide returns the side that reduces a position opened with side.
func OppositeSide(side string) string {
	if side == SideLong {
		return SideShort
	}
	return SideLong
}

// Bracket holds the take-profit and stop-loss trigger prices attached to an entry order.
// A zero price means that leg is not used.
type Bracket struct {
	TakeProfit decimal.Decimal `gorm:"column:bracket_take_profit;type:numeric" json:"take_profit"`
	StopLoss   decimal.Decimal `gorm:"column:bracket_stop_loss;type:numeric" json:"stop_loss"`
}

// Order represents an order that the executor sends to an exchange.
type Order struct {
	ID              uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	ParentID        *uuid.UUID      `gorm:"type:uuid;index" json:"parent_id,omitempty"`
	AccountID       string          `gorm:"size:64;index;not null" json:"account_id"`
	ExchangeID      string          `gorm:"size:40;index;not null" json:"exchange_id"`
	Symbol          string          `gorm:"size:40;not null" json:"symbol"`
	Side            string          `gorm:"size:10;not null" json:"side"`
	Size            decimal.Decimal `gorm:"type:numeric;not null" json:"size"`
	Leverage        decimal.Decimal `gorm:"type:numeric" json:"leverage"`
	Type            string          `gorm:"size:20;not null" json:"type"`
	LimitPrice      decimal.Decimal `gorm:"type:numeric" json:"limit_price,omitempty"`
	TriggerPrice    decimal.Decimal `gorm:"type:numeric" json:"trigger_price,omitempty"`
	ReduceOnly      bool            `json:"reduce_only"`
	Bracket         Bracket         `gorm:"embedded" json:"bracket"`
	State           string          `gorm:"size:20;not null;default:new" json:"state"`
	ExchangeOrderID string          `gorm:"size:255" json:"exchange_order_id,omitempty"`
	Reason          string          `gorm:"size:255" json:"reason,omitempty"`
	FilledPrice     decimal.Decimal `gorm:"type:numeric" json:"filled_price,omitempty"`
	ExecutedAt      *time.Time      `json:"executed_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`

	Logs []OrderLog `gorm:"foreignKey:OrderID" json:"order_logs,omitempty"`
}

func (Order) TableName() string {
	return "orders"
}

// OrderLog stores one state transition of an order.
type OrderLog struct {
	ID      uint      `gorm:"primaryKey" json:"id"`
	OrderID uuid.UUID `gorm:"type:uuid;index" json:"order_id"`

	// Snapshot of the order at the moment of this log entry
	Symbol          string          `gorm:"size:40" json:"symbol"`
	Side            string          `gorm:"size:10" json:"side"`
	Type            string          `gorm:"size:20" json:"type"`
	Size            decimal.Decimal `gorm:"type:numeric" json:"size"`
	ExchangeOrderID string          `gorm:"size:255" json:"exchange_order_id"`

	FromState string    `gorm:"size:20" json:"from_state"`
	State     string    `gorm:"size:20;not null" json:"state"`
	Reason    string    `gorm:"size:255" json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

func (OrderLog) TableName() string {
	return "order_logs"
}

// NewOrderLog snapshots o after it moved from the from state.
func NewOrderLog(o *Order, from string) OrderLog {
	return OrderLog{
		OrderID:         o.ID,
		Symbol:          o.Symbol,
		Side:            o.Side,
		Type:            o.Type,
		Size:            o.Size,
		ExchangeOrderID: o.ExchangeOrderID,
		FromState:       from,
		State:           o.State,
		Reason:          o.Reason,
	}
}
