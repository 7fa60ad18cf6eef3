package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Fill is an execution reported by an exchange for one order.
type Fill struct {
	FillID    string          `json:"fill_id"`
	OrderID   string          `json:"order_id"`
	AccountID string          `json:"account_id"`
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"`
	Size      decimal.Decimal `json:"size"`
	Price     decimal.Decimal `json:"price"`
	Leverage  decimal.Decimal `json:"leverage"`
	Time      time.Time       `json:"time"`
}

// SignedSize is positive for long fills and negative for short fills.
func (f Fill) SignedSize() decimal.Decimal {
	if f.Side == SideShort {
		return f.Size.Neg()
	}
	return f.Size
}

// Position is the open exposure of one account on one symbol.
// Size is signed: positive long, negative short.
type Position struct {
	AccountID        string          `json:"account_id"`
	Symbol           string          `json:"symbol"`
	Size             decimal.Decimal `json:"size"`
	EntryPrice       decimal.Decimal `json:"entry_price"`
	Leverage         decimal.Decimal `json:"leverage"`
	LiquidationPrice decimal.Decimal `json:"liquidation_price"`
	MarkPrice        decimal.Decimal `json:"mark_price"`
	UnrealizedPnL    decimal.Decimal `json:"unrealized_pnl"`
	RealizedPnL      decimal.Decimal `json:"realized_pnl"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Side derives the side from the sign of Size.
func (p Position) Side() string {
	if p.Size.IsNegative() {
		return SideShort
	}
	return SideLong
}
