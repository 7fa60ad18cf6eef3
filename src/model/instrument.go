package model

import "github.com/shopspring/decimal"

// Instrument is a tradable perpetual pair on one exchange with its order bounds.
type Instrument struct {
	Symbol      string          `json:"symbol"`   // normalized coin symbol, e.g. BTC
	Pair        string          `json:"pair"`     // exchange pair name, e.g. PF_XBTUSD
	ExchangeID  string          `json:"exchange"` // adapter id, e.g. kraken
	TokenID     string          `json:"token_id,omitempty"`
	MinSize     decimal.Decimal `json:"min_size"`
	MaxSize     decimal.Decimal `json:"max_size"`
	MaxLeverage decimal.Decimal `json:"max_leverage"`
	TickSize    decimal.Decimal `json:"tick_size"`
}

// SizeInBounds reports whether size lies in [MinSize, MaxSize]. A zero MaxSize means unbounded.
func (i Instrument) SizeInBounds(size decimal.Decimal) bool {
	if size.LessThan(i.MinSize) {
		return false
	}
	if !i.MaxSize.IsZero() && size.GreaterThan(i.MaxSize) {
		return false
	}
	return true
}

// ClampSize forces size into [MinSize, MaxSize].
func (i Instrument) ClampSize(size decimal.Decimal) decimal.Decimal {
	if size.LessThan(i.MinSize) {
		return i.MinSize
	}
	if !i.MaxSize.IsZero() && size.GreaterThan(i.MaxSize) {
		return i.MaxSize
	}
	return size
}

// RoundPrice rounds price down to the instrument tick size.
func (i Instrument) RoundPrice(price decimal.Decimal) decimal.Decimal {
	if i.TickSize.IsZero() {
		return price
	}
	return price.Div(i.TickSize).Floor().Mul(i.TickSize)
}

// QuickTradeSuggestion is a one-click trade surfaced next to a news event. Never persisted.
type QuickTradeSuggestion struct {
	NewsEventID string          `json:"news_event_id"`
	Instrument  Instrument      `json:"instrument"`
	Side        string          `json:"side"`
	Size        decimal.Decimal `json:"size"`
	Leverage    decimal.Decimal `json:"leverage"`
}
