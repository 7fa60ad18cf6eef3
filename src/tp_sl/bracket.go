package tp_sl

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"newstrader/src/model"
)

var hundred = decimal.NewFromInt(100)

// TakeProfitPrice returns the trigger price pct percent in the winning
// direction from entry. A non-positive pct yields zero.
func TakeProfitPrice(side string, entry, pct decimal.Decimal) decimal.Decimal {
	if !pct.IsPositive() || !entry.IsPositive() {
		return decimal.Zero
	}
	move := entry.Mul(pct).Div(hundred)
	if side == model.SideShort {
		return entry.Sub(move)
	}
	return entry.Add(move)
}

// StopLossPrice returns the trigger price pct percent in the losing direction from entry.
func StopLossPrice(side string, entry, pct decimal.Decimal) decimal.Decimal {
	if !pct.IsPositive() || !entry.IsPositive() {
		return decimal.Zero
	}
	move := entry.Mul(pct).Div(hundred)
	if side == model.SideShort {
		return entry.Add(move)
	}
	return entry.Sub(move)
}

// Targets builds the bracket for an entry and rounds both legs to the instrument tick.
func Targets(side string, entry, tpPct, slPct decimal.Decimal, inst model.Instrument) model.Bracket {
	return model.Bracket{
		TakeProfit: inst.RoundPrice(TakeProfitPrice(side, entry, tpPct)),
		StopLoss:   inst.RoundPrice(StopLossPrice(side, entry, slPct)),
	}
}

// FromTradeConfig applies the account TP/SL percent defaults to an entry.
func FromTradeConfig(side string, entry decimal.Decimal, cfg model.TradeConfig, inst model.Instrument) model.Bracket {
	return Targets(side, entry, cfg.TakeProfitPct, cfg.StopLossPct, inst)
}

// Validate checks that each non-zero leg sits on the correct side of ref.
func Validate(side string, ref decimal.Decimal, b model.Bracket) error {
	if b.TakeProfit.IsNegative() || b.StopLoss.IsNegative() {
		return fmt.Errorf("bracket prices must not be negative")
	}
	if ref.IsZero() {
		return nil
	}
	long := side != model.SideShort
	if !b.TakeProfit.IsZero() {
		if long && !b.TakeProfit.GreaterThan(ref) {
			return fmt.Errorf("take profit %s must be above %s for a long", b.TakeProfit, ref)
		}
		if !long && !b.TakeProfit.LessThan(ref) {
			return fmt.Errorf("take profit %s must be below %s for a short", b.TakeProfit, ref)
		}
	}
	if !b.StopLoss.IsZero() {
		if long && !b.StopLoss.LessThan(ref) {
			return fmt.Errorf("stop loss %s must be below %s for a long", b.StopLoss, ref)
		}
		if !long && !b.StopLoss.GreaterThan(ref) {
			return fmt.Errorf("stop loss %s must be above %s for a short", b.StopLoss, ref)
		}
	}
	return nil
}

// Legs returns the reduce-only child orders closing parent at the bracket
// prices. Zero legs are skipped.
func Legs(parent *model.Order, b model.Bracket) []*model.Order {
	var legs []*model.Order
	add := func(typ string, trigger decimal.Decimal) {
		if trigger.IsZero() {
			return
		}
		parentID := parent.ID
		legs = append(legs, &model.Order{
			ID:           uuid.New(),
			ParentID:     &parentID,
			AccountID:    parent.AccountID,
			ExchangeID:   parent.ExchangeID,
			Symbol:       parent.Symbol,
			Side:         model.OppositeSide(parent.Side),
			Size:         parent.Size,
			Leverage:     parent.Leverage,
			Type:         typ,
			TriggerPrice: trigger,
			ReduceOnly:   true,
			State:        model.OrderStateNew,
		})
	}
	add(model.OrderTypeTakeProfit, b.TakeProfit)
	add(model.OrderTypeStop, b.StopLoss)
	return legs
}

// ComputeTrailingStop moves a stop behind the mark price.
//
// Long:
// - candidate: mark * (1 - pct/100)
// - update: SL = max(SL, candidate)
//
// Short:
// - candidate: mark * (1 + pct/100)
// - update: SL = min(SL, candidate)
//
// The stop never moves against the position.
func ComputeTrailingStop(side string, currentSL, mark, pct decimal.Decimal, inst model.Instrument) (newSL decimal.Decimal, moved bool) {
	if !pct.IsPositive() || !mark.IsPositive() || currentSL.IsZero() {
		return currentSL, false
	}

	switch side {
	case model.SideLong:
		candidate := inst.RoundPrice(StopLossPrice(side, mark, pct))
		if candidate.GreaterThan(currentSL) {
			return candidate, true
		}
	case model.SideShort:
		candidate := inst.RoundPrice(StopLossPrice(side, mark, pct))
		if candidate.LessThan(currentSL) {
			return candidate, true
		}
	}
	return currentSL, false
}
