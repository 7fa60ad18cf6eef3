package registry

import (
	"time"

	"github.com/shopspring/decimal"

	"newstrader/src/model"
)

var one = decimal.NewFromInt(1)

// applyFill folds one fill into pos. It returns the new position and false
// when the fill closed it completely.
func applyFill(pos model.Position, fill model.Fill, mark decimal.Decimal) (model.Position, bool) {
	delta := fill.SignedSize()
	current := pos.Size

	switch {
	case current.IsZero():
		pos.Size = delta
		pos.EntryPrice = fill.Price

	case current.Sign() == delta.Sign():
		total := current.Abs().Add(delta.Abs())
		notional := current.Abs().Mul(pos.EntryPrice).Add(delta.Abs().Mul(fill.Price))
		pos.EntryPrice = notional.Div(total)
		pos.Size = current.Add(delta)

	default:
		closed := decimal.Min(current.Abs(), delta.Abs())
		pnl := fill.Price.Sub(pos.EntryPrice).Mul(closed)
		if current.IsNegative() {
			pnl = pnl.Neg()
		}
		pos.RealizedPnL = pos.RealizedPnL.Add(pnl)
		pos.Size = current.Add(delta)

		if pos.Size.IsZero() {
			pos.UnrealizedPnL = decimal.Zero
			pos.UpdatedAt = fill.Time
			return pos, false
		}
		if pos.Size.Sign() != current.Sign() {
			// flipped through zero: the remainder opened at the fill price
			pos.EntryPrice = fill.Price
		}
	}

	if fill.Leverage.IsPositive() {
		pos.Leverage = fill.Leverage
	}
	if mark.IsZero() {
		mark = fill.Price
	}
	pos.UpdatedAt = fill.Time
	return revalue(pos, mark), true
}

// revalue sets mark, liquidation and unrealized pnl.
func revalue(pos model.Position, mark decimal.Decimal) model.Position {
	if mark.IsPositive() {
		pos.MarkPrice = mark
	}
	pos.LiquidationPrice = liquidationPrice(pos)
	if pos.MarkPrice.IsPositive() {
		pos.UnrealizedPnL = pos.MarkPrice.Sub(pos.EntryPrice).Mul(pos.Size)
	}
	return pos
}

// liquidationPrice is entry × (1 − 1/leverage) for longs and entry × (1 + 1/leverage) for shorts.
func liquidationPrice(pos model.Position) decimal.Decimal {
	if !pos.Leverage.IsPositive() || pos.Size.IsZero() {
		return decimal.Zero
	}
	inv := one.Div(pos.Leverage)
	if pos.Size.IsNegative() {
		return pos.EntryPrice.Mul(one.Add(inv))
	}
	return pos.EntryPrice.Mul(one.Sub(inv))
}

func stamp(pos model.Position, now time.Time) model.Position {
	if pos.UpdatedAt.IsZero() {
		pos.UpdatedAt = now
	}
	return pos
}
