package resolver

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"newstrader/src/model"
)

var cashtagPattern = regexp.MustCompile(`\$([A-Za-z][A-Za-z0-9]{1,14})\b`)

// Instruments is the read side of a catalog snapshot.
type Instruments interface {
	Lookup(exchangeID, symbol string) (model.Instrument, bool)
}

// Prices returns the last mark price of a coin.
type Prices interface {
	Mark(symbol string) (decimal.Decimal, bool)
}

// sizeScale bounds the decimals of a computed order size.
const sizeScale = 8

// Settings are the account inputs of a suggestion.
type Settings struct {
	Trade  model.TradeConfig
	Preset string
	Side   string
}

// Settings builds the resolver settings for one account.
func (c Config) Settings(tc model.TradeConfig) Settings {
	return Settings{Trade: tc, Preset: c.TradePreset, Side: c.DefaultSide}
}

// Candidates lists the coins of ev in resolution order: coin actions, then
// the coins tagged by the feed, then $TICKER cashtags in title and body.
func Candidates(ev model.NewsEvent, actions []model.Action) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(s string) {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
	}

	for _, a := range actions {
		if a.Type == model.ActionCoin {
			add(a.Symbol)
		}
	}
	for _, c := range ev.Coins {
		add(c)
	}
	for _, text := range []string{ev.Title, ev.Body} {
		for _, m := range cashtagPattern.FindAllStringSubmatch(text, -1) {
			add(m[1])
		}
	}
	return out
}

// Resolve picks the first candidate coin listed on exchangeID and builds a
// quick trade for it. The preset is a quote-currency amount, so the size is
// preset * leverage / mark. It reports false when no coin is listed, the
// chosen coin has no mark price yet, or the event was ignored.
func Resolve(ev model.NewsEvent, actions []model.Action, instruments Instruments, prices Prices, exchangeID string, s Settings) (model.QuickTradeSuggestion, bool) {
	if instruments == nil || prices == nil {
		return model.QuickTradeSuggestion{}, false
	}
	for _, a := range actions {
		if a.Type == model.ActionIgnore {
			return model.QuickTradeSuggestion{}, false
		}
	}

	for _, symbol := range Candidates(ev, actions) {
		inst, ok := instruments.Lookup(exchangeID, symbol)
		if !ok {
			continue
		}

		mark, ok := prices.Mark(symbol)
		if !ok || !mark.IsPositive() {
			return model.QuickTradeSuggestion{}, false
		}

		side := s.Side
		if side != model.SideShort {
			side = model.SideLong
		}

		leverage := s.Trade.Leverage
		if inst.MaxLeverage.IsPositive() && leverage.GreaterThan(inst.MaxLeverage) {
			leverage = inst.MaxLeverage
		}

		return model.QuickTradeSuggestion{
			NewsEventID: ev.ID,
			Instrument:  inst,
			Side:        side,
			Size:        Size(inst, s.Trade.TradeValue(s.Preset), leverage, mark),
			Leverage:    leverage,
		}, true
	}
	return model.QuickTradeSuggestion{}, false
}

// Size converts a quote amount at leverage into coins at mark, truncated and
// clamped to the instrument bounds.
func Size(inst model.Instrument, value, leverage, mark decimal.Decimal) decimal.Decimal {
	if !mark.IsPositive() {
		return decimal.Zero
	}
	if !leverage.IsPositive() {
		leverage = decimal.NewFromInt(1)
	}
	size := value.Mul(leverage).Div(mark)
	if inst.MinSize.IsPositive() {
		size = size.Div(inst.MinSize).Floor().Mul(inst.MinSize)
	} else {
		size = size.Truncate(sizeScale)
	}
	return inst.ClampSize(size)
}
