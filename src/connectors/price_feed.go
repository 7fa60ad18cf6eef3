package connectors

import (
	"net/http"
	"strings"

	"github.com/nntaoli-project/goex"
	"github.com/nntaoli-project/goex/binance"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

// TickerSource is the part of goex.API the price feed needs.
type TickerSource interface {
	GetTicker(pair goex.CurrencyPair) (*goex.Ticker, error)
}

// PriceSink receives the last price of a symbol.
type PriceSink func(symbol string, price decimal.Decimal)

// PriceFeed polls last prices for the symbols returned by Symbols and fans them out to sinks.
type PriceFeed struct {
	Log     *logger.Entry
	Symbols func() []string

	source TickerSource
	quote  string
	sinks  []PriceSink
}

func NewPriceFeed(source TickerSource, quote string, symbols func() []string) *PriceFeed {
	return &PriceFeed{
		Log:     logger.WithField("component", "price_feed"),
		Symbols: symbols,
		source:  source,
		quote:   quote,
	}
}

func NewBinancePriceFeed(cfg Config, symbols func() []string) *PriceFeed {
	apiConfig := &goex.APIConfig{
		HttpClient: http.DefaultClient,
		Endpoint:   cfg.PriceFeedEndpoint,
	}
	if apiConfig.Endpoint == "" {
		apiConfig.Endpoint = binance.GLOBAL_API_BASE_URL
	}
	return NewPriceFeed(binance.NewWithConfig(apiConfig), cfg.PriceFeedQuote, symbols)
}

func (f *PriceFeed) Subscribe(sink PriceSink) {
	f.sinks = append(f.sinks, sink)
}

// Poll fetches one ticker per symbol. A failing symbol is logged and skipped.
func (f *PriceFeed) Poll() int {
	if f.Symbols == nil {
		return 0
	}

	updated := 0
	for _, symbol := range f.Symbols() {
		pair := goex.NewCurrencyPair(goex.Currency{Symbol: strings.ToUpper(symbol)}, goex.Currency{Symbol: f.quote})
		ticker, err := f.source.GetTicker(pair)
		if err != nil {
			f.Log.WithError(err).WithField("symbol", symbol).Warn("price poll failed")
			continue
		}
		if ticker == nil || ticker.Last <= 0 {
			continue
		}

		price := decimal.NewFromFloat(ticker.Last)
		for _, sink := range f.sinks {
			sink(symbol, price)
		}
		updated++
	}
	return updated
}
