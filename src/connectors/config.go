package connectors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	KrakenBaseURL    string        `envconfig:"KRAKEN_BASE_URL" default:"https://futures.kraken.com/derivatives"`
	KrakenTimeout    time.Duration `envconfig:"KRAKEN_TIMEOUT" default:"15s"`
	KrakenQuote      string        `envconfig:"KRAKEN_QUOTE" default:"USD"`
	KrakenPairPrefix string        `envconfig:"KRAKEN_PAIR_PREFIX" default:"PF_"`

	PhemexBaseURL string        `envconfig:"PHEMEX_BASE_URL" default:"https://api.phemex.com"`
	PhemexTimeout time.Duration `envconfig:"PHEMEX_TIMEOUT" default:"15s"`
	PhemexQuote   string        `envconfig:"PHEMEX_QUOTE" default:"USDT"`

	PriceFeedEndpoint string `envconfig:"PRICE_FEED_ENDPOINT" default:"https://api.binance.com"`
	PriceFeedQuote    string `envconfig:"PRICE_FEED_QUOTE" default:"USDT"`
	PriceFeedSchedule string `envconfig:"PRICE_FEED_SCHEDULE" default:"@every 5s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
