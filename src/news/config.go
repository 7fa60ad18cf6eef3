package news

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"newstrader/src/utils"
)

type Config struct {
	BackoffMin    time.Duration `envconfig:"NEWS_BACKOFF_MIN" default:"400ms"`
	BackoffMax    time.Duration `envconfig:"NEWS_BACKOFF_MAX" default:"5s"`
	BackoffFactor float64       `envconfig:"NEWS_BACKOFF_FACTOR" default:"2"`
	BackoffJitter float64       `envconfig:"NEWS_BACKOFF_JITTER" default:"0.2"`
	DedupeSize    int           `envconfig:"NEWS_DEDUPE_SIZE" default:"4096"`
	BufferSize    int           `envconfig:"NEWS_BUFFER_SIZE" default:"256"`
	HistoryLimit  int           `envconfig:"NEWS_HISTORY_LIMIT" default:"50"`

	TreeEnabled    bool   `envconfig:"TREE_ENABLED" default:"true"`
	TreeWSURL      string `envconfig:"TREE_WS_URL" default:"wss://news.treeofalpha.com/ws"`
	TreeHistoryURL string `envconfig:"TREE_HISTORY_URL" default:"https://news.treeofalpha.com/api/news"`

	PhoenixEnabled    bool   `envconfig:"PHOENIX_ENABLED" default:"true"`
	PhoenixWSURL      string `envconfig:"PHOENIX_WS_URL" default:"wss://wss.phoenixnews.io/"`
	PhoenixHistoryURL string `envconfig:"PHOENIX_HISTORY_URL" default:"https://api.phoenixnews.io/getLastNews"`

	CalendarEnabled   bool          `envconfig:"CALENDAR_ENABLED" default:"true"`
	CalendarURL       string        `envconfig:"CALENDAR_URL" default:"https://economic-calendar.tradingview.com/events"`
	CalendarInterval  time.Duration `envconfig:"CALENDAR_INTERVAL" default:"5m"`
	CalendarCountries []string      `envconfig:"CALENDAR_COUNTRIES" default:"US"`

	PingInterval time.Duration `envconfig:"NEWS_PING_INTERVAL" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"NEWS_READ_TIMEOUT" default:"15s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

func (c Config) Backoff() utils.Backoff {
	return utils.Backoff{Min: c.BackoffMin, Max: c.BackoffMax, Factor: c.BackoffFactor, Jitter: c.BackoffJitter}
}
