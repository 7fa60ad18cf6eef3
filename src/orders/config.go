package orders

import (
	"time"

	"github.com/kelseyhightower/envconfig"

	"newstrader/src/utils"
)

type Config struct {
	ExchangeTimeout    time.Duration `envconfig:"ORDER_EXCHANGE_TIMEOUT" default:"10s"`
	ConfirmAttempts    int           `envconfig:"ORDER_CONFIRM_ATTEMPTS" default:"8"`
	ConfirmInterval    time.Duration `envconfig:"ORDER_CONFIRM_INTERVAL" default:"250ms"`
	ConfirmMaxInterval time.Duration `envconfig:"ORDER_CONFIRM_MAX_INTERVAL" default:"2s"`
	ConfirmTimeout     time.Duration `envconfig:"ORDER_CONFIRM_TIMEOUT" default:"15s"`
	ReconcileSchedule  string        `envconfig:"ORDER_RECONCILE_SCHEDULE" default:"@every 5s"`
	AutoBracketOnFill  bool          `envconfig:"ORDER_AUTO_BRACKET" default:"true"`

	// Terminal orders stay in memory this long after their last update. Zero keeps them.
	TerminalRetention time.Duration `envconfig:"ORDER_TERMINAL_RETENTION" default:"1h"`
}

func GetConfig() Config {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}

func (c Config) confirmBackoff() utils.Backoff {
	return utils.Backoff{Min: c.ConfirmInterval, Max: c.ConfirmMaxInterval, Factor: 2, Jitter: 0.1}
}
