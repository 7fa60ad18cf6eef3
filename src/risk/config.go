package risk

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	NewsBlockBefore time.Duration `envconfig:"RISK_NEWS_BLOCK_BEFORE" default:"15m"`
	NewsBlockAfter  time.Duration `envconfig:"RISK_NEWS_BLOCK_AFTER" default:"15m"`
	SessionSizing   bool          `envconfig:"RISK_SESSION_SIZING" default:"true"`

	// News older than this never triggers an entry. Zero disables the check.
	MaxNewsAge     time.Duration `envconfig:"RISK_MAX_NEWS_AGE" default:"2m"`
	SymbolCooldown time.Duration `envconfig:"RISK_SYMBOL_COOLDOWN" default:"5m"`
}

func GetConfig() Config {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}
