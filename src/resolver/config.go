package resolver

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	TradePreset string `envconfig:"RESOLVER_TRADE_PRESET" default:"lowest"`
	DefaultSide string `envconfig:"RESOLVER_DEFAULT_SIDE" default:"long"`
}

func GetConfig() Config {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}
