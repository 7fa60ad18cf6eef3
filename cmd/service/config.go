package service

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Optional token list merged into the filter as keyword to coin rules.
	TokenListURL  string `envconfig:"TOKEN_LIST_URL"`
	TreeKeyRef    string `envconfig:"TREE_KEY_REF" default:"news/tree"`
	PhoenixKeyRef string `envconfig:"PHOENIX_KEY_REF" default:"news/phoenix"`
}

func GetConfig() *Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return &config
}
