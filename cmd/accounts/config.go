package accounts

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	ExchangeID string `envconfig:"ACCOUNT_EXCHANGE_ID" default:"paper"`
	RefPrefix  string `envconfig:"ACCOUNT_CREDENTIAL_PREFIX" default:"accounts/"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
