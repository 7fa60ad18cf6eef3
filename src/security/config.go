package security

import (
	"encoding/base64"
	"fmt"

	"github.com/kelseyhightower/envconfig"
	"golang.org/x/crypto/chacha20poly1305"
)

type Config struct {
	ExchangeCRKey string `envconfig:"EXCHANGE_CREDENTIALS_KEY" default:"Pjk+k4hske5KkKtbaKSVDOgpllRl+0EI6oCAdx88XqI="`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

// Key decodes the base64 credentials key. It must be 32 bytes.
func (c Config) Key() ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(c.ExchangeCRKey)
	if err != nil {
		return nil, fmt.Errorf("decode EXCHANGE_CREDENTIALS_KEY: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("EXCHANGE_CREDENTIALS_KEY must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return key, nil
}
