package catalog

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	RefreshSchedule string        `envconfig:"CATALOG_REFRESH_SCHEDULE" default:"@every 10m"`
	RefreshTimeout  time.Duration `envconfig:"CATALOG_REFRESH_TIMEOUT" default:"30s"`
}

func GetConfig() Config {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}
