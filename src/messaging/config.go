package messaging

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	BusBufferSize  int           `envconfig:"BUS_BUFFER_SIZE" default:"256"`
	NATSURL        string        `envconfig:"NATS_URL"` // empty disables the bridge
	NATSSubject    string        `envconfig:"NATS_SUBJECT_PREFIX" default:"newstrader"`
	NATSReconnect  time.Duration `envconfig:"NATS_RECONNECT_WAIT" default:"2s"`
	NATSClientName string        `envconfig:"NATS_CLIENT_NAME" default:"newstrader"`
}

func GetConfig() Config {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}
