package pipeline

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Account used for suggestions and automatic entries. Empty picks the first registered account.
	AccountID    string        `envconfig:"PIPELINE_ACCOUNT_ID"`
	AutoTrigger  bool          `envconfig:"PIPELINE_AUTO_TRIGGER" default:"false"`
	HistoryLimit int           `envconfig:"PIPELINE_HISTORY_LIMIT" default:"50"`
	JobTimeout   time.Duration `envconfig:"PIPELINE_JOB_TIMEOUT" default:"30s"`

	// Automatic entries waiting per account before new ones are dropped.
	EntryQueueSize int `envconfig:"PIPELINE_ENTRY_QUEUE" default:"8"`
}

func GetConfig() Config {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}
