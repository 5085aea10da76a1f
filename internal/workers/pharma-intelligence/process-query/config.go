package processquery

import (
	"time"

	"pharma-orchestrator/internal/common/config"
)

type Config struct {
	Timeout       time.Duration
	MaxJobsActive int
}

// LoadConfig reads the "process-pharma-query" worker entry, if any.
func LoadConfig(workers map[string]config.WorkerConfig) *Config {
	cfg := &Config{
		Timeout:       150 * time.Second,
		MaxJobsActive: 4,
	}
	if wc, ok := workers[TaskType]; ok {
		if wc.Timeout > 0 {
			cfg.Timeout = time.Duration(wc.Timeout) * time.Millisecond
		}
		if wc.MaxJobsActive > 0 {
			cfg.MaxJobsActive = wc.MaxJobsActive
		}
	}
	return cfg
}
