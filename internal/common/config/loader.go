// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	// ENV override like APIS_LLM_API_KEY
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig() // environment overlay is optional

	return finalize(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return finalize(v)
}

func finalize(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
		"../../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// Find project root by looking for go.mod
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
			expanded := os.ExpandEnv(strVal)
			if expanded != strVal && expanded != "" {
				v.Set(key, expanded)
			}
		}
	}
}

// Direct override if config values are still empty after expansion
func overrideEmptyConfig(cfg *Config) {
	overrides := []struct {
		target *string
		env    string
	}{
		{&cfg.APIs.LLM.APIKey, "GROQ_API_KEY"},
		{&cfg.APIs.WebSearch.APIKey, "TAVILY_API_KEY"},
		{&cfg.APIs.DataSources.APIKey, "DATA_API_KEY"},
		{&cfg.Database.Redis.URL, "REDIS_URL"},
		{&cfg.Database.Postgres.User, "DB_USER"},
		{&cfg.Database.Postgres.Password, "DB_PASSWORD"},
		{&cfg.Sessions.AdminKey, "SESSION_ADMIN_KEY"},
		{&cfg.Integrations.AWS.SNS.TopicARN, "SNS_TOPIC_ARN"},
	}

	for _, o := range overrides {
		if *o.target == "" {
			if val := os.Getenv(o.env); val != "" {
				*o.target = val
			}
		}
	}
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "pharma-orchestrator"
	}

	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15000
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 120000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10000
	}

	if cfg.Camunda.MaxJobsActive == 0 {
		cfg.Camunda.MaxJobsActive = 10
	}
	if cfg.Camunda.Timeout == 0 {
		cfg.Camunda.Timeout = 30000
	}
	if cfg.Camunda.RequestTimeout == 0 {
		cfg.Camunda.RequestTimeout = 30000
	}

	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}
	if cfg.Database.Elasticsearch.URL == "" && len(cfg.Database.Elasticsearch.Addresses) > 0 {
		cfg.Database.Elasticsearch.URL = cfg.Database.Elasticsearch.Addresses[0]
	}
	if cfg.Database.Elasticsearch.DocsIndex == "" {
		cfg.Database.Elasticsearch.DocsIndex = "internal_docs"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	for key, worker := range cfg.Workers {
		if worker.MaxJobsActive == 0 {
			worker.MaxJobsActive = 5
		}
		if worker.Timeout == 0 {
			worker.Timeout = 120000
		}
		if worker.MaxRetries == 0 {
			worker.MaxRetries = 3
		}
		cfg.Workers[key] = worker
	}

	o := &cfg.Orchestrator
	if o.MaxParallelAgents == 0 {
		o.MaxParallelAgents = 4
	}
	if o.AgentTimeout == 0 {
		o.AgentTimeout = 30000
	}
	if o.LLMThreshold == 0 {
		o.LLMThreshold = 0.9
	}
	if o.SynthesisTemperature == 0 {
		o.SynthesisTemperature = 0.3
	}
	if o.SynthesisMaxTokens == 0 {
		o.SynthesisMaxTokens = 2048
	}
	if o.GeneralMaxTokens == 0 {
		o.GeneralMaxTokens = 1024
	}
	if o.WebResults == 0 {
		o.WebResults = 5
	}

	if cfg.Guardrails.MinLength == 0 {
		cfg.Guardrails.MinLength = 3
	}
	if cfg.Guardrails.MaxLength == 0 {
		cfg.Guardrails.MaxLength = 2000
	}

	if len(cfg.RateLimits) == 0 {
		cfg.RateLimits = DefaultRateLimits()
	}

	if cfg.APIs.LLM.BaseURL == "" {
		cfg.APIs.LLM.BaseURL = "https://api.groq.com/openai/v1"
	}
	if cfg.APIs.LLM.Model == "" {
		cfg.APIs.LLM.Model = "llama-3.3-70b-versatile"
	}
	if cfg.APIs.LLM.Timeout == 0 {
		cfg.APIs.LLM.Timeout = 60000
	}
	if cfg.APIs.LLM.MaxRetries == 0 {
		cfg.APIs.LLM.MaxRetries = 3
	}
	if cfg.APIs.WebSearch.BaseURL == "" {
		cfg.APIs.WebSearch.BaseURL = "https://api.tavily.com"
	}
	if cfg.APIs.WebSearch.SearchDepth == "" {
		cfg.APIs.WebSearch.SearchDepth = "basic"
	}
	if cfg.APIs.WebSearch.Timeout == 0 {
		cfg.APIs.WebSearch.Timeout = 10000
	}
	if cfg.APIs.WebSearch.MaxRetries == 0 {
		cfg.APIs.WebSearch.MaxRetries = 2
	}
	if cfg.APIs.DataSources.Timeout == 0 {
		cfg.APIs.DataSources.Timeout = 10000
	}
	if cfg.APIs.DataSources.CacheTTL == 0 {
		cfg.APIs.DataSources.CacheTTL = 1800
	}

	if cfg.Jobs.Dispatcher == "" {
		cfg.Jobs.Dispatcher = "local"
	}
	if cfg.Jobs.PoolSize == 0 {
		cfg.Jobs.PoolSize = 4
	}
	if cfg.Jobs.Timeout == 0 {
		cfg.Jobs.Timeout = 180000
	}
	if cfg.Jobs.TTL == 0 {
		cfg.Jobs.TTL = 86400
	}
	if cfg.Jobs.ProcessID == "" {
		cfg.Jobs.ProcessID = "pharma-query-process"
	}

	if cfg.Sessions.TTL == 0 {
		cfg.Sessions.TTL = 86400
	}

	if cfg.Integrations.AWS.Region == "" {
		cfg.Integrations.AWS.Region = "us-east-1"
	}
}

// DefaultRateLimits returns the daily quotas per API and role tier.
func DefaultRateLimits() map[string]RateLimitConfig {
	return map[string]RateLimitConfig{
		"groq": {
			Roles:  map[string]int64{"analyst": 100, "manager": 200, "executive": 500, "admin": 1000},
			Global: 5000,
		},
		"tavily": {
			Roles:  map[string]int64{"analyst": 50, "manager": 100, "executive": 200, "admin": 500},
			Global: 1000,
		},
	}
}

// validateConfig validates critical configuration fields
func validateConfig(cfg *Config) error {
	if cfg.Database.Redis.Address == "" && cfg.Database.Redis.URL == "" {
		return fmt.Errorf("database.redis.address or url is required")
	}

	if cfg.Camunda.Enabled && cfg.Camunda.BrokerAddress == "" {
		return fmt.Errorf("camunda.broker_address is required when camunda is enabled")
	}
	if cfg.Jobs.Dispatcher != "local" && cfg.Jobs.Dispatcher != "zeebe" {
		return fmt.Errorf("jobs.dispatcher must be local or zeebe, got %q", cfg.Jobs.Dispatcher)
	}
	if cfg.Jobs.Dispatcher == "zeebe" && !cfg.Camunda.Enabled {
		return fmt.Errorf("jobs.dispatcher zeebe requires camunda.enabled")
	}

	if cfg.Database.Postgres.Enabled() {
		if cfg.Database.Postgres.Database == "" {
			return fmt.Errorf("database.postgres.database is required")
		}
		if cfg.Database.Postgres.User == "" {
			return fmt.Errorf("database.postgres.user is required")
		}
	}

	if cfg.Orchestrator.MaxParallelAgents < 1 {
		return fmt.Errorf("orchestrator.max_parallel_agents must be positive")
	}
	if cfg.Guardrails.MinLength > cfg.Guardrails.MaxLength {
		return fmt.Errorf("guardrails.min_length exceeds max_length")
	}

	if cfg.Integrations.AWS.SNS.Enabled && cfg.Integrations.AWS.SNS.TopicARN == "" {
		return fmt.Errorf("integrations.aws.sns.topic_arn is required when sns is enabled")
	}

	return nil
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}

// GetWorkerConfig retrieves worker-specific configuration with fallback to defaults
func GetWorkerConfig(cfg *Config, workerName string) WorkerConfig {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker
	}

	return WorkerConfig{
		Enabled:       true,
		MaxJobsActive: 5,
		Timeout:       120000,
		MaxRetries:    3,
	}
}

// IsWorkerEnabled checks if a specific worker is enabled
func IsWorkerEnabled(cfg *Config, workerName string) bool {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker.Enabled
	}
	return true
}
