// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App          AppConfig                  `mapstructure:"app"`
	Server       ServerConfig               `mapstructure:"server"`
	Camunda      CamundaConfig              `mapstructure:"camunda"`
	Database     DatabaseConfig             `mapstructure:"database"`
	Workers      map[string]WorkerConfig    `mapstructure:"workers"`
	Orchestrator OrchestratorConfig         `mapstructure:"orchestrator"`
	Guardrails   GuardrailsConfig           `mapstructure:"guardrails"`
	RateLimits   map[string]RateLimitConfig `mapstructure:"rate_limits"`
	APIs         APIsConfig                 `mapstructure:"apis"`
	Jobs         JobsConfig                 `mapstructure:"jobs"`
	Sessions     SessionConfig              `mapstructure:"sessions"`
	Integrations IntegrationConfig          `mapstructure:"integrations"`
	Logging      LoggingConfig              `mapstructure:"logging"`
	Tracing      TracingConfig              `mapstructure:"tracing"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Address         string `mapstructure:"address"`
	ReadTimeout     int    `mapstructure:"read_timeout"`     // milliseconds
	WriteTimeout    int    `mapstructure:"write_timeout"`    // milliseconds
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"` // milliseconds
}

type CamundaConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	BrokerAddress  string `mapstructure:"broker_address"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// Enabled reports whether a PostgreSQL host is configured.
func (p PostgresConfig) Enabled() bool {
	return p.Host != ""
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	URL       string   `mapstructure:"url"`
	DocsIndex string   `mapstructure:"docs_index"`
}

// GetURL returns the first address or the URL field
func (e ElasticsearchConfig) GetURL() string {
	if e.URL != "" {
		return e.URL
	}
	if len(e.Addresses) > 0 {
		return e.Addresses[0]
	}
	return ""
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	URL      string `mapstructure:"url"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// WorkerConfig holds the core settings applicable to every worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"`     // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"` // For error handling
}

// --- Orchestration Core ---

type OrchestratorConfig struct {
	MaxParallelAgents    int     `mapstructure:"max_parallel_agents"`
	AgentTimeout         int     `mapstructure:"agent_timeout"` // milliseconds
	LLMThreshold         float64 `mapstructure:"llm_threshold"`
	SynthesisTemperature float64 `mapstructure:"synthesis_temperature"`
	SynthesisMaxTokens   int     `mapstructure:"synthesis_max_tokens"`
	GeneralMaxTokens     int     `mapstructure:"general_max_tokens"`
	WebResults           int     `mapstructure:"web_results"`
}

type GuardrailsConfig struct {
	MinLength int `mapstructure:"min_length"`
	MaxLength int `mapstructure:"max_length"`
}

// RateLimitConfig holds the daily quota of one external API.
type RateLimitConfig struct {
	Roles  map[string]int64 `mapstructure:"roles"`
	Global int64            `mapstructure:"global"`
}

// --- External APIs ---

// APIsConfig holds settings for external API integrations.
type APIsConfig struct {
	LLM         LLMConfig         `mapstructure:"llm"`
	WebSearch   WebSearchConfig   `mapstructure:"web_search"`
	DataSources DataSourcesConfig `mapstructure:"data_sources"`
}

type LLMConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	Timeout    int    `mapstructure:"timeout"` // milliseconds
	MaxRetries int    `mapstructure:"max_retries"`
}

type WebSearchConfig struct {
	BaseURL     string `mapstructure:"base_url"`
	APIKey      string `mapstructure:"api_key"`
	SearchDepth string `mapstructure:"search_depth"`
	Timeout     int    `mapstructure:"timeout"` // milliseconds
	MaxRetries  int    `mapstructure:"max_retries"`
}

// DataSourcesConfig points each dataset at an optional HTTP data API.
type DataSourcesConfig struct {
	BaseURL  string            `mapstructure:"base_url"`
	APIKey   string            `mapstructure:"api_key"`
	Paths    map[string]string `mapstructure:"paths"`
	Timeout  int               `mapstructure:"timeout"`   // milliseconds
	CacheTTL int               `mapstructure:"cache_ttl"` // seconds
}

// --- Jobs & Sessions ---

type JobsConfig struct {
	Dispatcher string `mapstructure:"dispatcher"` // local | zeebe
	PoolSize   int    `mapstructure:"pool_size"`
	Timeout    int    `mapstructure:"timeout"` // milliseconds
	TTL        int    `mapstructure:"ttl"`     // seconds
	ProcessID  string `mapstructure:"process_id"`
}

type SessionConfig struct {
	TTL      int    `mapstructure:"ttl"` // seconds
	AdminKey string `mapstructure:"admin_key"`
}

// IntegrationConfig holds settings for outbound notifications.
type IntegrationConfig struct {
	AWS struct {
		Region string `mapstructure:"region"`
		SNS    struct {
			Enabled  bool   `mapstructure:"enabled"`
			TopicARN string `mapstructure:"topic_arn"`
		} `mapstructure:"sns"`
	} `mapstructure:"aws"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

type TracingConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
}
