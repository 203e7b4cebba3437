// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Agent() AgentConfig
	Oracle() OracleConfig
	Actuator() ActuatorConfig
	Memory() MemoryConfig
	Workflow() WorkflowConfig

	// Run setters, driven by CLI flags rather than the config file.
	SetAgentMaxIterations(int)
	SetAgentTaskTimeout(time.Duration)
	SetActuatorDryRun(bool)
}

// Config holds the entire application configuration. It uses private fields
// to enforce access through the Interface's getter methods.
type Config struct {
	logger   LoggerConfig
	agent    AgentConfig
	oracle   OracleConfig
	actuator ActuatorConfig
	memory   MemoryConfig
	workflow WorkflowConfig
}

// rawConfig mirrors Config with exported fields so viper's Unmarshal can
// populate it; mapstructure skips unexported fields silently.
type rawConfig struct {
	Logger   LoggerConfig   `mapstructure:"logger"`
	Agent    AgentConfig    `mapstructure:"agent"`
	Oracle   OracleConfig   `mapstructure:"oracle"`
	Actuator ActuatorConfig `mapstructure:"actuator"`
	Memory   MemoryConfig   `mapstructure:"memory"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
}

func (r rawConfig) toConfig() *Config {
	return &Config{
		logger:   r.Logger,
		agent:    r.Agent,
		oracle:   r.Oracle,
		actuator: r.Actuator,
		memory:   r.Memory,
		workflow: r.Workflow,
	}
}

func (c *Config) Logger() LoggerConfig     { return c.logger }
func (c *Config) Agent() AgentConfig       { return c.agent }
func (c *Config) Oracle() OracleConfig     { return c.oracle }
func (c *Config) Actuator() ActuatorConfig { return c.actuator }
func (c *Config) Memory() MemoryConfig     { return c.memory }
func (c *Config) Workflow() WorkflowConfig { return c.workflow }

func (c *Config) SetAgentMaxIterations(n int)           { c.agent.MaxIterations = n }
func (c *Config) SetAgentTaskTimeout(d time.Duration)   { c.agent.TaskTimeout = d }
func (c *Config) SetActuatorDryRun(b bool)              { c.actuator.DryRun = b }

// LoggerConfig holds settings for the zap logging stack.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// AgentConfig tunes the decision core: budgets, retry policy and the
// reflection cadence.
type AgentConfig struct {
	MaxIterations      int           `mapstructure:"max_iterations" yaml:"max_iterations"`
	TaskTimeout        time.Duration `mapstructure:"task_timeout" yaml:"task_timeout"`
	IntentRetries      int           `mapstructure:"intent_retries" yaml:"intent_retries"`
	ReflectionInterval int           `mapstructure:"reflection_interval" yaml:"reflection_interval"`
	SettleTime         time.Duration `mapstructure:"settle_time" yaml:"settle_time"`
	ShortTermCapacity  int           `mapstructure:"short_term_capacity" yaml:"short_term_capacity"`
	CoordTolerancePx   int           `mapstructure:"coord_tolerance_px" yaml:"coord_tolerance_px"`
	ContextLookback    int           `mapstructure:"context_lookback" yaml:"context_lookback"`
	FastPathMinSuccess int           `mapstructure:"fast_path_min_success" yaml:"fast_path_min_success"`
	ParallelBatches    bool          `mapstructure:"parallel_batches" yaml:"parallel_batches"`
}

// OracleProvider selects a vision-inference backend.
type OracleProvider string

const (
	ProviderGemini OracleProvider = "gemini"
	ProviderOpenAI OracleProvider = "openai"
)

// OracleConfig configures the vision oracle client.
type OracleConfig struct {
	Provider    OracleProvider `mapstructure:"provider" yaml:"provider"`
	Model       string         `mapstructure:"model" yaml:"model"`
	APIKey      string         `mapstructure:"api_key" yaml:"api_key"`
	Endpoint    string         `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration  `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32        `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int            `mapstructure:"max_tokens" yaml:"max_tokens"`
	// RatePerSecond throttles outbound oracle calls; <=0 disables the limiter.
	RatePerSecond float64 `mapstructure:"rate_per_second" yaml:"rate_per_second"`
	MaxRetries    int     `mapstructure:"max_retries" yaml:"max_retries"`
}

// ActuatorConfig configures the input-event backend.
type ActuatorConfig struct {
	Backend       string        `mapstructure:"backend" yaml:"backend"`
	RemoteURL     string        `mapstructure:"remote_url" yaml:"remote_url"`
	ActionTimeout time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	TypeDelay     time.Duration `mapstructure:"type_delay" yaml:"type_delay"`
	DryRun        bool          `mapstructure:"dry_run" yaml:"dry_run"`
}

// MemoryConfig configures long-term memory persistence.
type MemoryConfig struct {
	Backend  string `mapstructure:"backend" yaml:"backend"`
	FilePath string `mapstructure:"file_path" yaml:"file_path"`
	Postgres string `mapstructure:"postgres" yaml:"postgres"`
}

// WorkflowConfig configures the multi-task workflow engine.
type WorkflowConfig struct {
	TemplateDir     string        `mapstructure:"template_dir" yaml:"template_dir"`
	DefaultTimeout  time.Duration `mapstructure:"default_timeout" yaml:"default_timeout"`
	DefaultRetries  int           `mapstructure:"default_retries" yaml:"default_retries"`
	ContinueOnError bool          `mapstructure:"continue_on_error" yaml:"continue_on_error"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var raw rawConfig
	if err := v.Unmarshal(&raw); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return raw.toConfig()
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "deskpilot")
	v.SetDefault("logger.log_file", "deskpilot.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Agent --
	v.SetDefault("agent.max_iterations", 40)
	v.SetDefault("agent.task_timeout", "10m")
	v.SetDefault("agent.intent_retries", 2)
	v.SetDefault("agent.reflection_interval", 3)
	v.SetDefault("agent.settle_time", "300ms")
	v.SetDefault("agent.short_term_capacity", 20)
	v.SetDefault("agent.coord_tolerance_px", 8)
	v.SetDefault("agent.context_lookback", 5)
	v.SetDefault("agent.fast_path_min_success", 2)
	v.SetDefault("agent.parallel_batches", true)

	// -- Oracle --
	v.SetDefault("oracle.provider", "gemini")
	v.SetDefault("oracle.model", "gemini-2.5-flash")
	v.SetDefault("oracle.api_timeout", "45s")
	v.SetDefault("oracle.temperature", 0.2)
	v.SetDefault("oracle.max_tokens", 2048)
	v.SetDefault("oracle.rate_per_second", 1.0)
	v.SetDefault("oracle.max_retries", 3)

	// -- Actuator --
	v.SetDefault("actuator.backend", "cdp")
	v.SetDefault("actuator.action_timeout", "15s")
	v.SetDefault("actuator.type_delay", "35ms")
	v.SetDefault("actuator.dry_run", false)

	// -- Memory --
	v.SetDefault("memory.backend", "file")
	v.SetDefault("memory.file_path", "")

	// -- Workflow --
	v.SetDefault("workflow.default_timeout", "5m")
	v.SetDefault("workflow.default_retries", 1)
	v.SetDefault("workflow.continue_on_error", false)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// Bind environment variables for sensitive data
	v.BindEnv("oracle.api_key", "DESKPILOT_ORACLE_API_KEY")
	v.BindEnv("memory.postgres", "DESKPILOT_MEMORY_POSTGRES")

	var raw rawConfig
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg := raw.toConfig()

	// Manually load the key if Unmarshal didn't pick it up
	if cfg.oracle.APIKey == "" {
		cfg.oracle.APIKey = os.Getenv("DESKPILOT_ORACLE_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.agent.Validate(); err != nil {
		return fmt.Errorf("agent configuration invalid: %w", err)
	}
	if c.oracle.Provider != ProviderGemini && c.oracle.Provider != ProviderOpenAI {
		return fmt.Errorf("oracle.provider must be one of: gemini, openai")
	}
	if c.oracle.APITimeout <= 0 {
		return fmt.Errorf("oracle.api_timeout must be a positive duration")
	}
	if c.memory.Backend != "file" && c.memory.Backend != "postgres" {
		return fmt.Errorf("memory.backend must be one of: file, postgres")
	}
	if c.memory.Backend == "postgres" && c.memory.Postgres == "" {
		return fmt.Errorf("memory.postgres connection string is required for the postgres backend")
	}
	return nil
}

// Validate checks the AgentConfig settings.
func (a *AgentConfig) Validate() error {
	if a.MaxIterations <= 0 {
		return fmt.Errorf("max_iterations must be greater than 0")
	}
	if a.TaskTimeout <= 0 {
		return fmt.Errorf("task_timeout must be a positive duration")
	}
	if a.IntentRetries < 0 {
		return fmt.Errorf("intent_retries must not be negative")
	}
	if a.ReflectionInterval <= 0 {
		return fmt.Errorf("reflection_interval must be greater than 0")
	}
	if a.SettleTime <= 0 {
		return fmt.Errorf("settle_time must be a positive duration")
	}
	return nil
}
