// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Engine() EngineConfig
	Run() RunConfig
	Learned() LearnedConfig
	Database() DatabaseConfig
	Escalation() EscalationConfig
	Report() ReportConfig

	// Run Setters
	SetRunURL(string)
	SetRunOutputDir(string)
	SetRunTimeout(time.Duration)
	SetRunContinueOnError(bool)
	SetRunIterations(int)
	SetRunUntilSuccess(bool)

	// Browser Setters
	SetBrowserHeadless(bool)
	SetBrowserBlockResources(bool)

	// Escalation Setters
	SetEscalationEnabled(bool)

	// Report Setters
	SetReportFormat(string)
	SetReportOutput(string)
}

// Config is the root of the application configuration tree.
type Config struct {
	LoggerCfg     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	BrowserCfg    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	EngineCfg     EngineConfig     `mapstructure:"engine" yaml:"engine"`
	RunCfg        RunConfig        `mapstructure:"run" yaml:"run"`
	LearnedCfg    LearnedConfig    `mapstructure:"learned" yaml:"learned"`
	DatabaseCfg   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	EscalationCfg EscalationConfig `mapstructure:"escalation" yaml:"escalation"`
	ReportCfg     ReportConfig     `mapstructure:"report" yaml:"report"`
}

var _ Interface = (*Config)(nil)

func (c *Config) Logger() LoggerConfig         { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig       { return c.BrowserCfg }
func (c *Config) Engine() EngineConfig         { return c.EngineCfg }
func (c *Config) Run() RunConfig               { return c.RunCfg }
func (c *Config) Learned() LearnedConfig       { return c.LearnedCfg }
func (c *Config) Database() DatabaseConfig     { return c.DatabaseCfg }
func (c *Config) Escalation() EscalationConfig { return c.EscalationCfg }
func (c *Config) Report() ReportConfig         { return c.ReportCfg }

// -- Setters, used by CLI flag overrides --

func (c *Config) SetRunURL(u string)              { c.RunCfg.URL = u }
func (c *Config) SetRunOutputDir(d string)        { c.RunCfg.OutputDir = d }
func (c *Config) SetRunTimeout(d time.Duration)   { c.RunCfg.Timeout = d }
func (c *Config) SetRunContinueOnError(b bool)    { c.RunCfg.ContinueOnError = b }
func (c *Config) SetRunIterations(n int)          { c.RunCfg.Iterations = n }
func (c *Config) SetRunUntilSuccess(b bool)       { c.RunCfg.UntilSuccess = b }
func (c *Config) SetBrowserHeadless(b bool)       { c.BrowserCfg.Headless = b }
func (c *Config) SetBrowserBlockResources(b bool) { c.BrowserCfg.BlockResources = b }
func (c *Config) SetEscalationEnabled(b bool)     { c.EscalationCfg.Enabled = b }
func (c *Config) SetReportFormat(f string)        { c.ReportCfg.Format = f }
func (c *Config) SetReportOutput(p string)        { c.ReportCfg.Output = p }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the Chrome instance driven by the run.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	DisableGPU        bool          `mapstructure:"disable_gpu" yaml:"disable_gpu"`
	BlockResources    bool          `mapstructure:"block_resources" yaml:"block_resources"`
	UserAgent         string        `mapstructure:"user_agent" yaml:"user_agent"`
	WindowWidth       int           `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight      int           `mapstructure:"window_height" yaml:"window_height"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	ActionsPerSecond  float64       `mapstructure:"actions_per_second" yaml:"actions_per_second"`
	ActionBurst       int           `mapstructure:"action_burst" yaml:"action_burst"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
}

// EngineConfig tunes the stage resolution loop.
type EngineConfig struct {
	TotalStages         int           `mapstructure:"total_stages" yaml:"total_stages"`
	RetryBudget         int           `mapstructure:"retry_budget" yaml:"retry_budget"`
	BackoffBase         time.Duration `mapstructure:"backoff_base" yaml:"backoff_base"`
	BackoffCap          time.Duration `mapstructure:"backoff_cap" yaml:"backoff_cap"`
	ExtractTimeout      time.Duration `mapstructure:"extract_timeout" yaml:"extract_timeout"`
	AdvanceTimeout      time.Duration `mapstructure:"advance_timeout" yaml:"advance_timeout"`
	PollInterval        time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	PostSubmitWait      time.Duration `mapstructure:"post_submit_wait" yaml:"post_submit_wait"`
	RegressionTolerance int           `mapstructure:"regression_tolerance" yaml:"regression_tolerance"`
	NormalizeRounds     int           `mapstructure:"normalize_rounds" yaml:"normalize_rounds"`
	DecoyWords          []string      `mapstructure:"decoy_words" yaml:"decoy_words"`
}

// RunConfig holds settings for a single invocation of the run command.
type RunConfig struct {
	URL             string        `mapstructure:"url" yaml:"url"`
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
	OutputDir       string        `mapstructure:"output_dir" yaml:"output_dir"`
	ContinueOnError bool          `mapstructure:"continue_on_error" yaml:"continue_on_error"`
	MaxFailures     int           `mapstructure:"max_failures" yaml:"max_failures"`
	Iterations      int           `mapstructure:"iterations" yaml:"iterations"`
	UntilSuccess    bool          `mapstructure:"until_success" yaml:"until_success"`
}

// LearnedBackend names where the learned stage map is persisted.
type LearnedBackend string

const (
	LearnedBackendFile     LearnedBackend = "file"
	LearnedBackendPostgres LearnedBackend = "postgres"
)

// LearnedConfig selects and configures the learned map store.
type LearnedConfig struct {
	Backend   LearnedBackend `mapstructure:"backend" yaml:"backend"`
	Dir       string         `mapstructure:"dir" yaml:"dir"`
	SharedDir string         `mapstructure:"shared_dir" yaml:"shared_dir"`
}

// DatabaseConfig holds the database connection details.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// EscalationConfig configures the optional language model planner consulted
// after a stage exhausts its retries.
type EscalationConfig struct {
	Enabled     bool          `mapstructure:"enabled" yaml:"enabled"`
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	Model       string        `mapstructure:"model" yaml:"model"`
	MaxCalls    int           `mapstructure:"max_calls" yaml:"max_calls"`
	MaxActions  int           `mapstructure:"max_actions" yaml:"max_actions"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
}

// ReportConfig controls where run results are written.
type ReportConfig struct {
	Format     string `mapstructure:"format" yaml:"format"`
	Output     string `mapstructure:"output" yaml:"output"`
	LiveStatus string `mapstructure:"live_status" yaml:"live_status"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "gauntlet")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 10)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 7)
	v.SetDefault("logger.compress", false)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_gpu", true)
	v.SetDefault("browser.block_resources", true)
	v.SetDefault("browser.window_width", 1280)
	v.SetDefault("browser.window_height", 900)
	v.SetDefault("browser.actions_per_second", 25.0)
	v.SetDefault("browser.action_burst", 5)
	v.SetDefault("browser.action_timeout", "5s")
	v.SetDefault("browser.navigation_timeout", "30s")

	// -- Engine --
	v.SetDefault("engine.total_stages", 30)
	v.SetDefault("engine.retry_budget", 3)
	v.SetDefault("engine.backoff_base", "40ms")
	v.SetDefault("engine.backoff_cap", "400ms")
	v.SetDefault("engine.extract_timeout", "1500ms")
	v.SetDefault("engine.advance_timeout", "3s")
	v.SetDefault("engine.poll_interval", "50ms")
	v.SetDefault("engine.post_submit_wait", "100ms")
	v.SetDefault("engine.regression_tolerance", 2)
	v.SetDefault("engine.normalize_rounds", 3)
	v.SetDefault("engine.decoy_words", []string{})

	// -- Run --
	v.SetDefault("run.url", "")
	v.SetDefault("run.timeout", "5m")
	v.SetDefault("run.output_dir", "out")
	v.SetDefault("run.continue_on_error", false)
	v.SetDefault("run.max_failures", 5)
	v.SetDefault("run.iterations", 1)
	v.SetDefault("run.until_success", false)

	// -- Learned --
	v.SetDefault("learned.backend", string(LearnedBackendFile))
	v.SetDefault("learned.dir", "")
	v.SetDefault("learned.shared_dir", "out")

	// -- Escalation --
	v.SetDefault("escalation.enabled", false)
	v.SetDefault("escalation.model", "gemini-2.5-flash")
	v.SetDefault("escalation.max_calls", 3)
	v.SetDefault("escalation.max_actions", 5)
	v.SetDefault("escalation.timeout", "20s")
	v.SetDefault("escalation.temperature", 0.2)

	// -- Report --
	v.SetDefault("report.format", "json")
	v.SetDefault("report.output", "results.json")
	v.SetDefault("report.live_status", "")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Secrets are usually provided through the environment only.
	_ = v.BindEnv("escalation.api_key", "GAUNTLET_ESCALATION_API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("database.url", "GAUNTLET_DATABASE_URL", "DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.EscalationCfg.Enabled && cfg.EscalationCfg.APIKey == "" {
		cfg.EscalationCfg.APIKey = os.Getenv("GOOGLE_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.EngineCfg.Validate(); err != nil {
		return fmt.Errorf("engine configuration invalid: %w", err)
	}
	if c.BrowserCfg.ActionsPerSecond <= 0 {
		return fmt.Errorf("browser.actions_per_second must be positive")
	}
	if c.BrowserCfg.ActionBurst <= 0 {
		return fmt.Errorf("browser.action_burst must be a positive integer")
	}
	if c.RunCfg.Timeout <= 0 {
		return fmt.Errorf("run.timeout must be a positive duration")
	}
	if c.RunCfg.Iterations <= 0 {
		return fmt.Errorf("run.iterations must be a positive integer")
	}
	switch c.LearnedCfg.Backend {
	case LearnedBackendFile:
	case LearnedBackendPostgres:
		if c.DatabaseCfg.URL == "" {
			return fmt.Errorf("database.url is required when learned.backend is %q", LearnedBackendPostgres)
		}
	default:
		return fmt.Errorf("unknown learned.backend %q", c.LearnedCfg.Backend)
	}
	switch strings.ToLower(c.ReportCfg.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("unknown report.format %q", c.ReportCfg.Format)
	}
	if err := c.EscalationCfg.Validate(); err != nil {
		return fmt.Errorf("escalation configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the EngineConfig settings.
func (e *EngineConfig) Validate() error {
	if e.TotalStages <= 0 {
		return fmt.Errorf("total_stages must be a positive integer")
	}
	if e.RetryBudget < 0 {
		return fmt.Errorf("retry_budget must not be negative")
	}
	if e.BackoffBase <= 0 || e.BackoffCap < e.BackoffBase {
		return fmt.Errorf("backoff_base must be positive and not exceed backoff_cap")
	}
	if e.ExtractTimeout <= 0 || e.AdvanceTimeout <= 0 || e.PollInterval <= 0 {
		return fmt.Errorf("extract_timeout, advance_timeout and poll_interval must be positive durations")
	}
	if e.RegressionTolerance < 0 {
		return fmt.Errorf("regression_tolerance must not be negative")
	}
	return nil
}

// Validate checks the EscalationConfig settings.
func (e *EscalationConfig) Validate() error {
	if !e.Enabled {
		return nil
	}
	if e.APIKey == "" {
		return fmt.Errorf("api_key is required when escalation is enabled (hint: set GAUNTLET_ESCALATION_API_KEY)")
	}
	if e.MaxCalls <= 0 {
		return fmt.Errorf("max_calls must be greater than 0")
	}
	if e.MaxActions <= 0 || e.MaxActions > 10 {
		return fmt.Errorf("max_actions must be between 1 and 10")
	}
	return nil
}
