package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/ajitpratap0/microplan/internal/classifier"
	"github.com/ajitpratap0/microplan/internal/models"
	"github.com/ajitpratap0/microplan/internal/outbox"
	"github.com/ajitpratap0/microplan/internal/stock"
	"github.com/ajitpratap0/microplan/internal/uin"
)

// LLM providers.
const (
	ProviderClaude = "claude"
	ProviderGemini = "gemini"
	ProviderNone   = "none"
)

// Store drivers accepted in store.driver.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// Config holds all configuration for microplan.
type Config struct {
	Store    StoreConfig    `mapstructure:"store"`
	Neo4j    Neo4jConfig    `mapstructure:"neo4j"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Claude   ClaudeConfig   `mapstructure:"claude"`
	Gemini   GeminiConfig   `mapstructure:"gemini"`
	Planning PlanningConfig `mapstructure:"planning"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	API      APIConfig      `mapstructure:"api"`
}

// StoreConfig selects the record store backend.
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// Neo4jConfig holds trust-network graph settings. An empty URI keeps the
// network in memory.
type Neo4jConfig struct {
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// LLMConfig selects the text-generation backend.
type LLMConfig struct {
	Provider       string `mapstructure:"provider"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ClaudeConfig holds Anthropic Claude API settings.
type ClaudeConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

// String returns a safe representation of ClaudeConfig with the API key masked.
func (c ClaudeConfig) String() string {
	return fmt.Sprintf("ClaudeConfig{APIKey:%s, Model:%s}", maskAPIKey(c.APIKey), c.Model)
}

// GeminiConfig holds Google Gemini API settings.
type GeminiConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

func (c GeminiConfig) String() string {
	return fmt.Sprintf("GeminiConfig{APIKey:%s, Model:%s}", maskAPIKey(c.APIKey), c.Model)
}

// maskAPIKey shows first 4 + last 4 chars, replacing the middle with asterisks.
func maskAPIKey(key string) string {
	const visible = 4
	if len(key) <= visible*2 {
		return "***"
	}
	return key[:visible] + "****" + key[len(key)-visible:]
}

// PlanningConfig holds the tunable programme rules. Map keys are key-population
// codes; viper lowercases them.
type PlanningConfig struct {
	ClinicDistanceKm float64                          `mapstructure:"clinic_distance_km"`
	Volume           map[string]classifier.Thresholds `mapstructure:"volume"`
	Caseload         map[string]int                   `mapstructure:"caseload"`
	StockLowRatio    float64                          `mapstructure:"stock_low_ratio"`
	UINMaxAttempts   int                              `mapstructure:"uin_max_attempts"`
	OutboxAttempts   int                              `mapstructure:"outbox_attempts"`
}

// Rules converts the planning section into classifier rules.
func (p PlanningConfig) Rules() classifier.Rules {
	r := classifier.Rules{
		ClinicDistanceKm: p.ClinicDistanceKm,
		Volume:           make(map[models.KPType]classifier.Thresholds, len(p.Volume)),
		Caseload:         make(map[models.KPType]int, len(p.Caseload)),
	}
	for k, t := range p.Volume {
		r.Volume[models.KPType(strings.ToUpper(k))] = t
	}
	for k, n := range p.Caseload {
		r.Caseload[models.KPType(strings.ToUpper(k))] = n
	}
	return r
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	AuthToken  string `mapstructure:"auth_token"`
}

// Load reads configuration from file and environment variables.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(homeDir(), ".microplan"))
	v.AddConfigPath(".")

	// Environment variables: MICROPLAN_STORE_DRIVER, MICROPLAN_API_LISTEN_ADDR, ...
	v.SetEnvPrefix("MICROPLAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("claude.api_key", "MICROPLAN_CLAUDE_API_KEY", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("gemini.api_key", "MICROPLAN_GEMINI_API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("neo4j.password", "MICROPLAN_NEO4J_PASSWORD", "NEO4J_PASSWORD")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.dsn", filepath.Join(homeDir(), ".microplan", "microplan.db"))

	v.SetDefault("neo4j.uri", "")
	v.SetDefault("neo4j.username", "neo4j")
	v.SetDefault("neo4j.password", "")
	v.SetDefault("neo4j.database", "neo4j")

	v.SetDefault("llm.provider", ProviderClaude)
	v.SetDefault("llm.timeout_seconds", 30)

	v.SetDefault("claude.model", "claude-haiku-4-5-20251001")
	v.SetDefault("claude.base_url", "")
	v.SetDefault("gemini.model", "gemini-2.5-flash")
	v.SetDefault("gemini.base_url", "")

	volume := map[string]classifier.Thresholds{}
	for k, t := range classifier.DefaultVolumeThresholds() {
		volume[strings.ToLower(string(k))] = t
	}
	caseload := map[string]int{}
	for k, n := range classifier.DefaultCaseloadLimits() {
		caseload[strings.ToLower(string(k))] = n
	}
	v.SetDefault("planning.clinic_distance_km", classifier.DefaultClinicLimitKm)
	v.SetDefault("planning.volume", volume)
	v.SetDefault("planning.caseload", caseload)
	v.SetDefault("planning.stock_low_ratio", stock.DefaultLowRatio)
	v.SetDefault("planning.uin_max_attempts", uin.DefaultMaxAttempts)
	v.SetDefault("planning.outbox_attempts", outbox.DefaultMaxAttempts)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("api.listen_addr", ":8080")
	v.SetDefault("api.auth_token", "")
}

// Validate checks that required configuration fields are set and consistent.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn must not be empty for driver %q", c.Store.Driver)
		}
	default:
		return fmt.Errorf("store.driver must be one of memory, sqlite, pgx; got %q", c.Store.Driver)
	}
	switch c.LLM.Provider {
	case ProviderClaude, ProviderGemini, ProviderNone:
	default:
		return fmt.Errorf("llm.provider must be one of claude, gemini, none; got %q", c.LLM.Provider)
	}
	if c.LLM.TimeoutSeconds <= 0 {
		return fmt.Errorf("llm.timeout_seconds must be greater than 0")
	}
	if c.Planning.ClinicDistanceKm <= 0 {
		return fmt.Errorf("planning.clinic_distance_km must be greater than 0")
	}
	for k, t := range c.Planning.Volume {
		if !models.KPType(strings.ToUpper(k)).IsValid() {
			return fmt.Errorf("planning.volume: unknown key population %q", k)
		}
		if t.Med < 0 || t.High <= t.Med {
			return fmt.Errorf("planning.volume.%s: high (%d) must exceed med (%d)", k, t.High, t.Med)
		}
	}
	for k, n := range c.Planning.Caseload {
		if !models.KPType(strings.ToUpper(k)).IsValid() {
			return fmt.Errorf("planning.caseload: unknown key population %q", k)
		}
		if n <= 0 {
			return fmt.Errorf("planning.caseload.%s must be greater than 0", k)
		}
	}
	if c.Planning.StockLowRatio <= 0 || c.Planning.StockLowRatio >= 1 {
		return fmt.Errorf("planning.stock_low_ratio must be between 0 and 1")
	}
	if c.Planning.UINMaxAttempts <= 0 {
		return fmt.Errorf("planning.uin_max_attempts must be greater than 0")
	}
	if c.Planning.OutboxAttempts <= 0 {
		return fmt.Errorf("planning.outbox_attempts must be greater than 0")
	}
	return nil
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
