package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ajitpratap0/hass-timeline/internal/models"
)

const (
	// DefaultLimit is the default number of events shown.
	DefaultLimit = 10

	// DefaultHours is the default history window in hours.
	DefaultHours = 24.0

	// DefaultRefreshInterval is the default time between background refreshes.
	DefaultRefreshInterval = time.Minute
)

// Config holds all configuration for hass-timeline.
type Config struct {
	HomeAssistant HomeAssistantConfig `mapstructure:"home_assistant"`
	Timeline      TimelineConfig      `mapstructure:"timeline"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Refresh       RefreshConfig       `mapstructure:"refresh"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	API           APIConfig           `mapstructure:"api"`

	// Warnings collects non-fatal problems found while loading, such as
	// duplicate entity entries.
	Warnings []string `mapstructure:"-"`
}

// HomeAssistantConfig holds Home Assistant connection settings.
type HomeAssistantConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// String returns a safe representation of HomeAssistantConfig with the token masked.
func (c HomeAssistantConfig) String() string {
	return fmt.Sprintf("HomeAssistantConfig{BaseURL:%s, Token:%s, Timeout:%s}", c.BaseURL, maskToken(c.Token), c.Timeout)
}

// maskToken shows first 4 + last 4 chars, replacing the middle with asterisks.
func maskToken(token string) string {
	const visible = 4
	if len(token) <= visible*2 {
		return "***"
	}
	return token[:visible] + "****" + token[len(token)-visible:]
}

// TimelineConfig holds the timeline contents and presentation settings.
type TimelineConfig struct {
	// Entities is filled from the raw "entities" value by NormalizeEntities.
	Entities           []models.EntityRule `mapstructure:"-"`
	Limit              int                 `mapstructure:"limit"`
	Hours              float64             `mapstructure:"hours"`
	CollapseDuplicates *bool               `mapstructure:"collapse_duplicates"`
	Language           string              `mapstructure:"language"`
	Title              string              `mapstructure:"title"`
	RelativeTime       bool                `mapstructure:"relative_time"`
	ShowNames          bool                `mapstructure:"show_names"`
	ShowStates         bool                `mapstructure:"show_states"`
	ShowIcons          bool                `mapstructure:"show_icons"`
}

// Global returns the timeline-wide defaults that entity rules fall back to.
func (c TimelineConfig) Global() models.GlobalOptions {
	return models.GlobalOptions{CollapseDuplicates: c.CollapseDuplicates}
}

// CacheConfig holds history cache settings. A zero TTL keeps entries for the
// life of the process.
type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// RefreshConfig holds background refresh settings.
type RefreshConfig struct {
	Interval time.Duration `mapstructure:"interval"`
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

// Load reads configuration from file and environment variables. An empty
// configFile searches the default locations.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("home_assistant.base_url", "")
	v.SetDefault("home_assistant.token", "")
	v.SetDefault("home_assistant.timeout", 10*time.Second)

	v.SetDefault("timeline.limit", DefaultLimit)
	v.SetDefault("timeline.hours", DefaultHours)
	v.SetDefault("timeline.language", "")
	v.SetDefault("timeline.title", "")
	v.SetDefault("timeline.relative_time", false)
	v.SetDefault("timeline.show_names", true)
	v.SetDefault("timeline.show_states", true)
	v.SetDefault("timeline.show_icons", true)

	v.SetDefault("cache.ttl", time.Duration(0))
	v.SetDefault("refresh.interval", DefaultRefreshInterval)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("api.listen_addr", ":8080")
	v.SetDefault("api.auth_token", "")

	// Config file
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(filepath.Join(homeDir(), ".hass-timeline"))
		v.AddConfigPath(".")
	}

	// Environment variables
	v.SetEnvPrefix("HASS_TIMELINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Map specific env vars
	_ = v.BindEnv("home_assistant.token", "HASS_TIMELINE_HOME_ASSISTANT_TOKEN", "HASS_TOKEN")
	_ = v.BindEnv("home_assistant.base_url", "HASS_TIMELINE_HOME_ASSISTANT_BASE_URL", "HASS_URL")
	_ = v.BindEnv("timeline.entities", "HASS_TIMELINE_TIMELINE_ENTITIES")
	_ = v.BindEnv("timeline.collapse_duplicates", "HASS_TIMELINE_TIMELINE_COLLAPSE_DUPLICATES")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// Config file not found is OK, use defaults + env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	rules, warnings, err := models.NormalizeEntities(entitiesValue(v.Get("timeline.entities")))
	if err != nil {
		return nil, fmt.Errorf("timeline.entities: %w", err)
	}
	cfg.Timeline.Entities = rules
	cfg.Warnings = warnings

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// entitiesValue accepts a comma-separated list of ids as set through the
// environment.
func entitiesValue(raw any) any {
	s, ok := raw.(string)
	if !ok {
		return raw
	}
	var ids []string
	for _, id := range strings.Split(s, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// Validate checks that required configuration fields are set and consistent.
func (c *Config) Validate() error {
	if c.HomeAssistant.BaseURL == "" {
		return fmt.Errorf("home_assistant.base_url must not be empty")
	}
	if c.HomeAssistant.Token == "" {
		return fmt.Errorf("home_assistant.token must not be empty")
	}
	if c.HomeAssistant.Timeout <= 0 {
		return fmt.Errorf("home_assistant.timeout must be greater than 0")
	}
	if len(c.Timeline.Entities) == 0 {
		return fmt.Errorf("timeline.entities must not be empty")
	}
	if c.Timeline.Limit < 0 {
		return fmt.Errorf("timeline.limit must be >= 0")
	}
	if c.Timeline.Hours <= 0 {
		return fmt.Errorf("timeline.hours must be greater than 0")
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl must be >= 0")
	}
	if c.Refresh.Interval <= 0 {
		return fmt.Errorf("refresh.interval must be greater than 0")
	}
	switch c.Logging.Format {
	case "text", "json", "pretty":
	default:
		return fmt.Errorf("logging.format must be one of text, json, pretty (got %q)", c.Logging.Format)
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
