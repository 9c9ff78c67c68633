// Package config loads run configuration from YAML files and environment variables.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/talgya/econ-schelling/internal/agents"
	"github.com/talgya/econ-schelling/internal/engine"
	"github.com/talgya/econ-schelling/internal/world"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SCHELLING_"

// Config contains every setting of a run.
type Config struct {
	Grid         GridConfig         `yaml:"grid"`
	Population   PopulationConfig   `yaml:"population"`
	Zones        ZonesConfig        `yaml:"zones"`
	Neighborhood NeighborhoodConfig `yaml:"neighborhood"`
	Behavior     BehaviorConfig     `yaml:"behavior"`

	// Seed for the run's random stream; 0 picks one at startup.
	Seed int64 `yaml:"seed"`

	Engine   EngineConfig   `yaml:"engine"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
	Database DatabaseConfig `yaml:"database"`
	API      APIConfig      `yaml:"api"`
}

// GridConfig sizes the grid and its initial occupancy.
type GridConfig struct {
	Width   int     `yaml:"width"`
	Height  int     `yaml:"height"`
	Density float64 `yaml:"density"`
}

// PopulationConfig controls the class cascade of new agents.
type PopulationConfig struct {
	ChanceHighClass   float64 `yaml:"chance_high_class"`
	ChanceMiddleClass float64 `yaml:"chance_middle_class"`
}

// ZonesConfig holds zone fractions and the layout strategy.
type ZonesConfig struct {
	world.ZoneFractions `yaml:",inline"`

	// Layout is "shuffled" (default) or "clustered".
	Layout string `yaml:"layout"`
}

// NeighborhoodConfig selects the neighbor cells of each cell.
type NeighborhoodConfig struct {
	// Kind is "moore" (default) or "von_neumann".
	Kind string `yaml:"kind"`

	// Bounded stops neighborhoods at the grid edge instead of wrapping.
	Bounded bool `yaml:"bounded"`
}

// BehaviorConfig holds the agent rules.
type BehaviorConfig struct {
	Homophily          float64        `yaml:"homophily"`
	HappinessThreshold float64        `yaml:"happiness_threshold"`
	DowngradeAfter     DowngradeAfter `yaml:"downgrade_after"`
	PFired             float64        `yaml:"p_fired"`
	PHired             float64        `yaml:"p_hired"`

	RemoveChronicUnemployed bool `yaml:"remove_chronic_unemployed"`
	LegacyZoneMatching      bool `yaml:"legacy_zone_matching"`
}

// DowngradeAfter gives, per tier, the unemployed ticks tolerated before demotion.
type DowngradeAfter struct {
	Low    int `yaml:"low"`
	Middle int `yaml:"middle"`
	High   int `yaml:"high"`
}

// EngineConfig paces the tick loop.
type EngineConfig struct {
	Interval time.Duration `yaml:"interval"`
	Speed    float64       `yaml:"speed"`
	MaxTicks uint64        `yaml:"max_ticks"`
}

// MetricsConfig bounds in-memory metrics.
type MetricsConfig struct {
	// Retain caps the snapshots kept in memory; 0 keeps all.
	Retain int `yaml:"retain"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
}

// DatabaseConfig locates the optional metrics database.
type DatabaseConfig struct {
	// Path to the SQLite file; empty disables recording.
	Path string `yaml:"path"`
}

// APIConfig configures the HTTP server.
type APIConfig struct {
	Port int `yaml:"port"`

	// AdminKey guards POST endpoints. Supports ${VAR} syntax for env vars.
	AdminKey string `yaml:"admin_key,omitempty"`

	// TrustedProxies lists reverse proxy IPs whose X-Forwarded-For is honored
	// by the rate limiter.
	TrustedProxies []string `yaml:"trusted_proxies,omitempty"`
}

// Default returns the baseline configuration.
func Default() *Config {
	p := engine.DefaultParams()
	return &Config{
		Grid: GridConfig{
			Width:   p.Width,
			Height:  p.Height,
			Density: p.Density,
		},
		Population: PopulationConfig{
			ChanceHighClass:   p.ChanceHighClass,
			ChanceMiddleClass: p.ChanceMiddleClass,
		},
		Zones: ZonesConfig{
			ZoneFractions: p.Zones,
			Layout:        world.LayoutShuffled.String(),
		},
		Neighborhood: NeighborhoodConfig{Kind: "moore"},
		Behavior: BehaviorConfig{
			Homophily:          p.Rules.Homophily,
			HappinessThreshold: p.Rules.HappinessThreshold,
			DowngradeAfter: DowngradeAfter{
				Low:    p.Rules.DowngradeAfter[agents.ClassLow],
				Middle: p.Rules.DowngradeAfter[agents.ClassMiddle],
				High:   p.Rules.DowngradeAfter[agents.ClassHigh],
			},
			PFired: p.Rules.PFired,
			PHired: p.Rules.PHired,
		},
		Engine: EngineConfig{
			Interval: 200 * time.Millisecond,
			Speed:    1,
			MaxTicks: 1000,
		},
		Logging: LoggingConfig{Level: "info"},
		API:     APIConfig{Port: 8080},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// non-empty), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		fileCfg, err := LoadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
		cfg = fileCfg
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// LoadFromFile loads configuration from a specific YAML file. Unset fields
// keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.API.AdminKey = expandEnvVars(cfg.API.AdminKey)
	return cfg, nil
}

// Params converts the configuration into simulation parameters.
func (c *Config) Params() (engine.Params, error) {
	layout, err := world.ParseLayout(c.Zones.Layout)
	if err != nil {
		return engine.Params{}, &world.ConfigError{Field: "zones.layout", Value: c.Zones.Layout, Reason: err.Error()}
	}
	nb, err := world.ParseNeighborhood(c.Neighborhood.Kind, c.Neighborhood.Bounded)
	if err != nil {
		return engine.Params{}, &world.ConfigError{Field: "neighborhood.kind", Value: c.Neighborhood.Kind, Reason: err.Error()}
	}

	b := c.Behavior
	return engine.Params{
		Width:             c.Grid.Width,
		Height:            c.Grid.Height,
		Density:           c.Grid.Density,
		ChanceHighClass:   c.Population.ChanceHighClass,
		ChanceMiddleClass: c.Population.ChanceMiddleClass,
		Zones:             c.Zones.ZoneFractions,
		ZoneLayout:        layout,
		Neighborhood:      nb,
		Rules: agents.Rules{
			Homophily:          b.Homophily,
			HappinessThreshold: b.HappinessThreshold,
			DowngradeAfter: [agents.NumClasses]int{
				agents.ClassLow:    b.DowngradeAfter.Low,
				agents.ClassMiddle: b.DowngradeAfter.Middle,
				agents.ClassHigh:   b.DowngradeAfter.High,
			},
			PFired:                  b.PFired,
			PHired:                  b.PHired,
			RemoveChronicUnemployed: b.RemoveChronicUnemployed,
			LegacyZoneMatching:      b.LegacyZoneMatching,
		},
		Seed:          c.Seed,
		MetricsRetain: c.Metrics.Retain,
	}, nil
}

// EngineConfig returns the pacing settings for engine.NewEngine.
func (c *Config) EngineConfig() engine.EngineConfig {
	return engine.EngineConfig{
		Interval: c.Engine.Interval,
		Speed:    c.Engine.Speed,
		MaxTicks: c.Engine.MaxTicks,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	p, err := c.Params()
	if err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}

	if c.Engine.Interval < 0 {
		return &world.ConfigError{Field: "engine.interval", Value: c.Engine.Interval, Reason: "must be non-negative"}
	}
	if c.Engine.Speed < 0 {
		return &world.ConfigError{Field: "engine.speed", Value: c.Engine.Speed, Reason: "must be non-negative"}
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return &world.ConfigError{Field: "logging.level", Value: c.Logging.Level, Reason: err.Error()}
	}
	if c.API.Port < 0 || c.API.Port > 65535 {
		return &world.ConfigError{Field: "api.port", Value: c.API.Port, Reason: "must be in [0, 65535]"}
	}
	for _, ip := range c.API.TrustedProxies {
		if net.ParseIP(ip) == nil {
			return &world.ConfigError{Field: "api.trusted_proxies", Value: ip, Reason: "not an IP address"}
		}
	}
	return nil
}

// ParseLevel maps a level name to a slog level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (valid: debug, info, warn, error)", s)
	}
	return level, nil
}

// applyEnvOverrides applies SCHELLING_* environment variables to the config.
// Values that fail to parse are logged and ignored.
func applyEnvOverrides(cfg *Config) {
	envInt("WIDTH", &cfg.Grid.Width)
	envInt("HEIGHT", &cfg.Grid.Height)
	envFloat("DENSITY", &cfg.Grid.Density)
	envFloat("CHANCE_HIGH_CLASS", &cfg.Population.ChanceHighClass)
	envFloat("CHANCE_MIDDLE_CLASS", &cfg.Population.ChanceMiddleClass)
	envFloat("HOMOPHILY", &cfg.Behavior.Homophily)
	envFloat("HAPPINESS_THRESHOLD", &cfg.Behavior.HappinessThreshold)
	envFloat("P_FIRED", &cfg.Behavior.PFired)
	envFloat("P_HIRED", &cfg.Behavior.PHired)
	envBool("REMOVE_CHRONIC_UNEMPLOYED", &cfg.Behavior.RemoveChronicUnemployed)
	envBool("LEGACY_ZONE_MATCHING", &cfg.Behavior.LegacyZoneMatching)
	envString("ZONE_LAYOUT", &cfg.Zones.Layout)
	envString("NEIGHBORHOOD", &cfg.Neighborhood.Kind)

	if v, ok := lookup("SEED"); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Seed = n
		} else {
			badEnv("SEED", v, err)
		}
	}
	if v, ok := lookup("INTERVAL"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engine.Interval = d
		} else {
			badEnv("INTERVAL", v, err)
		}
	}
	envFloat("SPEED", &cfg.Engine.Speed)
	if v, ok := lookup("MAX_TICKS"); ok {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Engine.MaxTicks = n
		} else {
			badEnv("MAX_TICKS", v, err)
		}
	}

	envString("LOG_LEVEL", &cfg.Logging.Level)
	envString("DB_PATH", &cfg.Database.Path)
	envInt("API_PORT", &cfg.API.Port)
	envString("ADMIN_KEY", &cfg.API.AdminKey)
}

func lookup(name string) (string, bool) {
	v := os.Getenv(EnvPrefix + name)
	return v, v != ""
}

func badEnv(name, value string, err error) {
	slog.Warn("ignoring invalid environment override", "var", EnvPrefix+name, "value", value, "error", err)
}

func envString(name string, dst *string) {
	if v, ok := lookup(name); ok {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	if v, ok := lookup(name); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		} else {
			badEnv(name, v, err)
		}
	}
}

func envFloat(name string, dst *float64) {
	if v, ok := lookup(name); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		} else {
			badEnv(name, v, err)
		}
	}
}

func envBool(name string, dst *bool) {
	if v, ok := lookup(name); ok {
		*dst = v == "true" || v == "1"
	}
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
