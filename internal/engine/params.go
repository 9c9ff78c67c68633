package engine

import (
	"fmt"
	"math"

	"github.com/talgya/econ-schelling/internal/agents"
	"github.com/talgya/econ-schelling/internal/world"
)

// ConfigError reports an invalid construction parameter.
type ConfigError = world.ConfigError

// Params are the immutable parameters of one run.
type Params struct {
	Width  int
	Height int

	// Density is the probability that a cell starts populated, in (0, 1].
	Density float64

	ChanceHighClass   float64 // P(high)
	ChanceMiddleClass float64 // P(middle | not high)

	Zones        world.ZoneFractions
	ZoneLayout   world.Layout
	Neighborhood world.Neighborhood // nil means toroidal Moore

	Rules agents.Rules

	// Seed for the run's random stream; 0 picks one and logs it.
	Seed int64

	// MetricsRetain caps the snapshots kept in memory; 0 keeps all.
	MetricsRetain int
}

// DefaultParams returns the baseline 20×20 configuration.
func DefaultParams() Params {
	return Params{
		Width:             20,
		Height:            20,
		Density:           0.8,
		ChanceHighClass:   0.2,
		ChanceMiddleClass: 0.6,
		Zones: world.ZoneFractions{
			Residential: 0.4,
			Commercial:  0.3,
			Industrial:  0.3,
		},
		ZoneLayout:   world.LayoutShuffled,
		Neighborhood: world.Moore{},
		Rules:        agents.DefaultRules(),
	}
}

// Validate checks every parameter and returns the first violation as a *ConfigError.
func (p Params) Validate() error {
	if p.Width <= 0 {
		return &ConfigError{Field: "width", Value: p.Width, Reason: "must be positive"}
	}
	if p.Height <= 0 {
		return &ConfigError{Field: "height", Value: p.Height, Reason: "must be positive"}
	}
	if math.IsNaN(p.Density) || p.Density <= 0 || p.Density > 1 {
		return &ConfigError{Field: "density", Value: p.Density, Reason: "must be in (0, 1]"}
	}
	if err := checkProbability("chance_high_class", p.ChanceHighClass); err != nil {
		return err
	}
	if err := checkProbability("chance_middle_class", p.ChanceMiddleClass); err != nil {
		return err
	}
	if err := p.Zones.Validate(); err != nil {
		return err
	}

	r := p.Rules
	if math.IsNaN(r.Homophily) || math.IsInf(r.Homophily, 0) || r.Homophily < 0 {
		return &ConfigError{Field: "homophily", Value: r.Homophily, Reason: "must be a non-negative number"}
	}
	if math.IsNaN(r.HappinessThreshold) {
		return &ConfigError{Field: "happiness_threshold", Value: r.HappinessThreshold, Reason: "must be a number"}
	}
	for c, n := range r.DowngradeAfter {
		if n <= 0 {
			field := fmt.Sprintf("downgrade_after.%s", agents.ClassTier(c))
			return &ConfigError{Field: field, Value: n, Reason: "must be a positive number of ticks"}
		}
	}
	if err := checkProbability("p_fired", r.PFired); err != nil {
		return err
	}
	if err := checkProbability("p_hired", r.PHired); err != nil {
		return err
	}
	if p.MetricsRetain < 0 {
		return &ConfigError{Field: "metrics_retain", Value: p.MetricsRetain, Reason: "must not be negative"}
	}
	return nil
}

func checkProbability(field string, v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return &ConfigError{Field: field, Value: v, Reason: "must be in [0, 1]"}
	}
	return nil
}
