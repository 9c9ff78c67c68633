// Package agents provides the household agent model: class tier, age bucket,
// employment, and the per-tick relocation decision driven by happiness.
package agents

import (
	"fmt"
	"strings"

	"github.com/talgya/econ-schelling/internal/world"
)

// AgentID is a unique identifier for an agent.
type AgentID uint64

// ClassTier is an agent's ordinal economic class.
type ClassTier uint8

const (
	ClassLow ClassTier = iota
	ClassMiddle
	ClassHigh
)

// NumClasses is the number of class tiers.
const NumClasses = 3

var classNames = [NumClasses]string{"low", "middle", "high"}

// String returns the lower-case tier name.
func (c ClassTier) String() string {
	if int(c) < len(classNames) {
		return classNames[c]
	}
	return fmt.Sprintf("class(%d)", uint8(c))
}

// MarshalText encodes the tier by name.
func (c ClassTier) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText decodes a tier name.
func (c *ClassTier) UnmarshalText(text []byte) error {
	for i, name := range classNames {
		if strings.EqualFold(string(text), name) {
			*c = ClassTier(i)
			return nil
		}
	}
	return fmt.Errorf("unknown class tier %q", text)
}

// Employment is an agent's employment status.
type Employment uint8

const (
	Employed Employment = iota
	Unemployed
)

// String returns "employed" or "unemployed".
func (e Employment) String() string {
	if e == Unemployed {
		return "unemployed"
	}
	return "employed"
}

// MarshalText encodes the status by name.
func (e Employment) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText decodes a status name.
func (e *Employment) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "employed":
		*e = Employed
	case "unemployed":
		*e = Unemployed
	default:
		return fmt.Errorf("unknown employment status %q", text)
	}
	return nil
}

// Agent is a household on the grid.
type Agent struct {
	ID       AgentID   `json:"id"`
	Position world.Pos `json:"position"` // Always equals the grid cell holding the agent

	Class      ClassTier  `json:"class"`
	Age        uint8      `json:"age"` // Upper bound of the age bucket, in years
	Employment Employment `json:"employment"`

	// StepsUnemployed counts consecutive unemployed ticks.
	// Resets to 0 exactly when the agent becomes employed.
	StepsUnemployed int `json:"steps_unemployed"`

	// Happiness is recomputed from scratch every tick.
	Happiness float64 `json:"happiness"`

	Alive bool `json:"alive"`
}

// Location implements world.Occupant.
func (a *Agent) Location() world.Pos { return a.Position }

// SetLocation implements world.Occupant.
func (a *Agent) SetLocation(p world.Pos) { a.Position = p }

// String returns a short description for logs.
func (a *Agent) String() string {
	return fmt.Sprintf("agent %d (%s, age %d, %s) at %s", a.ID, a.Class, a.Age, a.Employment, a.Position)
}
