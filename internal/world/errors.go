package world

import (
	"errors"
	"fmt"
)

// ErrOutOfBounds is returned when a position lies outside the grid.
var ErrOutOfBounds = errors.New("position out of bounds")

// ConfigError reports an invalid construction parameter. Construction that
// fails with a ConfigError leaves nothing partially built.
type ConfigError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s (%v): %s", e.Field, e.Value, e.Reason)
}

// OccupiedError is returned when placing onto a cell that already holds an agent.
type OccupiedError struct {
	Pos Pos
}

func (e *OccupiedError) Error() string {
	return fmt.Sprintf("cell %s is already occupied", e.Pos)
}
