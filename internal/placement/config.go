package placement

import (
	"errors"
	"fmt"
	"math"
)

// DefaultOverlapStep is how far an overlapping marker is raised per frame.
const DefaultOverlapStep = 1.2

var (
	// ErrInvalidDistanceLimit is returned for a non-positive distance limit.
	ErrInvalidDistanceLimit = errors.New("distance limit must be positive")
	// ErrInvalidOverlapStep is returned for a non-positive overlap step.
	ErrInvalidOverlapStep = errors.New("overlap step must be positive")
)

// Config is the scene-wide placement configuration. DistanceLimit clamps
// distances fed to scaling, in meters. MinimalRefreshing freezes scale,
// rotation and offset while distances and render callbacks still run.
type Config struct {
	DistanceLimit     float64
	OffsetOverlapping bool
	MinimalRefreshing bool
	OverlapStep       float64
}

// DefaultConfig returns a 30 m limit with overlap offsetting off.
func DefaultConfig() Config {
	return Config{
		DistanceLimit: 30,
		OverlapStep:   DefaultOverlapStep,
	}
}

// Validate rejects limits the scaling formulas cannot divide by.
func (c Config) Validate() error {
	if math.IsNaN(c.DistanceLimit) || math.IsInf(c.DistanceLimit, 0) || c.DistanceLimit <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidDistanceLimit, c.DistanceLimit)
	}
	if math.IsNaN(c.OverlapStep) || c.OverlapStep <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidOverlapStep, c.OverlapStep)
	}
	return nil
}
