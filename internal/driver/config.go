package driver

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidConfig is returned for driver settings that cannot place anchors.
var ErrInvalidConfig = errors.New("invalid driver config")

// Config controls anchor refresh and sampling.
type Config struct {
	// AnchorRefreshInterval is how often every marker is re-anchored from the current fix.
	AnchorRefreshInterval time.Duration
	// RenderRadius caps how far from the camera anchors are created, in meters.
	RenderRadius float64
	// HeightAdjustment is added to the camera height for new anchors. The
	// placement engine then moves each node to its marker's vertical offset,
	// so the adjusted height only persists with MinimalRefreshing.
	HeightAdjustment float64
	// SampleInterval throttles placement samples handed to the sampler. Zero samples every frame.
	SampleInterval time.Duration
}

// DefaultConfig returns a 5 s refresh and a 25 m render radius.
func DefaultConfig() Config {
	return Config{
		AnchorRefreshInterval: 5 * time.Second,
		RenderRadius:          25,
		SampleInterval:        time.Second,
	}
}

// Validate checks the config.
func (c Config) Validate() error {
	if c.AnchorRefreshInterval <= 0 {
		return fmt.Errorf("%w: anchor refresh interval %v", ErrInvalidConfig, c.AnchorRefreshInterval)
	}
	if math.IsNaN(c.RenderRadius) || math.IsInf(c.RenderRadius, 0) || c.RenderRadius <= 0 {
		return fmt.Errorf("%w: render radius %v", ErrInvalidConfig, c.RenderRadius)
	}
	if math.IsNaN(c.HeightAdjustment) || math.IsInf(c.HeightAdjustment, 0) {
		return fmt.Errorf("%w: height adjustment %v", ErrInvalidConfig, c.HeightAdjustment)
	}
	if c.SampleInterval < 0 {
		return fmt.Errorf("%w: sample interval %v", ErrInvalidConfig, c.SampleInterval)
	}
	return nil
}
