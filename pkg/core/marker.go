// pkg/core/marker.go
package core

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Default gradual scaling band.
const (
	DefaultGradualMinScale = 0.8
	DefaultGradualMaxScale = 1.4
)

// GradualFactorFloor keeps far markers from collapsing to zero or mirroring.
const GradualFactorFloor = 0.01

// fixed-size markers beyond this many meters are drawn smaller
const distantMarkerMeters = 3000

// ScalingMode decides how a marker's size follows its distance from the viewer.
// The set of modes is closed: FixedSizeOnScreen, GradualToMaxRenderDistance and NoScaling.
type ScalingMode interface {
	// Scale returns the uniform scale factor before the marker's own modifier
	// is applied. renderDistance is distanceInGPS clamped to distanceLimit.
	Scale(distanceInGPS int, renderDistance, distanceLimit float64) float64
	String() string
	scalingMode()
}

// FixedSizeOnScreen keeps a marker roughly constant in apparent size.
type FixedSizeOnScreen struct{}

func (FixedSizeOnScreen) Scale(distanceInGPS int, renderDistance, _ float64) float64 {
	scale := 0.5 * renderDistance
	if distanceInGPS > distantMarkerMeters {
		scale *= 0.75
	}
	return scale
}

func (FixedSizeOnScreen) String() string { return "FIXED_SIZE_ON_SCREEN" }
func (FixedSizeOnScreen) scalingMode()   {}

// GradualToMaxRenderDistance interpolates a factor from MinScale at the
// distance limit up to MaxScale at the viewer, then multiplies it by the
// render distance. Beyond the limit the factor keeps falling, so a marker
// grows as it approaches the limit from outside.
type GradualToMaxRenderDistance struct {
	MinScale float64
	MaxScale float64
}

// DefaultGradualScaling returns the 0.8..1.4 band.
func DefaultGradualScaling() GradualToMaxRenderDistance {
	return GradualToMaxRenderDistance{MinScale: DefaultGradualMinScale, MaxScale: DefaultGradualMaxScale}
}

func (g GradualToMaxRenderDistance) Scale(distanceInGPS int, renderDistance, distanceLimit float64) float64 {
	return g.Factor(distanceInGPS, distanceLimit) * renderDistance
}

// Factor is the unitless interpolation value, never below GradualFactorFloor.
func (g GradualToMaxRenderDistance) Factor(distanceInGPS int, distanceLimit float64) float64 {
	if distanceLimit <= 0 {
		return g.MinScale
	}
	f := g.MinScale + (distanceLimit-float64(distanceInGPS))*((g.MaxScale-g.MinScale)/distanceLimit)
	return math.Max(f, GradualFactorFloor)
}

func (GradualToMaxRenderDistance) String() string { return "GRADUAL_TO_MAX_RENDER_DISTANCE" }
func (GradualToMaxRenderDistance) scalingMode()   {}

// NoScaling leaves the marker at its modelled size.
type NoScaling struct{}

func (NoScaling) Scale(int, float64, float64) float64 { return 1 }
func (NoScaling) String() string                      { return "NO_SCALING" }
func (NoScaling) scalingMode()                        {}

// ParseScalingMode maps a mode name to its variant. Gradual mode gets the default band.
func ParseScalingMode(name string) (ScalingMode, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "", "FIXED_SIZE_ON_SCREEN":
		return FixedSizeOnScreen{}, nil
	case "GRADUAL_TO_MAX_RENDER_DISTANCE":
		return DefaultGradualScaling(), nil
	case "NO_SCALING":
		return NoScaling{}, nil
	default:
		return nil, fmt.Errorf("unknown scaling mode %q", name)
	}
}

// Marker is a geolocated point of interest drawn in the scene.
type Marker struct {
	ID            string
	Name          string
	Geo           GeoCoordinate // WGS84
	Payload       any           // renderable handed through to the render callback
	Scaling       ScalingMode
	ScaleModifier float64
	// VerticalOffset is raised by the placement engine when the marker
	// overlaps another node. It never decreases.
	VerticalOffset float64
}

// PlacementSample is a flattened view of one marker's placement on one frame.
type PlacementSample struct {
	Time          time.Time
	MarkerID      string
	Name          string
	Geo           GeoCoordinate
	DistanceInGPS int
	DistanceInAR  float64
	Scale         float64
	Offset        float64
	Position      Vector3
}
