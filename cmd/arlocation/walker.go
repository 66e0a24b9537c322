package main

import (
	"time"

	"github.com/silverbullet1472/Amap-GPS-ARLocation/internal/geo"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/internal/scene"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/pkg/core"
)

// minHeadingStep is the displacement in meters needed before a walking direction is trusted.
const minHeadingStep = 1.0

// walker fakes the AR session for the simulator: a camera carried along the
// replayed track, facing the direction of travel. The scene origin is the
// first fix and scene forward (-Z) is the first trusted heading.
type walker struct {
	height float64

	origin       *core.GeoCoordinate
	last         core.GeoCoordinate
	baseHeading  float64
	heading      float64
	headingValid bool
}

func newWalker(height float64) *walker {
	return &walker{height: height}
}

// Frame builds the frame the AR session would report with the device at fix.
func (w *walker) Frame(now time.Time, fix *core.Fix) scene.Frame {
	frame := scene.Frame{
		Time:          now,
		TrackingState: scene.Tracking,
		Camera: scene.Pose{
			Position: core.Vector3{Y: w.height},
			Rotation: core.Identity,
		},
	}
	if fix == nil {
		return frame
	}

	here := fix.Coordinate
	if w.origin == nil {
		w.origin = &here
		w.last = here
	}

	if geo.Distance(w.last, here) >= minHeadingStep {
		w.heading = geo.Bearing(w.last, here)
		if !w.headingValid {
			w.baseHeading = w.heading
			w.headingValid = true
		}
		w.last = here
	}
	if !w.headingValid {
		return frame
	}

	frame.Heading = w.heading
	frame.HeadingValid = true
	frame.Camera.Rotation = core.AxisAngle(core.Up, -(w.heading - w.baseHeading))

	if d := geo.Distance(*w.origin, here); d > 0 {
		dir := core.AxisAngle(core.Up, -(geo.Bearing(*w.origin, here) - w.baseHeading)).Rotate(core.Forward)
		frame.Camera.Position = dir.Scale(d)
		frame.Camera.Position.Y = w.height
	}
	return frame
}
