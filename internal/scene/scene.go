// Package scene describes the AR session and scene graph the placement
// engine drives. Implementations live outside the core; memscene provides
// an in-memory one.
package scene

import (
	"time"

	"github.com/silverbullet1472/Amap-GPS-ARLocation/pkg/core"
)

// TrackingState is the AR camera or anchor tracking status.
type TrackingState uint8

const (
	NotTracking TrackingState = iota
	Tracking
	Paused
)

func (s TrackingState) String() string {
	switch s {
	case Tracking:
		return "tracking"
	case Paused:
		return "paused"
	default:
		return "not_tracking"
	}
}

// Pose is a world-space position and rotation.
type Pose struct {
	Position core.Vector3
	Rotation core.Quaternion
}

// Frame is what the AR session reports for one rendered frame.
type Frame struct {
	Time          time.Time
	Camera        Pose
	TrackingState TrackingState
	// Heading is the device compass heading in degrees clockwise from north.
	Heading      float64
	HeadingValid bool
}

// Node is a renderable scene node.
type Node interface {
	ID() string
	WorldPosition() core.Vector3
	SetWorldPosition(core.Vector3)
	WorldRotation() core.Quaternion
	SetWorldRotation(core.Quaternion)
	WorldScale() core.Vector3
	SetWorldScale(core.Vector3)
}

// Anchor keeps a node registered to a real-world point.
type Anchor interface {
	ID() string
	Node() Node
	Tracking() bool
	Active() bool
	Enabled() bool
	// Detach removes the anchor and its node from the scene.
	Detach()
}

// Graph is the scene graph the engine queries.
type Graph interface {
	CreateAnchor(pos core.Vector3) (Anchor, error)
	// Overlapping returns the tracked nodes whose bounds intersect n.
	Overlapping(n Node) []Node
}

// Eligible reports whether an anchor's node may be touched this frame.
func Eligible(a Anchor) bool {
	return a != nil && a.Tracking() && a.Active() && a.Enabled() && a.Node() != nil
}
