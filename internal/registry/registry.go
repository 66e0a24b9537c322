// Package registry holds the geolocated markers and their scene anchors.
//
// A Registry is owned by the frame goroutine: markers are added and removed
// between frames on the same goroutine that runs placement, so it does no
// locking of its own.
package registry

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/internal/geo"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/internal/scene"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/pkg/core"
)

var (
	// ErrDuplicateMarker is returned when a marker id is already registered.
	ErrDuplicateMarker = errors.New("marker already registered")
	// ErrDuplicateAnchor is returned when an anchor is already bound to another marker.
	ErrDuplicateAnchor = errors.New("anchor already bound to a marker")
	// ErrMarkerNotFound is returned for unknown marker ids.
	ErrMarkerNotFound = errors.New("marker not found")
	// ErrInvalidOffsetStep is returned when an offset step would not raise the marker.
	ErrInvalidOffsetStep = errors.New("offset step must be positive")
)

// View is the read-only state handed to a render callback after a marker was placed.
type View struct {
	MarkerID      string
	Marker        core.Marker
	Node          scene.Node
	DistanceInGPS int
	DistanceInAR  float64
	Scale         float64
}

// RenderFunc is called once per eligible frame for its marker.
type RenderFunc func(View)

// Entry is a marker bound to at most one scene anchor.
type Entry struct {
	marker   core.Marker
	anchor   scene.Anchor
	onRender RenderFunc
	seq      uint64
	nodeID   string

	distanceInGPS int
	distanceInAR  float64
	scale         float64
	measured      bool
}

func (e *Entry) ID() string             { return e.marker.ID }
func (e *Entry) Marker() core.Marker    { return e.marker }
func (e *Entry) Anchor() scene.Anchor   { return e.anchor }
func (e *Entry) Seq() uint64            { return e.seq }
func (e *Entry) RenderFunc() RenderFunc { return e.onRender }

// Node returns the anchored node, or nil when unanchored or detached.
func (e *Entry) Node() scene.Node {
	if e.anchor == nil {
		return nil
	}
	return e.anchor.Node()
}

// Measured reports whether distances have been computed at least once.
func (e *Entry) Measured() bool { return e.measured }

// DistanceInGPS is the last great-circle distance to the viewer, rounded up to whole meters.
func (e *Entry) DistanceInGPS() int { return e.distanceInGPS }

// DistanceInAR is the last scene-space distance between node and camera.
func (e *Entry) DistanceInAR() float64 { return e.distanceInAR }

// Scale is the last uniform scale applied to the node.
func (e *Entry) Scale() float64 { return e.scale }

// SetDistances records the distances measured this frame.
func (e *Entry) SetDistances(gps int, ar float64) {
	e.distanceInGPS = gps
	e.distanceInAR = ar
	e.measured = true
}

// SetScale records the scale applied this frame.
func (e *Entry) SetScale(s float64) { e.scale = s }

// RaiseOffset increases the marker's vertical offset by step.
func (e *Entry) RaiseOffset(step float64) error {
	if !(step > 0) {
		return fmt.Errorf("%w: %v", ErrInvalidOffsetStep, step)
	}
	e.marker.VerticalOffset += step
	return nil
}

// View builds the render callback payload for the entry's current state.
func (e *Entry) View() View {
	return View{
		MarkerID:      e.marker.ID,
		Marker:        e.marker,
		Node:          e.Node(),
		DistanceInGPS: e.distanceInGPS,
		DistanceInAR:  e.distanceInAR,
		Scale:         e.scale,
	}
}

// Registry is an insertion-ordered set of markers indexed by id, anchor and node.
type Registry struct {
	entries  []*Entry
	byID     map[string]*Entry
	byAnchor map[string]*Entry
	byNode   map[string]*Entry
	nextSeq  uint64
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		byID:     make(map[string]*Entry),
		byAnchor: make(map[string]*Entry),
		byNode:   make(map[string]*Entry),
	}
}

// Add registers a marker. GCJ02 positions are converted to WGS84, an empty
// id gets a generated UUID, a nil scaling mode becomes FixedSizeOnScreen and
// a zero scale modifier becomes 1.
func (r *Registry) Add(m core.Marker) (*Entry, error) {
	wgs, err := geo.GCJ02ToWGS84(m.Geo)
	if err != nil {
		return nil, fmt.Errorf("marker %q: %w", m.ID, err)
	}
	m.Geo = wgs
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if _, ok := r.byID[m.ID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateMarker, m.ID)
	}
	if m.Scaling == nil {
		m.Scaling = core.FixedSizeOnScreen{}
	}
	if m.ScaleModifier == 0 {
		m.ScaleModifier = 1
	}
	if m.VerticalOffset < 0 {
		m.VerticalOffset = 0
	}

	e := &Entry{marker: m, seq: r.nextSeq}
	r.nextSeq++
	r.entries = append(r.entries, e)
	r.byID[m.ID] = e
	return e, nil
}

// Bind attaches an anchor to a marker, detaching any anchor it had before.
func (r *Registry) Bind(id string, a scene.Anchor) error {
	e, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMarkerNotFound, id)
	}
	if a == nil {
		return fmt.Errorf("bind %s: nil anchor", id)
	}
	if owner, ok := r.byAnchor[a.ID()]; ok && owner != e {
		return fmt.Errorf("%w: anchor %s belongs to %s", ErrDuplicateAnchor, a.ID(), owner.marker.ID)
	}
	if e.anchor != nil && e.anchor.ID() != a.ID() {
		r.release(e)
	}
	e.anchor = a
	r.byAnchor[a.ID()] = e
	if n := a.Node(); n != nil {
		e.nodeID = n.ID()
		r.byNode[e.nodeID] = e
	}
	return nil
}

// SetRenderFunc registers the marker's render callback. A nil fn clears it.
func (r *Registry) SetRenderFunc(id string, fn RenderFunc) error {
	e, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMarkerNotFound, id)
	}
	e.onRender = fn
	return nil
}

// Remove drops a marker and detaches its anchor.
func (r *Registry) Remove(id string) error {
	e, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMarkerNotFound, id)
	}
	r.release(e)
	delete(r.byID, id)
	for i, x := range r.entries {
		if x == e {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			break
		}
	}
	return nil
}

// Get returns the entry for id.
func (r *Registry) Get(id string) (*Entry, bool) {
	e, ok := r.byID[id]
	return e, ok
}

// ByNode returns the entry whose anchor currently holds the node id.
func (r *Registry) ByNode(nodeID string) (*Entry, bool) {
	e, ok := r.byNode[nodeID]
	return e, ok
}

// Entries returns the entries in insertion order. The slice is a copy.
func (r *Registry) Entries() []*Entry {
	out := make([]*Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Each calls fn for every entry in insertion order without copying.
func (r *Registry) Each(fn func(*Entry)) {
	for _, e := range r.entries {
		fn(e)
	}
}

// Unanchored returns the entries without a live anchor, in insertion order.
func (r *Registry) Unanchored() []*Entry {
	var out []*Entry
	for _, e := range r.entries {
		if e.Node() == nil {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of registered markers.
func (r *Registry) Len() int {
	return len(r.entries)
}

// Clear removes every marker and detaches all anchors.
func (r *Registry) Clear() {
	for _, e := range r.entries {
		r.release(e)
	}
	r.entries = nil
	r.byID = make(map[string]*Entry)
	r.byAnchor = make(map[string]*Entry)
	r.byNode = make(map[string]*Entry)
}

func (r *Registry) release(e *Entry) {
	if e.anchor == nil {
		return
	}
	delete(r.byAnchor, e.anchor.ID())
	if e.nodeID != "" {
		delete(r.byNode, e.nodeID)
		e.nodeID = ""
	}
	e.anchor.Detach()
	e.anchor = nil
}
