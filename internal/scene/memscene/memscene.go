// Package memscene is an in-memory scene graph with axis-aligned box
// overlap tests. It backs the simulator and the engine tests.
package memscene

import (
	"errors"
	"fmt"
	"sync"

	"github.com/silverbullet1472/Amap-GPS-ARLocation/internal/scene"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/pkg/core"
)

// ErrClosed is returned when creating anchors on a closed scene.
var ErrClosed = errors.New("scene closed")

// DefaultExtent is the half size of a node's box at scale 1.
var DefaultExtent = core.Vector3{X: 0.5, Y: 0.5, Z: 0.5}

// Node is a scene node. Its transform is only touched from the frame goroutine.
type Node struct {
	id       string
	position core.Vector3
	rotation core.Quaternion
	scale    core.Vector3
	extent   core.Vector3
	anchor   *Anchor
}

func (n *Node) ID() string                         { return n.id }
func (n *Node) WorldPosition() core.Vector3        { return n.position }
func (n *Node) SetWorldPosition(p core.Vector3)    { n.position = p }
func (n *Node) WorldRotation() core.Quaternion     { return n.rotation }
func (n *Node) SetWorldRotation(q core.Quaternion) { n.rotation = q }
func (n *Node) WorldScale() core.Vector3           { return n.scale }
func (n *Node) SetWorldScale(s core.Vector3)       { n.scale = s }
func (n *Node) SetExtent(e core.Vector3)           { n.extent = e }

// tracked reports whether the node takes part in overlap tests.
func (n *Node) tracked() bool {
	return n.anchor == nil || n.anchor.Tracking()
}

func (n *Node) bounds() (lo, hi core.Vector3) {
	half := core.Vector3{
		X: n.extent.X * abs(n.scale.X),
		Y: n.extent.Y * abs(n.scale.Y),
		Z: n.extent.Z * abs(n.scale.Z),
	}
	return n.position.Sub(half), n.position.Add(half)
}

// Anchor pins a node. Flags default to tracking, active and enabled.
type Anchor struct {
	id       string
	node     *Node
	scene    *Scene
	tracking bool
	active   bool
	enabled  bool
	detached bool
}

func (a *Anchor) ID() string { return a.id }

func (a *Anchor) Node() scene.Node {
	if a.detached {
		return nil
	}
	return a.node
}

func (a *Anchor) Tracking() bool { return a.tracking && !a.detached }
func (a *Anchor) Active() bool   { return a.active && !a.detached }
func (a *Anchor) Enabled() bool  { return a.enabled && !a.detached }

func (a *Anchor) SetTracking(v bool) { a.tracking = v }
func (a *Anchor) SetActive(v bool)   { a.active = v }
func (a *Anchor) SetEnabled(v bool)  { a.enabled = v }

// Detached reports whether Detach has been called.
func (a *Anchor) Detached() bool { return a.detached }

// Detach removes the anchor and its node from the scene.
func (a *Anchor) Detach() {
	if a.detached {
		return
	}
	a.detached = true
	a.scene.remove(a)
}

// Scene holds anchors and free-standing nodes.
type Scene struct {
	mu      sync.RWMutex
	nodes   map[string]*Node
	anchors map[string]*Anchor
	seq     int
	closed  bool
}

// New creates an empty scene.
func New() *Scene {
	return &Scene{
		nodes:   make(map[string]*Node),
		anchors: make(map[string]*Anchor),
	}
}

func (s *Scene) newNode(pos core.Vector3) *Node {
	s.seq++
	n := &Node{
		id:       fmt.Sprintf("node-%d", s.seq),
		position: pos,
		rotation: core.Identity,
		scale:    core.Uniform(1),
		extent:   DefaultExtent,
	}
	s.nodes[n.id] = n
	return n
}

// CreateAnchor places a tracking anchor with a fresh node at pos.
func (s *Scene) CreateAnchor(pos core.Vector3) (scene.Anchor, error) {
	a, err := s.Anchor(pos)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Anchor is CreateAnchor returning the concrete type.
func (s *Scene) Anchor(pos core.Vector3) (*Anchor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	n := s.newNode(pos)
	a := &Anchor{
		id:       fmt.Sprintf("anchor-%d", s.seq),
		node:     n,
		scene:    s,
		tracking: true,
		active:   true,
		enabled:  true,
	}
	n.anchor = a
	s.anchors[a.id] = a
	return a, nil
}

// AddNode adds a free-standing node, such as a detected plane or prop.
func (s *Scene) AddNode(pos core.Vector3, extent core.Vector3) *Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.newNode(pos)
	n.extent = extent
	return n
}

// Overlapping returns the other tracked nodes whose boxes intersect n's box.
func (s *Scene) Overlapping(n scene.Node) []scene.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	self, ok := s.nodes[n.ID()]
	if !ok || !self.tracked() {
		return nil
	}
	lo, hi := self.bounds()

	var out []scene.Node
	for id, other := range s.nodes {
		if id == self.id || !other.tracked() {
			continue
		}
		olo, ohi := other.bounds()
		if lo.X <= ohi.X && hi.X >= olo.X &&
			lo.Y <= ohi.Y && hi.Y >= olo.Y &&
			lo.Z <= ohi.Z && hi.Z >= olo.Z {
			out = append(out, other)
		}
	}
	return out
}

// AnchorCount returns the number of live anchors.
func (s *Scene) AnchorCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.anchors)
}

// NodeCount returns the number of live nodes.
func (s *Scene) NodeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// Close refuses further anchors.
func (s *Scene) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *Scene) remove(a *Anchor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.anchors, a.id)
	delete(s.nodes, a.node.id)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
