// Package placement positions, scales and orients anchored markers once per frame.
package placement

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/silverbullet1472/Amap-GPS-ARLocation/internal/geo"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/internal/registry"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/internal/scene"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/pkg/core"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Stats summarises one Step.
type Stats struct {
	Eligible         int
	Updated          int
	SkippedNoFix     int
	SkippedUntracked int
	Offset           int
}

// Engine runs the per-frame placement pass. Step must only be called from
// the frame goroutine; Snapshot is safe from any goroutine.
type Engine struct {
	reg   *registry.Registry
	graph scene.Graph
	cfg   Config

	snapshot atomic.Pointer[[]core.PlacementSample]

	frames    metric.Int64Counter
	updated   metric.Int64Counter
	skipped   metric.Int64Counter
	offsets   metric.Int64Counter
	noFixAttr metric.AddOption
	untracked metric.AddOption
}

// New creates an engine over reg and graph.
// Uses the global OTel meter for metrics (no-op if not configured).
func New(reg *registry.Registry, graph scene.Graph, cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		reg:       reg,
		graph:     graph,
		cfg:       cfg,
		noFixAttr: metric.WithAttributes(attribute.String("reason", "no_fix")),
		untracked: metric.WithAttributes(attribute.String("reason", "untracked")),
	}

	m := meter()
	var err error

	e.frames, err = m.Int64Counter(
		"placement.frames",
		metric.WithDescription("Frames processed while tracking"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating frames counter: %w", err)
	}

	e.updated, err = m.Int64Counter(
		"placement.markers.updated",
		metric.WithDescription("Marker placements computed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating updated counter: %w", err)
	}

	e.skipped, err = m.Int64Counter(
		"placement.markers.skipped",
		metric.WithDescription("Markers skipped for a frame"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating skipped counter: %w", err)
	}

	e.offsets, err = m.Int64Counter(
		"placement.overlap.offsets",
		metric.WithDescription("Vertical offsets applied to overlapping markers"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating offsets counter: %w", err)
	}

	return e, nil
}

// Config returns the active configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// SetConfig swaps the configuration between frames.
func (e *Engine) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.cfg = cfg
	return nil
}

// Snapshot returns the placements published by the last Step.
func (e *Engine) Snapshot() []core.PlacementSample {
	p := e.snapshot.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Step runs one frame. Nothing happens unless the camera is tracking; markers
// whose anchor is not tracking, active and enabled are left alone; with no
// fix every node keeps its previous transform.
func (e *Engine) Step(frame scene.Frame, fix *core.Fix) Stats {
	var st Stats
	if frame.TrackingState != scene.Tracking {
		return st
	}
	ctx := context.Background()
	e.frames.Add(ctx, 1)

	samples := make([]core.PlacementSample, 0, e.reg.Len())
	e.reg.Each(func(en *registry.Entry) {
		a := en.Anchor()
		if !scene.Eligible(a) {
			st.SkippedUntracked++
			return
		}
		st.Eligible++
		if fix == nil {
			st.SkippedNoFix++
			return
		}
		node := a.Node()

		m := en.Marker()
		distanceInGPS := int(math.Ceil(geo.Distance(m.Geo, fix.Coordinate)))
		distanceInAR := node.WorldPosition().Distance(frame.Camera.Position)
		en.SetDistances(distanceInGPS, distanceInAR)

		if e.cfg.OffsetOverlapping && e.overlaps(en, node) {
			if err := en.RaiseOffset(e.cfg.OverlapStep); err == nil {
				st.Offset++
			}
		}

		if !e.cfg.MinimalRefreshing {
			e.place(en, node, frame.Camera.Position)
		}
		st.Updated++

		if fn := en.RenderFunc(); fn != nil {
			fn(en.View())
		}

		m = en.Marker()
		samples = append(samples, core.PlacementSample{
			Time:          frame.Time,
			MarkerID:      m.ID,
			Name:          m.Name,
			Geo:           m.Geo,
			DistanceInGPS: en.DistanceInGPS(),
			DistanceInAR:  en.DistanceInAR(),
			Scale:         en.Scale(),
			Offset:        m.VerticalOffset,
			Position:      node.WorldPosition(),
		})
	})
	e.snapshot.Store(&samples)

	e.updated.Add(ctx, int64(st.Updated))
	if st.SkippedNoFix > 0 {
		e.skipped.Add(ctx, int64(st.SkippedNoFix), e.noFixAttr)
	}
	if st.SkippedUntracked > 0 {
		e.skipped.Add(ctx, int64(st.SkippedUntracked), e.untracked)
	}
	if st.Offset > 0 {
		e.offsets.Add(ctx, int64(st.Offset))
	}
	return st
}

// overlaps reports whether node intersects a node that should push this
// marker up: any non-marker node, or a marker inserted earlier.
func (e *Engine) overlaps(en *registry.Entry, node scene.Node) bool {
	for _, other := range e.graph.Overlapping(node) {
		owner, ok := e.reg.ByNode(other.ID())
		if !ok {
			return true
		}
		if owner.Seq() < en.Seq() {
			return true
		}
	}
	return false
}

// place applies clamp, scale and look-at pose to the node.
func (e *Engine) place(en *registry.Entry, node scene.Node, camera core.Vector3) {
	m := en.Marker()
	distanceInGPS := en.DistanceInGPS()

	renderDistance := math.Min(float64(distanceInGPS), e.cfg.DistanceLimit)
	scale := m.Scaling.Scale(distanceInGPS, renderDistance, e.cfg.DistanceLimit) * m.ScaleModifier
	en.SetScale(scale)

	pos := node.WorldPosition()
	pos.Y = m.VerticalOffset
	node.SetWorldPosition(pos)
	node.SetWorldRotation(core.LookRotation(camera.Sub(pos), core.Up))
	node.SetWorldScale(core.Uniform(scale))
}
