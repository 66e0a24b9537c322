// Package driver runs the per-frame pipeline: anchor refresh, placement and sampling.
package driver

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/silverbullet1472/Amap-GPS-ARLocation/internal/geo"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/internal/placement"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/internal/registry"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/internal/scene"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/pkg/core"
	"go.opentelemetry.io/otel/metric"
)

// FixSource provides the current fix; location.Feed implements it.
type FixSource interface {
	Current() *core.Fix
}

// Sampler receives placement snapshots, e.g. the diagnostic journal.
type Sampler interface {
	RecordPlacements(samples []core.PlacementSample)
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the driver logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithSampler forwards placement snapshots to s.
func WithSampler(s Sampler) Option {
	return func(d *Driver) { d.sampler = s }
}

// Driver owns the frame loop state. ProcessFrame must be called from a single goroutine.
type Driver struct {
	feed    FixSource
	reg     *registry.Registry
	graph   scene.Graph
	engine  *placement.Engine
	cfg     Config
	logger  *slog.Logger
	sampler Sampler

	lastRefresh time.Time
	lastSample  time.Time

	refreshes metric.Int64Counter
	anchored  metric.Int64Counter
}

// New creates a driver.
func New(feed FixSource, reg *registry.Registry, graph scene.Graph, engine *placement.Engine, cfg Config, opts ...Option) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Driver{
		feed:   feed,
		reg:    reg,
		graph:  graph,
		engine: engine,
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}

	m := meter()
	var err error

	d.refreshes, err = m.Int64Counter(
		"driver.anchor.refreshes",
		metric.WithDescription("Anchor refresh passes"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating refreshes counter: %w", err)
	}

	d.anchored, err = m.Int64Counter(
		"driver.anchors.created",
		metric.WithDescription("Anchors created for markers"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating anchors counter: %w", err)
	}

	return d, nil
}

// Config returns the driver configuration.
func (d *Driver) Config() Config {
	return d.cfg
}

// ProcessFrame runs one frame and returns the placement stats.
func (d *Driver) ProcessFrame(frame scene.Frame) placement.Stats {
	if frame.TrackingState != scene.Tracking {
		return placement.Stats{}
	}

	fix := d.feed.Current()
	if fix != nil && d.needsRefresh(frame.Time) {
		d.refreshAnchors(frame, fix)
	}

	st := d.engine.Step(frame, fix)

	if d.sampler != nil && st.Updated > 0 && d.sampleDue(frame.Time) {
		d.sampler.RecordPlacements(d.engine.Snapshot())
		d.lastSample = frame.Time
	}
	return st
}

// RefreshAnchors forces an anchor refresh on the next tracking frame.
func (d *Driver) RefreshAnchors() {
	d.lastRefresh = time.Time{}
}

func (d *Driver) needsRefresh(now time.Time) bool {
	if d.lastRefresh.IsZero() || now.Sub(d.lastRefresh) >= d.cfg.AnchorRefreshInterval {
		return true
	}
	return len(d.reg.Unanchored()) > 0
}

func (d *Driver) sampleDue(now time.Time) bool {
	return d.lastSample.IsZero() || now.Sub(d.lastSample) >= d.cfg.SampleInterval
}

// refreshAnchors re-anchors every marker along its compass bearing from the
// camera. Without a valid heading the directions are unknown and the pass is skipped.
func (d *Driver) refreshAnchors(frame scene.Frame, fix *core.Fix) {
	if !frame.HeadingValid {
		d.logger.Debug("anchor refresh skipped, no compass heading")
		return
	}

	forward := frame.Camera.Rotation.Rotate(core.Forward)
	forward.Y = 0
	if forward.Length() < 1e-6 {
		forward = core.Forward
	}
	forward = forward.Normalized()

	limit := math.Min(d.engine.Config().DistanceLimit, d.cfg.RenderRadius)
	created := 0
	for _, e := range d.reg.Entries() {
		m := e.Marker()
		relative := geo.Bearing(fix.Coordinate, m.Geo) - frame.Heading
		dir := core.AxisAngle(core.Up, -relative).Rotate(forward)

		distance := math.Min(math.Ceil(geo.Distance(fix.Coordinate, m.Geo)), limit)
		pos := frame.Camera.Position.Add(dir.Scale(distance))
		pos.Y = frame.Camera.Position.Y + d.cfg.HeightAdjustment

		anchor, err := d.graph.CreateAnchor(pos)
		if err != nil {
			d.logger.Warn("failed to create anchor", "marker", m.ID, "error", err)
			continue
		}
		if err := d.reg.Bind(m.ID, anchor); err != nil {
			anchor.Detach()
			d.logger.Warn("failed to bind anchor", "marker", m.ID, "error", err)
			continue
		}
		created++
	}

	d.lastRefresh = frame.Time
	ctx := context.Background()
	d.refreshes.Add(ctx, 1)
	d.anchored.Add(ctx, int64(created))
	d.logger.Debug("anchors refreshed", "markers", created, "heading", frame.Heading)
}
