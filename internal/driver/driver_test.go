package driver

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/silverbullet1472/Amap-GPS-ARLocation/internal/placement"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/internal/registry"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/internal/scene"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/internal/scene/memscene"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const metersPerDegree = 6371000.0 * math.Pi / 180

var (
	viewer = core.GeoCoordinate{Latitude: 30.52, Longitude: 114.35}
	t0     = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func north(meters float64) core.GeoCoordinate {
	return core.GeoCoordinate{Latitude: viewer.Latitude + meters/metersPerDegree, Longitude: viewer.Longitude}
}

func east(meters float64) core.GeoCoordinate {
	perDegree := metersPerDegree * math.Cos(viewer.Latitude*math.Pi/180)
	return core.GeoCoordinate{Latitude: viewer.Latitude, Longitude: viewer.Longitude + meters/perDegree}
}

type staticFeed struct {
	fix *core.Fix
}

func (f *staticFeed) Current() *core.Fix { return f.fix }

type recordingSampler struct {
	batches [][]core.PlacementSample
}

func (s *recordingSampler) RecordPlacements(samples []core.PlacementSample) {
	s.batches = append(s.batches, samples)
}

type fixture struct {
	feed   *staticFeed
	scene  *memscene.Scene
	reg    *registry.Registry
	driver *Driver
}

func newFixture(t *testing.T, cfg Config, opts ...Option) *fixture {
	t.Helper()
	return newFixtureWithPlacement(t, cfg, placement.DefaultConfig(), opts...)
}

func newFixtureWithPlacement(t *testing.T, cfg Config, pcfg placement.Config, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		feed:  &staticFeed{fix: &core.Fix{Coordinate: viewer, ReceivedAt: t0}},
		scene: memscene.New(),
		reg:   registry.New(),
	}
	engine, err := placement.New(f.reg, f.scene, pcfg)
	require.NoError(t, err)
	d, err := New(f.feed, f.reg, f.scene, engine, cfg, opts...)
	require.NoError(t, err)
	f.driver = d
	return f
}

func (f *fixture) add(t *testing.T, id string, geo core.GeoCoordinate) {
	t.Helper()
	_, err := f.reg.Add(core.Marker{ID: id, Geo: geo})
	require.NoError(t, err)
}

func (f *fixture) position(t *testing.T, id string) core.Vector3 {
	t.Helper()
	e, ok := f.reg.Get(id)
	require.True(t, ok)
	require.NotNil(t, e.Node(), "marker %s is not anchored", id)
	return e.Node().WorldPosition()
}

func frameAt(at time.Time, heading float64) scene.Frame {
	return scene.Frame{
		Time:          at,
		Camera:        scene.Pose{Position: core.Vector3{Y: 1.6}, Rotation: core.Identity},
		TrackingState: scene.Tracking,
		Heading:       heading,
		HeadingValid:  true,
	}
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero refresh interval", func(c *Config) { c.AnchorRefreshInterval = 0 }},
		{"zero render radius", func(c *Config) { c.RenderRadius = 0 }},
		{"negative render radius", func(c *Config) { c.RenderRadius = -25 }},
		{"NaN render radius", func(c *Config) { c.RenderRadius = math.NaN() }},
		{"infinite height", func(c *Config) { c.HeightAdjustment = math.Inf(1) }},
		{"negative sample interval", func(c *Config) { c.SampleInterval = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.True(t, errors.Is(cfg.Validate(), ErrInvalidConfig))
		})
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	reg := registry.New()
	s := memscene.New()
	engine, err := placement.New(reg, s, placement.DefaultConfig())
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.RenderRadius = 0
	_, err = New(&staticFeed{}, reg, s, engine, cfg)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestProcessFrame_NotTracking(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.add(t, "a", north(10.2))

	frame := frameAt(t0, 0)
	frame.TrackingState = scene.Paused
	st := f.driver.ProcessFrame(frame)

	assert.Equal(t, placement.Stats{}, st)
	assert.Equal(t, 0, f.scene.AnchorCount())
}

func TestProcessFrame_NoFixCreatesNoAnchors(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.feed.fix = nil
	f.add(t, "a", north(10.2))

	for i := 0; i < 3; i++ {
		st := f.driver.ProcessFrame(frameAt(t0.Add(time.Duration(i)*time.Second), 0))
		assert.Equal(t, 0, st.Updated)
	}
	assert.Equal(t, 0, f.scene.AnchorCount())
}

func TestProcessFrame_NoHeadingCreatesNoAnchors(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.add(t, "a", north(10.2))

	frame := frameAt(t0, 0)
	frame.HeadingValid = false
	f.driver.ProcessFrame(frame)

	assert.Equal(t, 0, f.scene.AnchorCount())
}

func TestProcessFrame_AnchorsAlongBearing(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.add(t, "north", north(10.2))
	f.add(t, "east", east(12.4))
	f.add(t, "far", north(500.3))

	st := f.driver.ProcessFrame(frameAt(t0, 0))
	assert.Equal(t, 3, st.Updated)
	assert.Equal(t, 3, f.scene.AnchorCount())

	// facing north: north is straight ahead (-Z), east is to the right (+X)
	p := f.position(t, "north")
	assert.InDelta(t, 0, p.X, 1e-9)
	assert.InDelta(t, -11, p.Z, 1e-9)

	p = f.position(t, "east")
	assert.InDelta(t, 13, p.X, 0.01)
	assert.InDelta(t, 0, p.Z, 0.01)

	// clamped to the smaller of the distance limit and the render radius
	p = f.position(t, "far")
	assert.InDelta(t, -25, p.Z, 1e-9)
}

func TestProcessFrame_HeadingRotatesAnchors(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.add(t, "north", north(10.2))

	// facing east, north is on the left
	f.driver.ProcessFrame(frameAt(t0, 90))

	p := f.position(t, "north")
	assert.InDelta(t, -11, p.X, 1e-9)
	assert.InDelta(t, 0, p.Z, 1e-9)
}

func TestRefreshAnchors_Height(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HeightAdjustment = -1.5
	f := newFixture(t, cfg)
	f.add(t, "a", north(10.2))

	// before the engine moves the node to the marker offset
	f.driver.refreshAnchors(frameAt(t0, 0), f.feed.fix)

	assert.InDelta(t, 0.1, f.position(t, "a").Y, 1e-9)
}

func TestProcessFrame_HeightAdjustmentOnlyHoldsWithMinimalRefreshing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HeightAdjustment = -1.5

	// full placement moves the node to the marker's vertical offset
	f := newFixture(t, cfg)
	f.add(t, "a", north(10.2))
	f.driver.ProcessFrame(frameAt(t0, 0))
	assert.InDelta(t, 0, f.position(t, "a").Y, 1e-9)

	pcfg := placement.DefaultConfig()
	pcfg.MinimalRefreshing = true
	f = newFixtureWithPlacement(t, cfg, pcfg)
	f.add(t, "a", north(10.2))
	f.driver.ProcessFrame(frameAt(t0, 0))
	assert.InDelta(t, 0.1, f.position(t, "a").Y, 1e-9)
}

func TestProcessFrame_RefreshThrottle(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.add(t, "a", north(10.2))

	f.driver.ProcessFrame(frameAt(t0, 0))
	e, _ := f.reg.Get("a")
	first := e.Anchor().ID()

	f.driver.ProcessFrame(frameAt(t0.Add(2*time.Second), 0))
	assert.Equal(t, first, e.Anchor().ID(), "no refresh inside the interval")

	f.driver.ProcessFrame(frameAt(t0.Add(5*time.Second), 0))
	assert.NotEqual(t, first, e.Anchor().ID())
	assert.Equal(t, 1, f.scene.AnchorCount(), "the old anchor is detached")
}

func TestProcessFrame_NewMarkerTriggersRefresh(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.add(t, "a", north(10.2))
	f.driver.ProcessFrame(frameAt(t0, 0))

	f.add(t, "b", north(20.2))
	st := f.driver.ProcessFrame(frameAt(t0.Add(time.Second), 0))

	assert.Equal(t, 2, st.Updated)
	assert.Empty(t, f.reg.Unanchored())
}

func TestProcessFrame_ForcedRefresh(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.add(t, "a", north(10.2))
	f.driver.ProcessFrame(frameAt(t0, 0))
	e, _ := f.reg.Get("a")
	first := e.Anchor().ID()

	f.driver.RefreshAnchors()
	f.driver.ProcessFrame(frameAt(t0.Add(time.Second), 0))
	assert.NotEqual(t, first, e.Anchor().ID())
}

func TestProcessFrame_OffsetsSurviveRefresh(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.add(t, "a", north(10.2))
	e, _ := f.reg.Get("a")
	require.NoError(t, e.RaiseOffset(2.4))

	f.driver.ProcessFrame(frameAt(t0, 0))
	f.driver.ProcessFrame(frameAt(t0.Add(5*time.Second), 0))

	assert.InDelta(t, 2.4, e.Marker().VerticalOffset, 1e-12)
	assert.InDelta(t, 2.4, e.Node().WorldPosition().Y, 1e-12)
}

func TestProcessFrame_Sampling(t *testing.T) {
	sampler := &recordingSampler{}
	f := newFixture(t, DefaultConfig(), WithSampler(sampler))
	f.add(t, "a", north(10.2))

	for i := 0; i < 5; i++ {
		f.driver.ProcessFrame(frameAt(t0.Add(time.Duration(i)*500*time.Millisecond), 0))
	}

	// frames at 0, 0.5, 1, 1.5, 2 s with a 1 s interval
	require.Len(t, sampler.batches, 3)
	require.Len(t, sampler.batches[0], 1)
	assert.Equal(t, "a", sampler.batches[0][0].MarkerID)
	assert.Equal(t, 11, sampler.batches[0][0].DistanceInGPS)
}

func TestProcessFrame_NoSamplesWithoutPlacements(t *testing.T) {
	sampler := &recordingSampler{}
	f := newFixture(t, DefaultConfig(), WithSampler(sampler))
	f.feed.fix = nil
	f.add(t, "a", north(10.2))

	f.driver.ProcessFrame(frameAt(t0, 0))
	assert.Empty(t, sampler.batches)
}
