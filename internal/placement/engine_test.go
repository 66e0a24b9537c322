package placement

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/silverbullet1472/Amap-GPS-ARLocation/internal/registry"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/internal/scene"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/internal/scene/memscene"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// metersPerDegree is one degree of latitude on the haversine sphere.
const metersPerDegree = 6371000.0 * math.Pi / 180

var viewer = core.GeoCoordinate{Latitude: 30.52, Longitude: 114.35}

func north(meters float64) core.GeoCoordinate {
	return core.GeoCoordinate{Latitude: viewer.Latitude + meters/metersPerDegree, Longitude: viewer.Longitude}
}

func viewerFix() *core.Fix {
	return &core.Fix{Coordinate: viewer, ReceivedAt: time.Now()}
}

func trackingFrame() scene.Frame {
	return scene.Frame{
		Time:          time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Camera:        scene.Pose{Position: core.Vector3{Y: 1.6}, Rotation: core.Identity},
		TrackingState: scene.Tracking,
	}
}

type fixture struct {
	scene  *memscene.Scene
	reg    *registry.Registry
	engine *Engine
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{scene: memscene.New(), reg: registry.New()}
	e, err := New(f.reg, f.scene, cfg)
	require.NoError(t, err)
	f.engine = e
	return f
}

func (f *fixture) add(t *testing.T, m core.Marker, pos core.Vector3) *memscene.Anchor {
	t.Helper()
	_, err := f.reg.Add(m)
	require.NoError(t, err)
	a, err := f.scene.Anchor(pos)
	require.NoError(t, err)
	require.NoError(t, f.reg.Bind(m.ID, a))
	return a
}

func limitConfig(limit float64) Config {
	cfg := DefaultConfig()
	cfg.DistanceLimit = limit
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	for _, limit := range []float64{0, -30, math.NaN(), math.Inf(1)} {
		err := limitConfig(limit).Validate()
		assert.True(t, errors.Is(err, ErrInvalidDistanceLimit), "limit %v", limit)
	}

	cfg := DefaultConfig()
	cfg.OverlapStep = 0
	assert.True(t, errors.Is(cfg.Validate(), ErrInvalidOverlapStep))
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	_, err := New(registry.New(), memscene.New(), limitConfig(0))
	assert.True(t, errors.Is(err, ErrInvalidDistanceLimit))
}

func TestSetConfig(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	assert.True(t, errors.Is(f.engine.SetConfig(limitConfig(-1)), ErrInvalidDistanceLimit))
	assert.Equal(t, 30.0, f.engine.Config().DistanceLimit)

	require.NoError(t, f.engine.SetConfig(limitConfig(100)))
	assert.Equal(t, 100.0, f.engine.Config().DistanceLimit)
}

func TestStep_CameraNotTracking(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	a := f.add(t, core.Marker{ID: "a", Geo: north(100)}, core.Vector3{Z: -5})

	for _, state := range []scene.TrackingState{scene.NotTracking, scene.Paused} {
		frame := trackingFrame()
		frame.TrackingState = state
		st := f.engine.Step(frame, viewerFix())
		assert.Equal(t, Stats{}, st)
	}
	assert.Equal(t, core.Uniform(1), a.Node().WorldScale())
	assert.Nil(t, f.engine.Snapshot())
}

func TestStep_NoFixIsANoOp(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	calls := 0
	a := f.add(t, core.Marker{ID: "a", Geo: north(100)}, core.Vector3{X: 1, Y: 0.3, Z: -5})
	require.NoError(t, f.reg.SetRenderFunc("a", func(registry.View) { calls++ }))

	before := a.Node().WorldPosition()
	for i := 0; i < 10; i++ {
		st := f.engine.Step(trackingFrame(), nil)
		assert.Equal(t, 1, st.Eligible)
		assert.Equal(t, 1, st.SkippedNoFix)
		assert.Equal(t, 0, st.Updated)
	}

	e, _ := f.reg.Get("a")
	assert.False(t, e.Measured(), "no distance is computed without a fix")
	assert.Equal(t, before, a.Node().WorldPosition())
	assert.Equal(t, core.Identity, a.Node().WorldRotation())
	assert.Equal(t, core.Uniform(1), a.Node().WorldScale())
	assert.Equal(t, 0, calls)
	assert.Empty(t, f.engine.Snapshot())
}

func TestStep_FixedSizeClampedToLimit(t *testing.T) {
	f := newFixture(t, limitConfig(30))
	a := f.add(t, core.Marker{ID: "a", Geo: north(499.6)}, core.Vector3{X: 3, Y: 2, Z: -4})

	st := f.engine.Step(trackingFrame(), viewerFix())
	assert.Equal(t, Stats{Eligible: 1, Updated: 1}, st)

	e, _ := f.reg.Get("a")
	assert.Equal(t, 500, e.DistanceInGPS())
	assert.InDelta(t, core.Vector3{X: 3, Y: 2, Z: -4}.Distance(core.Vector3{Y: 1.6}), e.DistanceInAR(), 1e-9)
	assert.InDelta(t, 15.0, e.Scale(), 1e-9)

	n := a.Node()
	assert.Equal(t, core.Uniform(e.Scale()), n.WorldScale())
	assert.Equal(t, core.Vector3{X: 3, Y: 0, Z: -4}, n.WorldPosition(), "height follows the vertical offset, x and z stay on the anchor")

	facing := n.WorldRotation().Rotate(core.Forward)
	want := core.Vector3{Y: 1.6}.Sub(n.WorldPosition()).Normalized()
	assert.InDelta(t, want.X, facing.X, 1e-9)
	assert.InDelta(t, want.Y, facing.Y, 1e-9)
	assert.InDelta(t, want.Z, facing.Z, 1e-9)
}

func TestStep_FixedSizeScales(t *testing.T) {
	tests := []struct {
		name   string
		meters float64
		want   float64
	}{
		{"1000 m under a 5000 m limit", 999.6, 500},
		{"4000 m gets the distant marker penalty", 3999.6, 1500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, limitConfig(5000))
			f.add(t, core.Marker{ID: "a", Geo: north(tt.meters)}, core.Vector3{Z: -10})

			f.engine.Step(trackingFrame(), viewerFix())

			e, _ := f.reg.Get("a")
			assert.InDelta(t, tt.want, e.Scale(), 1e-9)
		})
	}
}

func TestStep_GradualScaling(t *testing.T) {
	f := newFixture(t, limitConfig(30))
	gradual := core.DefaultGradualScaling()
	f.add(t, core.Marker{ID: "edge", Geo: north(29.6), Scaling: gradual}, core.Vector3{Z: -10})
	f.add(t, core.Marker{ID: "close", Geo: north(0.4), Scaling: gradual}, core.Vector3{X: 10, Z: -10})
	f.add(t, core.Marker{ID: "far", Geo: north(900.2), Scaling: gradual}, core.Vector3{X: -10, Z: -10})

	f.engine.Step(trackingFrame(), viewerFix())

	edge, _ := f.reg.Get("edge")
	assert.Equal(t, 30, edge.DistanceInGPS())
	assert.InDelta(t, 0.8*30, edge.Scale(), 1e-9)

	near, _ := f.reg.Get("close")
	assert.Equal(t, 1, near.DistanceInGPS())
	assert.InDelta(t, 0.8+29*(0.6/30), near.Scale(), 1e-9)

	far, _ := f.reg.Get("far")
	assert.InDelta(t, core.GradualFactorFloor*30, far.Scale(), 1e-9)
}

func TestStep_NoScalingWithModifier(t *testing.T) {
	f := newFixture(t, limitConfig(30))
	a := f.add(t, core.Marker{ID: "a", Geo: north(250.5), Scaling: core.NoScaling{}, ScaleModifier: 2}, core.Vector3{Z: -10})

	f.engine.Step(trackingFrame(), viewerFix())

	assert.Equal(t, core.Uniform(2), a.Node().WorldScale())
}

func TestStep_UntrackedAnchorSkipped(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	calls := 0
	a := f.add(t, core.Marker{ID: "a", Geo: north(100)}, core.Vector3{Z: -5})
	require.NoError(t, f.reg.SetRenderFunc("a", func(registry.View) { calls++ }))

	for _, toggle := range []func(bool){a.SetTracking, a.SetActive, a.SetEnabled} {
		toggle(false)
		st := f.engine.Step(trackingFrame(), viewerFix())
		assert.Equal(t, Stats{SkippedUntracked: 1}, st)
		toggle(true)
	}
	assert.Equal(t, 0, calls)
	assert.Equal(t, core.Uniform(1), a.Node().WorldScale())

	// unanchored markers are skipped the same way
	_, err := f.reg.Add(core.Marker{ID: "b", Geo: north(10)})
	require.NoError(t, err)
	st := f.engine.Step(trackingFrame(), viewerFix())
	assert.Equal(t, 1, st.Updated)
	assert.Equal(t, 1, st.SkippedUntracked)
	assert.Equal(t, 1, calls)
}

func TestStep_RenderCallback(t *testing.T) {
	f := newFixture(t, limitConfig(30))
	f.add(t, core.Marker{ID: "a", Name: "CCNU", Geo: north(120.3)}, core.Vector3{Z: -8})

	var views []registry.View
	require.NoError(t, f.reg.SetRenderFunc("a", func(v registry.View) { views = append(views, v) }))

	f.engine.Step(trackingFrame(), viewerFix())
	f.engine.Step(trackingFrame(), viewerFix())

	require.Len(t, views, 2)
	assert.Equal(t, "a", views[0].MarkerID)
	assert.Equal(t, "CCNU", views[0].Marker.Name)
	assert.Equal(t, 121, views[0].DistanceInGPS)
	assert.InDelta(t, 15.0, views[0].Scale, 1e-9)
	require.NotNil(t, views[0].Node)
	assert.Equal(t, core.Uniform(15), views[0].Node.WorldScale())
}

func TestStep_MinimalRefreshing(t *testing.T) {
	cfg := limitConfig(30)
	cfg.MinimalRefreshing = true
	f := newFixture(t, cfg)
	a := f.add(t, core.Marker{ID: "a", Geo: north(80.5)}, core.Vector3{X: 1, Y: 0.7, Z: -6})

	var got registry.View
	require.NoError(t, f.reg.SetRenderFunc("a", func(v registry.View) { got = v }))

	st := f.engine.Step(trackingFrame(), viewerFix())
	assert.Equal(t, 1, st.Updated)

	assert.Equal(t, 81, got.DistanceInGPS, "distances still run")
	assert.Greater(t, got.DistanceInAR, 0.0)
	assert.Equal(t, core.Vector3{X: 1, Y: 0.7, Z: -6}, a.Node().WorldPosition(), "pose is frozen")
	assert.Equal(t, core.Identity, a.Node().WorldRotation())
	assert.Equal(t, core.Uniform(1), a.Node().WorldScale())
}

func TestStep_OverlapTieBreak(t *testing.T) {
	cfg := limitConfig(30)
	cfg.OffsetOverlapping = true
	f := newFixture(t, cfg)
	a := f.add(t, core.Marker{ID: "A", Geo: north(40.5), Scaling: core.NoScaling{}}, core.Vector3{Z: -5})
	b := f.add(t, core.Marker{ID: "B", Geo: north(60.5), Scaling: core.NoScaling{}}, core.Vector3{X: 0.3, Z: -5})

	st := f.engine.Step(trackingFrame(), viewerFix())
	assert.Equal(t, 1, st.Offset)

	entryA, _ := f.reg.Get("A")
	entryB, _ := f.reg.Get("B")
	assert.Equal(t, 0.0, entryA.Marker().VerticalOffset, "the earlier marker keeps its place")
	assert.InDelta(t, DefaultOverlapStep, entryB.Marker().VerticalOffset, 1e-12)
	assert.Equal(t, 0.0, a.Node().WorldPosition().Y)
	assert.InDelta(t, DefaultOverlapStep, b.Node().WorldPosition().Y, 1e-12)

	// B now sits above A; offsets never go back down
	prev := entryB.Marker().VerticalOffset
	for i := 0; i < 5; i++ {
		f.engine.Step(trackingFrame(), viewerFix())
		cur := entryB.Marker().VerticalOffset
		assert.GreaterOrEqual(t, cur, prev)
		prev = cur
	}
	assert.Equal(t, 0.0, entryA.Marker().VerticalOffset)
}

func TestStep_OverlapWithSceneNodeAccumulates(t *testing.T) {
	cfg := limitConfig(30)
	cfg.OffsetOverlapping = true
	f := newFixture(t, cfg)
	a := f.add(t, core.Marker{ID: "A", Geo: north(40.5), Scaling: core.NoScaling{}}, core.Vector3{Z: -5})
	// a tall prop covering the first few meters above the anchor
	f.scene.AddNode(core.Vector3{Y: 2, Z: -5}, core.Vector3{X: 1, Y: 3, Z: 1})

	entry, _ := f.reg.Get("A")
	var offsets []float64
	for i := 0; i < 6; i++ {
		f.engine.Step(trackingFrame(), viewerFix())
		offsets = append(offsets, entry.Marker().VerticalOffset)
	}

	assert.IsNonDecreasing(t, offsets)
	// the node box spans y±0.5, the prop ends at y=5: raised until y-0.5 > 5
	assert.InDelta(t, 5*DefaultOverlapStep, offsets[len(offsets)-1], 1e-9)
	assert.InDelta(t, 5*DefaultOverlapStep, a.Node().WorldPosition().Y, 1e-9)
}

func TestStep_OverlapDisabled(t *testing.T) {
	f := newFixture(t, limitConfig(30))
	f.add(t, core.Marker{ID: "A", Geo: north(40.5), Scaling: core.NoScaling{}}, core.Vector3{Z: -5})
	f.add(t, core.Marker{ID: "B", Geo: north(60.5), Scaling: core.NoScaling{}}, core.Vector3{Z: -5})

	st := f.engine.Step(trackingFrame(), viewerFix())
	assert.Equal(t, 0, st.Offset)
	entryB, _ := f.reg.Get("B")
	assert.Equal(t, 0.0, entryB.Marker().VerticalOffset)
}

func TestSnapshot(t *testing.T) {
	f := newFixture(t, limitConfig(30))
	f.add(t, core.Marker{ID: "a", Name: "first", Geo: north(10.2)}, core.Vector3{Z: -5})
	f.add(t, core.Marker{ID: "b", Name: "second", Geo: north(20.2)}, core.Vector3{X: 4, Z: -5})

	frame := trackingFrame()
	f.engine.Step(frame, viewerFix())

	snap := f.engine.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].MarkerID)
	assert.Equal(t, "first", snap[0].Name)
	assert.Equal(t, 11, snap[0].DistanceInGPS)
	assert.InDelta(t, 5.5, snap[0].Scale, 1e-9)
	assert.Equal(t, frame.Time, snap[0].Time)
	assert.Equal(t, "b", snap[1].MarkerID)
	assert.Equal(t, 21, snap[1].DistanceInGPS)
	assert.Equal(t, core.Vector3{X: 4, Z: -5}, snap[1].Position)
}
