// Package location turns provider updates into the current standard-datum fix.
package location

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/silverbullet1472/Amap-GPS-ARLocation/internal/geo"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/pkg/core"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrNoProvider is returned when a feed is started without a provider.
var ErrNoProvider = errors.New("no location provider")

// Option configures a Feed.
type Option func(*Feed)

// WithLogger sets the logger used for rejected updates.
func WithLogger(l *slog.Logger) Option {
	return func(f *Feed) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithClock overrides time.Now for ReceivedAt stamps and staleness.
func WithClock(now func() time.Time) Option {
	return func(f *Feed) {
		if now != nil {
			f.now = now
		}
	}
}

// WithSink registers an observer called after every published fix.
// Sinks run on the provider goroutine and must not block.
func WithSink(fn func(*core.Fix)) Option {
	return func(f *Feed) {
		if fn != nil {
			f.sinks = append(f.sinks, fn)
		}
	}
}

// Feed holds the latest fix. OnLocationChanged may run on any goroutine;
// Current is a single atomic load and never blocks.
type Feed struct {
	provider Provider
	current  atomic.Pointer[core.Fix]
	logger   *slog.Logger
	now      func() time.Time
	sinks    []func(*core.Fix)

	mu      sync.Mutex
	running bool

	accepted metric.Int64Counter
	rejected metric.Int64Counter
	accuracy metric.Float64Histogram
}

// NewFeed creates a feed over p without starting it.
func NewFeed(p Provider, opts ...Option) (*Feed, error) {
	f := &Feed{
		provider: p,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}

	m := meter()
	var err error

	f.accepted, err = m.Int64Counter(
		"location.fixes",
		metric.WithDescription("Provider updates published as the current fix"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating fixes counter: %w", err)
	}

	f.rejected, err = m.Int64Counter(
		"location.failures",
		metric.WithDescription("Provider updates rejected, by error code"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating failures counter: %w", err)
	}

	f.accuracy, err = m.Float64Histogram(
		"location.accuracy",
		metric.WithDescription("Reported horizontal accuracy of accepted fixes"),
		metric.WithUnit("m"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating accuracy histogram: %w", err)
	}

	return f, nil
}

// Open creates a feed and starts its provider.
func Open(ctx context.Context, p Provider, opts ...Option) (*Feed, error) {
	f, err := NewFeed(p, opts...)
	if err != nil {
		return nil, err
	}
	if err := f.Start(ctx); err != nil {
		return nil, err
	}
	return f, nil
}

// Start begins receiving updates. Starting a running feed is a no-op.
func (f *Feed) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return nil
	}
	if f.provider == nil {
		return ErrNoProvider
	}
	if err := f.provider.Start(ctx, f.OnLocationChanged); err != nil {
		return fmt.Errorf("starting location provider: %w", err)
	}
	f.running = true
	return nil
}

// Stop halts the provider. The last fix stays available.
func (f *Feed) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return nil
	}
	f.running = false
	if err := f.provider.Stop(); err != nil {
		return fmt.Errorf("stopping location provider: %w", err)
	}
	return nil
}

// Running reports whether the provider is started.
func (f *Feed) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

// OnLocationChanged is the provider callback. Failed or invalid updates keep
// the previous fix.
func (f *Feed) OnLocationChanged(raw *RawFix, errCode int) {
	ctx := context.Background()
	if raw == nil || errCode != ErrCodeNone {
		f.logger.Debug("location update failed", "code", errCode, "empty", raw == nil)
		f.rejected.Add(ctx, 1, metric.WithAttributes(attribute.Int("code", errCode)))
		return
	}

	in, err := core.NewGeoCoordinate(raw.Latitude, raw.Longitude, raw.Datum)
	if err != nil {
		f.logger.Debug("location update rejected", "error", err)
		f.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "invalid")))
		return
	}
	if in.Datum == core.DatumGCJ02 && !geo.InChina(in) {
		f.logger.Debug("GCJ02 fix outside China, correction is approximate",
			"latitude", in.Latitude, "longitude", in.Longitude)
	}
	// WGS84 input passes through unchanged
	wgs, err := geo.GCJ02ToWGS84(in)
	if err != nil {
		f.logger.Debug("location update rejected", "error", err)
		f.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "invalid")))
		return
	}

	fix := &core.Fix{
		Coordinate:   wgs,
		Raw:          in,
		Accuracy:     raw.Accuracy,
		Address:      raw.Address,
		LocationType: raw.LocationType,
		Provider:     raw.Provider,
		ProviderTime: raw.Time,
		ReceivedAt:   f.now(),
	}
	f.current.Store(fix)
	f.accepted.Add(ctx, 1)
	f.accuracy.Record(ctx, raw.Accuracy)

	for _, sink := range f.sinks {
		sink(fix)
	}
}

// Current returns the latest fix, or nil before the first successful update.
// The returned value must not be modified.
func (f *Feed) Current() *core.Fix {
	return f.current.Load()
}

// Age returns how long ago the current fix was received. ok is false when
// there is no fix yet.
func (f *Feed) Age() (age time.Duration, ok bool) {
	fix := f.current.Load()
	if fix == nil {
		return 0, false
	}
	return fix.Age(f.now()), true
}

// Stale reports whether there is no fix or the fix is older than maxAge.
func (f *Feed) Stale(maxAge time.Duration) bool {
	age, ok := f.Age()
	return !ok || age > maxAge
}
