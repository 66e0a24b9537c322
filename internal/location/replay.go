package location

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/silverbullet1472/Amap-GPS-ARLocation/pkg/core"
)

// ReplayProviderName is stamped on every replayed fix.
const ReplayProviderName = "replay"

var (
	ErrEmptyTrack      = errors.New("replay track is empty")
	ErrInvalidInterval = errors.New("replay interval must be positive")
	ErrAlreadyRunning  = errors.New("replay already running")
)

// ReplayConfig controls how a track is played back.
type ReplayConfig struct {
	Interval     time.Duration
	Loop         bool
	Accuracy     float64
	Address      string
	LocationType int
	// Errors maps a step index to the error code delivered instead of that point.
	Errors map[int]int
}

// ReplayProvider plays a recorded track back as provider updates, in the track's datum.
type ReplayProvider struct {
	track []core.GeoCoordinate
	cfg   ReplayConfig

	mu        sync.Mutex
	isRunning bool
	stopChan  chan struct{}
	done      chan struct{}
}

// NewReplayProvider creates a provider over track.
func NewReplayProvider(track []core.GeoCoordinate, cfg ReplayConfig) (*ReplayProvider, error) {
	if len(track) == 0 {
		return nil, ErrEmptyTrack
	}
	if cfg.Interval <= 0 {
		return nil, ErrInvalidInterval
	}
	return &ReplayProvider{track: track, cfg: cfg}, nil
}

// Start emits the first point immediately and then one point per interval.
func (p *ReplayProvider) Start(ctx context.Context, l Listener) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.isRunning {
		return ErrAlreadyRunning
	}
	p.isRunning = true
	p.stopChan = make(chan struct{})
	p.done = make(chan struct{})
	go p.run(ctx, l, p.stopChan, p.done)
	return nil
}

// Stop halts playback and waits for the playback goroutine to exit.
func (p *ReplayProvider) Stop() error {
	p.mu.Lock()
	if !p.isRunning {
		p.mu.Unlock()
		return nil
	}
	p.isRunning = false
	close(p.stopChan)
	done := p.done
	p.mu.Unlock()

	<-done
	return nil
}

// Done is closed when playback ends, either at the end of a non-looping
// track or after Stop. It is nil before the first Start.
func (p *ReplayProvider) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

func (p *ReplayProvider) run(ctx context.Context, l Listener, stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	step := 0
	for {
		p.emit(l, step)
		step++
		if step >= len(p.track) && !p.cfg.Loop {
			return
		}

		select {
		case <-ticker.C:
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (p *ReplayProvider) emit(l Listener, step int) {
	if code, ok := p.cfg.Errors[step]; ok && code != ErrCodeNone {
		l(nil, code)
		return
	}
	pt := p.track[step%len(p.track)]
	l(&RawFix{
		Latitude:     pt.Latitude,
		Longitude:    pt.Longitude,
		Datum:        pt.Datum,
		Accuracy:     p.cfg.Accuracy,
		Address:      p.cfg.Address,
		LocationType: p.cfg.LocationType,
		Provider:     ReplayProviderName,
		Time:         time.Now(),
	}, ErrCodeNone)
}
