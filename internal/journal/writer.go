package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/silverbullet1472/Amap-GPS-ARLocation/internal/queue"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/pkg/core"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// DefaultFlushInterval is used when no interval is configured.
	DefaultFlushInterval = 2 * time.Second
	// DefaultQueueLimit bounds each pending queue.
	DefaultQueueLimit = 10_000
)

var (
	ErrNoBackend     = errors.New("journal backend is nil")
	ErrWriterRunning = errors.New("journal writer already running")
	ErrWriterStopped = errors.New("journal writer not running")
)

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithLogger sets the writer's logger.
func WithLogger(l Logger) WriterOption {
	return func(w *Writer) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithFlushInterval sets how often queued records are written.
func WithFlushInterval(d time.Duration) WriterOption {
	return func(w *Writer) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithQueueLimit bounds the pending fix and sample queues. When a queue is
// full the oldest records are dropped.
func WithQueueLimit(n int) WriterOption {
	return func(w *Writer) { w.limit = n }
}

// Writer queues journal records and writes them to a Backend from its own
// goroutine. Recording never blocks. It implements driver.Sampler.
type Writer struct {
	backend  Backend
	logger   Logger
	interval time.Duration
	limit    int

	fixes   *queue.Queue[*core.Fix]
	samples *queue.Queue[core.PlacementSample]

	session   *core.Session
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}

	flushMu sync.Mutex

	written metric.Int64Counter
	dropped metric.Int64Counter
	failed  metric.Int64Counter
}

// NewWriter creates a writer for b. The backend is initialized by Start.
func NewWriter(b Backend, opts ...WriterOption) (*Writer, error) {
	if b == nil {
		return nil, ErrNoBackend
	}
	w := &Writer{
		backend:  b,
		logger:   slog.Default(),
		interval: DefaultFlushInterval,
		limit:    DefaultQueueLimit,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.fixes = queue.NewBounded[*core.Fix](w.limit)
	w.samples = queue.NewBounded[core.PlacementSample](w.limit)

	m := meter()
	var err error

	w.written, err = m.Int64Counter(
		"journal.records.written",
		metric.WithDescription("Journal records written to the backend"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating written counter: %w", err)
	}

	w.dropped, err = m.Int64Counter(
		"journal.records.dropped",
		metric.WithDescription("Journal records dropped because a queue was full"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}

	w.failed, err = m.Int64Counter(
		"journal.write.failures",
		metric.WithDescription("Failed backend writes"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating failures counter: %w", err)
	}

	return w, nil
}

// Start initializes the backend, opens session s and starts the flush loop.
func (w *Writer) Start(s *core.Session) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isRunning {
		return ErrWriterRunning
	}
	if err := w.backend.Init(); err != nil {
		return fmt.Errorf("initializing journal backend: %w", err)
	}
	if err := w.backend.StartSession(s); err != nil {
		_ = w.backend.Close()
		return fmt.Errorf("starting journal session: %w", err)
	}

	w.session = s
	w.isRunning = true
	w.stopChan = make(chan struct{})
	w.done = make(chan struct{})
	go w.loop(w.stopChan, w.done)

	w.logger.Info("journal started", "session", s.ID.String(), "interval", w.interval)
	return nil
}

// IsRunning reports whether the flush loop is active.
func (w *Writer) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.isRunning
}

// Session returns the active session, or nil.
func (w *Writer) Session() *core.Session {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.session
}

// RecordFix queues a published fix. It has the signature of a location sink.
func (w *Writer) RecordFix(f *core.Fix) {
	if f == nil {
		return
	}
	if n := w.fixes.Push(f); n > 0 {
		w.dropped.Add(context.Background(), int64(n), metric.WithAttributes(attribute.String("kind", "fix")))
	}
}

// RecordPlacements queues a copy of the samples.
func (w *Writer) RecordPlacements(samples []core.PlacementSample) {
	if len(samples) == 0 {
		return
	}
	if n := w.samples.Push(samples...); n > 0 {
		w.dropped.Add(context.Background(), int64(n), metric.WithAttributes(attribute.String("kind", "placement")))
	}
}

// Pending returns the number of queued fixes and samples.
func (w *Writer) Pending() (fixes, samples int) {
	return w.fixes.Len(), w.samples.Len()
}

// Flush writes every queued record. A failed fix write does not stop the
// remaining records; all errors are returned joined.
func (w *Writer) Flush() error {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	ctx := context.Background()
	var errs []error

	for _, f := range w.fixes.GetAndEmpty() {
		if err := w.backend.RecordFix(f); err != nil {
			w.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "fix")))
			errs = append(errs, fmt.Errorf("recording fix: %w", err))
			continue
		}
		w.written.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "fix")))
	}

	if samples := w.samples.GetAndEmpty(); len(samples) > 0 {
		if err := w.backend.RecordPlacements(samples); err != nil {
			w.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "placement")))
			errs = append(errs, fmt.Errorf("recording %d placements: %w", len(samples), err))
		} else {
			w.written.Add(ctx, int64(len(samples)), metric.WithAttributes(attribute.String("kind", "placement")))
		}
	}

	return errors.Join(errs...)
}

// Close stops the flush loop, writes what is left, ends the session and
// closes the backend.
func (w *Writer) Close() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return ErrWriterStopped
	}
	w.isRunning = false
	close(w.stopChan)
	done := w.done
	w.mu.Unlock()

	<-done

	var errs []error
	if err := w.Flush(); err != nil {
		errs = append(errs, err)
	}
	if err := w.backend.EndSession(); err != nil {
		errs = append(errs, fmt.Errorf("ending journal session: %w", err))
	}
	if err := w.backend.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing journal backend: %w", err))
	}

	w.logger.Info("journal closed", "dropped_fixes", w.fixes.Dropped(), "dropped_samples", w.samples.Dropped())
	return errors.Join(errs...)
}

func (w *Writer) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			start := time.Now()
			if err := w.Flush(); err != nil {
				w.logger.Warn("journal flush failed", "error", err)
				continue
			}
			w.logger.Debug("journal flushed", "duration", time.Since(start))
		}
	}
}
