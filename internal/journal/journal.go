// Package journal records published fixes and placement samples to a
// diagnostic backend. Records are grouped by session.
package journal

import (
	"errors"

	"github.com/silverbullet1472/Amap-GPS-ARLocation/pkg/core"
)

// ErrNoSession is returned by backends asked to record before StartSession.
var ErrNoSession = errors.New("no active journal session")

// Backend is the interface all journal implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Session management
	StartSession(s *core.Session) error
	EndSession() error

	// Recording
	RecordFix(f *core.Fix) error
	RecordPlacements(samples []core.PlacementSample) error
}

// Logger is the logging surface used by the writer.
// Both *slog.Logger and logging.ZerologAdapter satisfy it.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Nop is a backend that discards everything.
type Nop struct{}

func (Nop) Init() error { return nil }
func (Nop) Close() error { return nil }
func (Nop) StartSession(*core.Session) error { return nil }
func (Nop) EndSession() error { return nil }
func (Nop) RecordFix(*core.Fix) error { return nil }
func (Nop) RecordPlacements([]core.PlacementSample) error { return nil }
