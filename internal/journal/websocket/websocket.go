// Package websocket streams journal records to a remote collector as JSON
// envelopes over a WebSocket. Session boundaries wait for a server ack;
// fixes and placements are fire-and-forget.
package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/silverbullet1472/Amap-GPS-ARLocation/internal/journal"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/pkg/core"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/pkg/streaming"
)

// Config holds WebSocket backend configuration.
type Config struct {
	URL    string
	Secret string
}

// Backend implements journal.Backend over a WebSocket.
type Backend struct {
	conn *connection
	cfg  Config

	mu      sync.RWMutex
	session string
}

// New creates a new WebSocket journal backend.
func New(cfg Config, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		conn: newConnection(logger),
		cfg:  cfg,
	}
}

// Init connects to the WebSocket server.
func (b *Backend) Init() error {
	return b.conn.dial(b.cfg.URL, b.cfg.Secret)
}

// Close disconnects from the WebSocket server.
func (b *Backend) Close() error {
	if n := b.Dropped(); n > 0 {
		b.conn.logger.Warn("journal stream closed with dropped messages", "dropped", n)
	}
	return b.conn.close()
}

// Dropped returns how many messages were discarded because the send queue was full.
func (b *Backend) Dropped() uint64 {
	return b.conn.droppedCount()
}

// marshalEnvelope builds a JSON-encoded Envelope from a message type and payload.
func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	data, err := json.Marshal(streaming.Envelope{Type: msgType, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

func (b *Backend) sendEnvelope(msgType string, payload any) error {
	data, err := marshalEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	b.conn.send(data)
	return nil
}

func (b *Backend) currentSession() (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.session == "" {
		return "", journal.ErrNoSession
	}
	return b.session, nil
}

// StartSession announces the session and waits for the server ack.
// The message is cached and replayed after a reconnect.
func (b *Backend) StartSession(s *core.Session) error {
	data, err := marshalEnvelope(streaming.TypeStartSession, streaming.NewStartSession(s))
	if err != nil {
		return err
	}
	b.conn.setSession(data)

	if err := b.conn.sendAndWait(data, streaming.TypeStartSession, ackTimeout); err != nil {
		b.conn.setSession(nil)
		return err
	}

	b.mu.Lock()
	b.session = s.ID.String()
	b.mu.Unlock()
	return nil
}

// EndSession sends end_session and waits for the server ack.
func (b *Backend) EndSession() error {
	session, err := b.currentSession()
	if err != nil {
		return err
	}

	data, err := marshalEnvelope(streaming.TypeEndSession, map[string]string{"session": session})
	if err != nil {
		return err
	}
	err = b.conn.sendAndWait(data, streaming.TypeEndSession, ackTimeout)

	// Clear cached state regardless of error.
	b.conn.setSession(nil)
	b.mu.Lock()
	b.session = ""
	b.mu.Unlock()

	return err
}

// RecordFix streams one fix.
func (b *Backend) RecordFix(f *core.Fix) error {
	session, err := b.currentSession()
	if err != nil {
		return err
	}
	return b.sendEnvelope(streaming.TypeFix, streaming.NewFix(session, f))
}

// RecordPlacements streams a batch of samples as one message.
func (b *Backend) RecordPlacements(samples []core.PlacementSample) error {
	session, err := b.currentSession()
	if err != nil {
		return err
	}
	return b.sendEnvelope(streaming.TypePlacements, streaming.NewPlacements(session, samples))
}
