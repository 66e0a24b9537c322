// Package streaming defines the wire format of the journal stream: JSON
// envelopes sent over a WebSocket, acknowledged by the server for session
// boundaries.
package streaming

import (
	"encoding/json"
	"time"

	"github.com/silverbullet1472/Amap-GPS-ARLocation/pkg/core"
)

// Message type constants matching the streaming protocol.
const (
	TypeStartSession = "start_session"
	TypeEndSession   = "end_session"
	TypeFix          = "fix"
	TypePlacements   = "placements"
	TypeAck          = "ack"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// AckMessage is the server's acknowledgement response.
type AckMessage struct {
	Type string `json:"type"` // always "ack"
	For  string `json:"for"`  // the message type being acknowledged
}

// StartSessionPayload announces a session.
type StartSessionPayload struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"startedAt"`
	Provider  string    `json:"provider"`
	Host      string    `json:"host,omitempty"`
	Version   string    `json:"version,omitempty"`
	Markers   int       `json:"markers"`
}

// FixPayload carries one published fix.
type FixPayload struct {
	Session      string             `json:"session"`
	Coordinate   core.GeoCoordinate `json:"coordinate"`
	Raw          core.GeoCoordinate `json:"raw"`
	Accuracy     float64            `json:"accuracy"`
	Address      string             `json:"address,omitempty"`
	LocationType int                `json:"locationType"`
	Provider     string             `json:"provider,omitempty"`
	ProviderTime time.Time          `json:"providerTime"`
	ReceivedAt   time.Time          `json:"receivedAt"`
}

// PlacementPayload is one marker's placement on one sampled frame.
type PlacementPayload struct {
	Time          time.Time          `json:"time"`
	MarkerID      string             `json:"markerId"`
	Name          string             `json:"name,omitempty"`
	Geo           core.GeoCoordinate `json:"geo"`
	DistanceInGPS int                `json:"distanceInGps"`
	DistanceInAR  float64            `json:"distanceInAr"`
	Scale         float64            `json:"scale"`
	Offset        float64            `json:"offset"`
	Position      [3]float64         `json:"position"`
}

// PlacementsPayload carries a batch of samples.
type PlacementsPayload struct {
	Session string             `json:"session"`
	Samples []PlacementPayload `json:"samples"`
}

// NewStartSession builds the payload for s.
func NewStartSession(s *core.Session) StartSessionPayload {
	return StartSessionPayload{
		ID:        s.ID.String(),
		StartedAt: s.StartedAt,
		Provider:  s.Provider,
		Host:      s.Host,
		Version:   s.Version,
		Markers:   s.Markers,
	}
}

// NewFix builds the payload for f.
func NewFix(session string, f *core.Fix) FixPayload {
	return FixPayload{
		Session:      session,
		Coordinate:   f.Coordinate,
		Raw:          f.Raw,
		Accuracy:     f.Accuracy,
		Address:      f.Address,
		LocationType: f.LocationType,
		Provider:     f.Provider,
		ProviderTime: f.ProviderTime,
		ReceivedAt:   f.ReceivedAt,
	}
}

// NewPlacements builds the payload for a batch of samples.
func NewPlacements(session string, samples []core.PlacementSample) PlacementsPayload {
	out := PlacementsPayload{
		Session: session,
		Samples: make([]PlacementPayload, len(samples)),
	}
	for i, s := range samples {
		out.Samples[i] = PlacementPayload{
			Time:          s.Time,
			MarkerID:      s.MarkerID,
			Name:          s.Name,
			Geo:           s.Geo,
			DistanceInGPS: s.DistanceInGPS,
			DistanceInAR:  s.DistanceInAR,
			Scale:         s.Scale,
			Offset:        s.Offset,
			Position:      [3]float64{s.Position.X, s.Position.Y, s.Position.Z},
		}
	}
	return out
}
