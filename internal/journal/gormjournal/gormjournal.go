// Package gormjournal implements journal.Backend on GORM, backed by SQLite
// (file or in-memory with periodic VACUUM INTO dumps) or PostgreSQL.
package gormjournal

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/internal/geo"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/internal/journal"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/pkg/core"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const placementBatchSize = 500

// Config holds optional SQLite dump settings.
type Config struct {
	DumpPath     string // Path for periodic VACUUM INTO dumps
	DumpInterval time.Duration
}

// Backend writes journal records through GORM.
type Backend struct {
	db  *gorm.DB
	cfg Config
	log zerolog.Logger

	mu      sync.Mutex
	session *Session

	stopChan chan struct{}
	done     chan struct{}
}

// New creates a backend on an open connection.
func New(db *gorm.DB, cfg Config, log zerolog.Logger) (*Backend, error) {
	if db == nil {
		return nil, errors.New("gormjournal: nil database")
	}
	return &Backend{
		db:  db,
		cfg: cfg,
		log: log,
	}, nil
}

func (b *Backend) dumpEnabled() bool {
	return b.cfg.DumpPath != "" && b.cfg.DumpInterval > 0
}

// Init migrates the schema and starts the dump goroutine when configured.
func (b *Backend) Init() error {
	b.log.Info().Str("dialect", b.db.Dialector.Name()).Msg("Migrating journal schema")
	if err := b.db.AutoMigrate(Models...); err != nil {
		return fmt.Errorf("failed to migrate journal schema: %w", err)
	}

	if b.dumpEnabled() {
		b.stopChan = make(chan struct{})
		b.done = make(chan struct{})
		go b.dumpLoop()
	}
	return nil
}

// Close stops the dump goroutine, writes a final dump and closes the connection.
func (b *Backend) Close() error {
	var errs []error
	if b.stopChan != nil {
		close(b.stopChan)
		<-b.done
		b.stopChan = nil
		if err := DumpToDisk(b.db, b.cfg.DumpPath); err != nil {
			errs = append(errs, err)
		}
	}

	sqlDB, err := b.db.DB()
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to access sql interface: %w", err))
	} else if err := sqlDB.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// StartSession inserts the session row.
func (b *Backend) StartSession(s *core.Session) error {
	row := &Session{
		ID:        s.ID.String(),
		StartedAt: s.StartedAt,
		Provider:  s.Provider,
		Host:      s.Host,
		Version:   s.Version,
		Markers:   s.Markers,
	}
	if err := b.db.Create(row).Error; err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	b.mu.Lock()
	b.session = row
	b.mu.Unlock()

	b.log.Info().Str("session", row.ID).Msg("Journal session started")
	return nil
}

// EndSession stamps the session's end time.
func (b *Backend) EndSession() error {
	b.mu.Lock()
	s := b.session
	b.session = nil
	b.mu.Unlock()

	if s == nil {
		return journal.ErrNoSession
	}
	if err := b.db.Model(s).Update("ended_at", time.Now().UTC()).Error; err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	return nil
}

func (b *Backend) currentSession() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		return "", journal.ErrNoSession
	}
	return b.session.ID, nil
}

// rawReading is the provider payload kept alongside each fix.
type rawReading struct {
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	Datum        string    `json:"datum"`
	Accuracy     float64   `json:"accuracy"`
	Address      string    `json:"address,omitempty"`
	LocationType int       `json:"locationType"`
	Provider     string    `json:"provider,omitempty"`
	Time         time.Time `json:"time"`
}

// FixToRecord converts a fix into its table row.
func FixToRecord(sessionID string, f *core.Fix) (FixRecord, error) {
	point, err := geo.PointFromCoordinate(f.Coordinate)
	if err != nil {
		return FixRecord{}, err
	}
	raw, err := json.Marshal(rawReading{
		Latitude:     f.Raw.Latitude,
		Longitude:    f.Raw.Longitude,
		Datum:        f.Raw.Datum.String(),
		Accuracy:     f.Accuracy,
		Address:      f.Address,
		LocationType: f.LocationType,
		Provider:     f.Provider,
		Time:         f.ProviderTime,
	})
	if err != nil {
		return FixRecord{}, fmt.Errorf("marshal raw reading: %w", err)
	}
	return FixRecord{
		SessionID:    sessionID,
		Time:         f.ReceivedAt,
		ProviderTime: f.ProviderTime,
		Latitude:     f.Coordinate.Latitude,
		Longitude:    f.Coordinate.Longitude,
		Position:     point,
		Accuracy:     f.Accuracy,
		Address:      f.Address,
		LocationType: f.LocationType,
		Provider:     f.Provider,
		Raw:          datatypes.JSON(raw),
	}, nil
}

// PlacementToRecord converts a sample into its table row.
func PlacementToRecord(sessionID string, s core.PlacementSample) (PlacementRecord, error) {
	point, err := geo.PointFromCoordinate(s.Geo)
	if err != nil {
		return PlacementRecord{}, err
	}
	return PlacementRecord{
		SessionID:     sessionID,
		Time:          s.Time,
		MarkerID:      s.MarkerID,
		Name:          s.Name,
		Latitude:      s.Geo.Latitude,
		Longitude:     s.Geo.Longitude,
		Position:      point,
		DistanceInGPS: s.DistanceInGPS,
		DistanceInAR:  s.DistanceInAR,
		Scale:         s.Scale,
		Offset:        s.Offset,
		SceneX:        s.Position.X,
		SceneY:        s.Position.Y,
		SceneZ:        s.Position.Z,
	}, nil
}

// RecordFix inserts one fix row.
func (b *Backend) RecordFix(f *core.Fix) error {
	sessionID, err := b.currentSession()
	if err != nil {
		return err
	}
	rec, err := FixToRecord(sessionID, f)
	if err != nil {
		return err
	}
	if err := b.db.Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to insert fix: %w", err)
	}
	return nil
}

// RecordPlacements inserts samples in batches. Samples with an invalid
// coordinate are skipped and logged.
func (b *Backend) RecordPlacements(samples []core.PlacementSample) error {
	sessionID, err := b.currentSession()
	if err != nil {
		return err
	}

	records := make([]PlacementRecord, 0, len(samples))
	for _, s := range samples {
		rec, err := PlacementToRecord(sessionID, s)
		if err != nil {
			b.log.Warn().Err(err).Str("marker", s.MarkerID).Msg("Skipping placement sample")
			continue
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil
	}

	if err := b.db.CreateInBatches(records, placementBatchSize).Error; err != nil {
		return fmt.Errorf("failed to insert %d placements: %w", len(records), err)
	}
	return nil
}

// Sessions returns every session row, oldest first.
func (b *Backend) Sessions() ([]Session, error) {
	var out []Session
	err := b.db.Order("started_at").Find(&out).Error
	return out, err
}

// Fixes returns a session's fixes in time order.
func (b *Backend) Fixes(sessionID string) ([]FixRecord, error) {
	var out []FixRecord
	err := b.db.Where("session_id = ?", sessionID).Order("time, id").Find(&out).Error
	return out, err
}

// Placements returns a session's placement rows in insertion order.
func (b *Backend) Placements(sessionID string) ([]PlacementRecord, error) {
	var out []PlacementRecord
	err := b.db.Where("session_id = ?", sessionID).Order("id").Find(&out).Error
	return out, err
}

// dumpLoop periodically dumps the database to disk via VACUUM INTO.
func (b *Backend) dumpLoop() {
	defer close(b.done)

	ticker := time.NewTicker(b.cfg.DumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			start := time.Now()
			if err := DumpToDisk(b.db, b.cfg.DumpPath); err != nil {
				b.log.Error().Err(err).Msg("Error dumping journal to disk")
			} else {
				b.log.Debug().Dur("duration", time.Since(start)).Msg("Dumped journal to disk")
			}
		}
	}
}
