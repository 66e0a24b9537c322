// Package redisjournal implements journal.Backend on Redis. The latest fix
// and marker positions live in GEO sets so nearby queries work while the
// session runs; every record is also appended to a capped stream.
package redisjournal

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/internal/journal"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/pkg/core"
)

const (
	keyPrefix      = "arlocation"
	deviceMember   = "device"
	defaultTimeout = 2 * time.Second
)

// Config holds Redis connection and retention settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	// StreamMaxLen caps each session stream (approximate trimming). Zero keeps everything.
	StreamMaxLen int64
	// TTL expires a session's keys after it ends. Zero keeps them.
	TTL time.Duration
}

// Keys are the Redis keys used for one session.
type Keys struct {
	Session string // hash: session metadata
	Device  string // geo set: latest device position
	Markers string // geo set: marker positions from the last placement
	Stream  string // stream: every fix and placement sample
}

// SessionKeys returns the keys for a session id.
func SessionKeys(id string) Keys {
	base := keyPrefix + ":" + id
	return Keys{
		Session: base,
		Device:  base + ":device",
		Markers: base + ":markers",
		Stream:  base + ":stream",
	}
}

// Backend writes journal records to Redis.
type Backend struct {
	cfg    Config
	log    zerolog.Logger
	client *redis.Client

	mu   sync.Mutex
	keys *Keys
}

// New creates a backend. Nothing is contacted until Init.
func New(cfg Config, log zerolog.Logger) *Backend {
	return &Backend{cfg: cfg, log: log}
}

// Init connects and pings the server.
func (b *Backend) Init() error {
	b.client = redis.NewClient(&redis.Options{
		Addr:         b.cfg.Addr,
		Password:     b.cfg.Password,
		DB:           b.cfg.DB,
		DialTimeout:  defaultTimeout,
		ReadTimeout:  defaultTimeout,
		WriteTimeout: defaultTimeout,
		MaxRetries:   1,
	})

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	if err := b.client.Ping(ctx).Err(); err != nil {
		b.client.Close()
		b.client = nil
		return fmt.Errorf("redis unreachable at %s: %w", b.cfg.Addr, err)
	}

	b.log.Info().Str("addr", b.cfg.Addr).Int("db", b.cfg.DB).Msg("Redis journal connected")
	return nil
}

// Close releases the client.
func (b *Backend) Close() error {
	if b.client == nil {
		return nil
	}
	err := b.client.Close()
	b.client = nil
	return err
}

// StartSession writes the session hash.
func (b *Backend) StartSession(s *core.Session) error {
	keys := SessionKeys(s.ID.String())

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	err := b.client.HSet(ctx, keys.Session,
		"startedAt", s.StartedAt.UTC().Format(time.RFC3339Nano),
		"provider", s.Provider,
		"host", s.Host,
		"version", s.Version,
		"markers", s.Markers,
	).Err()
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	b.mu.Lock()
	b.keys = &keys
	b.mu.Unlock()

	b.log.Info().Str("session", s.ID.String()).Msg("Journal session started")
	return nil
}

// EndSession stamps the end time and applies the TTL.
func (b *Backend) EndSession() error {
	b.mu.Lock()
	keys := b.keys
	b.keys = nil
	b.mu.Unlock()

	if keys == nil {
		return journal.ErrNoSession
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	pipe := b.client.TxPipeline()
	pipe.HSet(ctx, keys.Session, "endedAt", time.Now().UTC().Format(time.RFC3339Nano))
	if b.cfg.TTL > 0 {
		for _, k := range []string{keys.Session, keys.Device, keys.Markers, keys.Stream} {
			pipe.Expire(ctx, k, b.cfg.TTL)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	return nil
}

func (b *Backend) currentKeys() (Keys, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.keys == nil {
		return Keys{}, journal.ErrNoSession
	}
	return *b.keys, nil
}

// FixValues is the stream entry for a fix.
func FixValues(f *core.Fix) map[string]any {
	return map[string]any{
		"kind":         "fix",
		"time":         f.ReceivedAt.UnixMilli(),
		"latitude":     formatFloat(f.Coordinate.Latitude),
		"longitude":    formatFloat(f.Coordinate.Longitude),
		"rawLatitude":  formatFloat(f.Raw.Latitude),
		"rawLongitude": formatFloat(f.Raw.Longitude),
		"accuracy":     formatFloat(f.Accuracy),
		"address":      f.Address,
		"locationType": f.LocationType,
		"provider":     f.Provider,
	}
}

// PlacementValues is the stream entry for a placement sample.
func PlacementValues(s core.PlacementSample) map[string]any {
	return map[string]any{
		"kind":          "placement",
		"time":          s.Time.UnixMilli(),
		"marker":        s.MarkerID,
		"distanceInGps": s.DistanceInGPS,
		"distanceInAr":  formatFloat(s.DistanceInAR),
		"scale":         formatFloat(s.Scale),
		"offset":        formatFloat(s.Offset),
		"sceneX":        formatFloat(s.Position.X),
		"sceneY":        formatFloat(s.Position.Y),
		"sceneZ":        formatFloat(s.Position.Z),
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func (b *Backend) xadd(ctx context.Context, pipe redis.Pipeliner, stream string, values map[string]any) {
	args := &redis.XAddArgs{Stream: stream, Values: values}
	if b.cfg.StreamMaxLen > 0 {
		args.MaxLen = b.cfg.StreamMaxLen
		args.Approx = true
	}
	pipe.XAdd(ctx, args)
}

// RecordFix moves the device in the session's geo set and appends the fix to the stream.
func (b *Backend) RecordFix(f *core.Fix) error {
	keys, err := b.currentKeys()
	if err != nil {
		return err
	}
	if err := f.Coordinate.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	pipe := b.client.Pipeline()
	pipe.GeoAdd(ctx, keys.Device, &redis.GeoLocation{
		Name:      deviceMember,
		Longitude: f.Coordinate.Longitude,
		Latitude:  f.Coordinate.Latitude,
	})
	b.xadd(ctx, pipe, keys.Stream, FixValues(f))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record fix: %w", err)
	}
	return nil
}

// RecordPlacements updates marker positions and appends each sample to the stream.
func (b *Backend) RecordPlacements(samples []core.PlacementSample) error {
	keys, err := b.currentKeys()
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	pipe := b.client.Pipeline()
	for _, s := range samples {
		if s.Geo.Validate() == nil {
			pipe.GeoAdd(ctx, keys.Markers, &redis.GeoLocation{
				Name:      s.MarkerID,
				Longitude: s.Geo.Longitude,
				Latitude:  s.Geo.Latitude,
			})
		} else {
			b.log.Warn().Str("marker", s.MarkerID).Msg("Skipping geo update for invalid marker coordinate")
		}
		b.xadd(ctx, pipe, keys.Stream, PlacementValues(s))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record placements: %w", err)
	}
	return nil
}

// Nearby returns the markers within radius meters of the device's latest position.
func (b *Backend) Nearby(ctx context.Context, radius float64) ([]string, error) {
	keys, err := b.currentKeys()
	if err != nil {
		return nil, err
	}
	pos, err := b.client.GeoPos(ctx, keys.Device, deviceMember).Result()
	if err != nil {
		return nil, err
	}
	if len(pos) == 0 || pos[0] == nil {
		return nil, nil
	}

	locs, err := b.client.GeoSearch(ctx, keys.Markers, &redis.GeoSearchQuery{
		Longitude:  pos[0].Longitude,
		Latitude:   pos[0].Latitude,
		Radius:     radius,
		RadiusUnit: "m",
		Sort:       "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	return locs, nil
}
