// Package influx implements journal.Backend on InfluxDB. Fixes and
// placement samples become points in a single bucket; when the server is
// unreachable at Init, points go to a gzipped line-protocol backup file.
package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/rs/zerolog"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/internal/geo"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/internal/journal"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/pkg/core"
)

// Measurement names.
const (
	MeasurementFix       = "fix"
	MeasurementPlacement = "placement"
	MeasurementSession   = "session"
)

// retention of a bucket created by Init
const bucketRetentionSeconds = 60 * 60 * 24 * 90

// Config holds InfluxDB connection settings.
type Config struct {
	Host       string
	Port       string
	Protocol   string
	Token      string
	Org        string
	Bucket     string
	BackupPath string // gzipped line protocol written while the server is unreachable
}

// URL returns the server address.
func (c Config) URL() string {
	protocol := c.Protocol
	if protocol == "" {
		protocol = "http"
	}
	return fmt.Sprintf("%s://%s:%s", protocol, c.Host, c.Port)
}

// Backend writes journal points to InfluxDB or a backup file.
type Backend struct {
	cfg    Config
	logger zerolog.Logger

	client       influxdb2.Client
	writer       influxdb2_api.WriteAPI
	backupFile   *os.File
	backupWriter *gzip.Writer

	mu      sync.Mutex
	session string
}

// New creates an influx backend. Nothing is contacted until Init.
func New(cfg Config, logger zerolog.Logger) *Backend {
	return &Backend{cfg: cfg, logger: logger}
}

// Online reports whether points go to the server rather than the backup file.
func (b *Backend) Online() bool {
	return b.writer != nil
}

// Init connects to InfluxDB, ensuring the org and bucket exist. If the server
// does not answer a ping, points are written to the backup file instead.
func (b *Backend) Init() error {
	b.client = influxdb2.NewClientWithOptions(
		b.cfg.URL(),
		b.cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(2500).
			SetFlushInterval(1000),
	)

	// validate client connection health
	running, err := b.client.Ping(context.Background())
	if err != nil || !running {
		b.client.Close()
		b.client = nil
		if b.cfg.BackupPath == "" {
			return fmt.Errorf("influxdb unreachable at %s and no backup path set: %v", b.cfg.URL(), err)
		}
		return b.openBackup()
	}

	if err := b.setupOrganizationAndBucket(); err != nil {
		return err
	}

	b.writer = b.client.WriteAPI(b.cfg.Org, b.cfg.Bucket)
	go func(errorsCh <-chan error) {
		for writeErr := range errorsCh {
			b.logger.Error().Err(writeErr).Str("bucket", b.cfg.Bucket).
				Msg("Error sending data to InfluxDB")
		}
	}(b.writer.Errors())

	b.logger.Info().Str("url", b.cfg.URL()).Str("bucket", b.cfg.Bucket).Msg("InfluxDB client initialized")
	return nil
}

func (b *Backend) openBackup() error {
	file, err := os.OpenFile(b.cfg.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("error creating backup file: %w", err)
	}
	b.backupFile = file
	b.backupWriter = gzip.NewWriter(file)
	b.logger.Warn().Str("backupPath", b.cfg.BackupPath).
		Msg("InfluxDB unreachable, writing to backup file")
	return nil
}

func (b *Backend) setupOrganizationAndBucket() error {
	ctx := context.Background()

	// ensure org exists
	org, err := b.client.OrganizationsAPI().FindOrganizationByName(ctx, b.cfg.Org)
	if err != nil {
		b.logger.Info().Str("org", b.cfg.Org).Msg("Organization not found, creating")
		org, err = b.client.OrganizationsAPI().CreateOrganizationWithName(ctx, b.cfg.Org)
		if err != nil {
			return fmt.Errorf("creating organization %q: %w", b.cfg.Org, err)
		}
	}

	if _, err := b.client.BucketsAPI().FindBucketByName(ctx, b.cfg.Bucket); err != nil {
		b.logger.Info().Str("bucket", b.cfg.Bucket).Msg("Bucket not found, creating")

		rule := domain.RetentionRuleTypeExpire
		_, err = b.client.BucketsAPI().CreateBucketWithName(ctx, org, b.cfg.Bucket, domain.RetentionRule{
			Type:         &rule,
			EverySeconds: bucketRetentionSeconds,
		})
		if err != nil {
			return fmt.Errorf("creating bucket %q: %w", b.cfg.Bucket, err)
		}
	}
	return nil
}

// Close flushes pending points and releases the client or backup file.
func (b *Backend) Close() error {
	if b.writer != nil {
		b.writer.Flush()
		b.writer = nil
	}
	if b.client != nil {
		b.client.Close()
		b.client = nil
	}

	var errs []error
	if b.backupWriter != nil {
		errs = append(errs, b.backupWriter.Close())
		b.backupWriter = nil
	}
	if b.backupFile != nil {
		errs = append(errs, b.backupFile.Close())
		b.backupFile = nil
	}
	return errors.Join(errs...)
}

// StartSession writes a session start marker point.
func (b *Backend) StartSession(s *core.Session) error {
	b.mu.Lock()
	b.session = s.ID.String()
	b.mu.Unlock()

	point := influxdb2_write.NewPoint(MeasurementSession,
		map[string]string{"session": s.ID.String(), "provider": s.Provider},
		map[string]interface{}{"event": "start", "markers": s.Markers},
		s.StartedAt,
	)
	return b.WritePoint(point)
}

// EndSession writes a session end marker point.
func (b *Backend) EndSession() error {
	b.mu.Lock()
	session := b.session
	b.session = ""
	b.mu.Unlock()

	if session == "" {
		return journal.ErrNoSession
	}
	point := influxdb2_write.NewPoint(MeasurementSession,
		map[string]string{"session": session},
		map[string]interface{}{"event": "end"},
		time.Now(),
	)
	return b.WritePoint(point)
}

func (b *Backend) currentSession() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == "" {
		return "", journal.ErrNoSession
	}
	return b.session, nil
}

// FixPoint converts a fix into a point tagged with its session and provider.
func FixPoint(session string, f *core.Fix) (*influxdb2_write.Point, error) {
	mercator, err := geo.PointFromCoordinate(f.Coordinate)
	if err != nil {
		return nil, err
	}
	xy, _ := mercator.XY()

	point := influxdb2_write.NewPointWithMeasurement(MeasurementFix).
		AddTag("session", session).
		AddTag("provider", f.Provider).
		AddField("latitude", f.Coordinate.Latitude).
		AddField("longitude", f.Coordinate.Longitude).
		AddField("raw_latitude", f.Raw.Latitude).
		AddField("raw_longitude", f.Raw.Longitude).
		AddField("x", xy.X).
		AddField("y", xy.Y).
		AddField("accuracy", f.Accuracy).
		AddField("location_type", f.LocationType).
		SetTime(f.ReceivedAt)
	if f.Address != "" {
		point.AddField("address", f.Address)
	}
	return point, nil
}

// PlacementPoint converts a sample into a point tagged with its session and marker.
func PlacementPoint(session string, s core.PlacementSample) *influxdb2_write.Point {
	return influxdb2_write.NewPointWithMeasurement(MeasurementPlacement).
		AddTag("session", session).
		AddTag("marker", s.MarkerID).
		AddField("distance_gps", s.DistanceInGPS).
		AddField("distance_ar", s.DistanceInAR).
		AddField("scale", s.Scale).
		AddField("offset", s.Offset).
		AddField("scene_x", s.Position.X).
		AddField("scene_y", s.Position.Y).
		AddField("scene_z", s.Position.Z).
		SetTime(s.Time)
}

// RecordFix writes one fix point.
func (b *Backend) RecordFix(f *core.Fix) error {
	session, err := b.currentSession()
	if err != nil {
		return err
	}
	point, err := FixPoint(session, f)
	if err != nil {
		return err
	}
	return b.WritePoint(point)
}

// RecordPlacements writes one point per sample.
func (b *Backend) RecordPlacements(samples []core.PlacementSample) error {
	session, err := b.currentSession()
	if err != nil {
		return err
	}
	for _, s := range samples {
		if err := b.WritePoint(PlacementPoint(session, s)); err != nil {
			return err
		}
	}
	return nil
}

// WritePoint writes a point to InfluxDB or the backup file.
func (b *Backend) WritePoint(point *influxdb2_write.Point) error {
	if b.writer != nil {
		b.writer.WritePoint(point)
		return nil
	}
	if b.backupWriter == nil {
		return fmt.Errorf("influxDB client not initialized and backup writer not available")
	}

	lineProtocol := strings.TrimRight(influxdb2_write.PointToLineProtocol(point, time.Nanosecond), "\n")
	if _, err := b.backupWriter.Write([]byte(lineProtocol + "\n")); err != nil {
		return fmt.Errorf("error writing to InfluxDB backup file: %w", err)
	}
	return nil
}
