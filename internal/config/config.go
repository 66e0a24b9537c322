package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/silverbullet1472/Amap-GPS-ARLocation/internal/driver"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/internal/placement"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/pkg/core"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// FileName is the config file looked up in the config directory.
const FileName = "arlocation.cfg.json"

// ErrInvalid is wrapped by every validation error returned from the getters.
var ErrInvalid = errors.New("invalid configuration")

// LoggingConfig holds log destinations.
type LoggingConfig struct {
	Level          string
	Dir            string
	GraylogEnabled bool
	GraylogAddress string
}

// SceneConfig is the placement configuration plus the simulated frame rate.
type SceneConfig struct {
	Placement placement.Config
	FrameRate int
}

// LocationConfig describes the replayed location track.
type LocationConfig struct {
	Track        string
	Datum        core.Datum
	Interval     time.Duration
	Loop         bool
	Accuracy     float64
	Address      string
	LocationType int
	StaleAfter   time.Duration
	// Failures maps a replay step to the provider error code delivered in its place.
	Failures map[int]int
}

// ReplayFailure is one scripted provider error in the config file.
type ReplayFailure struct {
	Step int `json:"step" mapstructure:"step"`
	Code int `json:"code" mapstructure:"code"`
}

// MaxFrameRate bounds scene.frameRate so the frame period stays above zero.
const MaxFrameRate = 1000

// SQLiteConfig holds sqlite journal settings. An empty path keeps the journal
// in memory, dumped to the logs directory every DumpInterval.
type SQLiteConfig struct {
	Path         string        `json:"path" mapstructure:"path"`
	DumpInterval time.Duration `json:"dumpInterval" mapstructure:"dumpInterval"`
}

// PostgresConfig holds postgres journal connection settings.
type PostgresConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
	SSLMode  string `json:"sslMode" mapstructure:"sslMode"`
}

// InfluxConfig holds InfluxDB journal settings.
type InfluxConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Protocol string `json:"protocol" mapstructure:"protocol"`
	Token    string `json:"token" mapstructure:"token"`
	Org      string `json:"org" mapstructure:"org"`
	Bucket   string `json:"bucket" mapstructure:"bucket"`
}

// RedisConfig holds Redis journal settings.
type RedisConfig struct {
	Address      string        `json:"address" mapstructure:"address"`
	Password     string        `json:"password" mapstructure:"password"`
	DB           int           `json:"db" mapstructure:"db"`
	StreamMaxLen int64         `json:"streamMaxLen" mapstructure:"streamMaxLen"`
	TTL          time.Duration `json:"ttl" mapstructure:"ttl"`
}

// WebSocketConfig holds the live stream endpoint.
type WebSocketConfig struct {
	URL    string `json:"url" mapstructure:"url"`
	Secret string `json:"secret" mapstructure:"secret"`
}

// JournalConfig selects and configures the diagnostic journal backend.
type JournalConfig struct {
	Type          string
	FlushInterval time.Duration
	SQLite        SQLiteConfig
	Postgres      PostgresConfig
	Influx        InfluxConfig
	Redis         RedisConfig
	WebSocket     WebSocketConfig
}

// OTelConfig holds OpenTelemetry settings.
type OTelConfig struct {
	Enabled        bool
	ServiceName    string
	BatchTimeout   time.Duration
	MetricInterval time.Duration
	Endpoint       string
	Insecure       bool
}

// DiagConfig holds the diagnostics HTTP server settings.
type DiagConfig struct {
	Enabled     bool
	Address     string
	TokenSecret string
}

// MarkerConfig is one catalog entry as written in the config file.
type MarkerConfig struct {
	ID              string  `json:"id" mapstructure:"id"`
	Name            string  `json:"name" mapstructure:"name"`
	Latitude        float64 `json:"latitude" mapstructure:"latitude"`
	Longitude       float64 `json:"longitude" mapstructure:"longitude"`
	Datum           string  `json:"datum" mapstructure:"datum"`
	ScalingMode     string  `json:"scalingMode" mapstructure:"scalingMode"`
	ScaleModifier   float64 `json:"scaleModifier" mapstructure:"scaleModifier"`
	GradualMinScale float64 `json:"gradualMinScale" mapstructure:"gradualMinScale"`
	GradualMaxScale float64 `json:"gradualMaxScale" mapstructure:"gradualMaxScale"`
}

// SetDefaults registers the default value of every key.
func SetDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("scene.distanceLimit", 30)
	viper.SetDefault("scene.offsetOverlapping", false)
	viper.SetDefault("scene.minimalRefreshing", false)
	viper.SetDefault("scene.overlapStep", placement.DefaultOverlapStep)
	viper.SetDefault("scene.frameRate", 30)

	viper.SetDefault("driver.anchorRefreshInterval", "5s")
	viper.SetDefault("driver.renderRadius", 25)
	viper.SetDefault("driver.heightAdjustment", 0)
	viper.SetDefault("driver.sampleInterval", "1s")

	viper.SetDefault("location.track", "")
	viper.SetDefault("location.datum", "GCJ02")
	viper.SetDefault("location.interval", "1s")
	viper.SetDefault("location.loop", true)
	viper.SetDefault("location.accuracy", 10)
	viper.SetDefault("location.address", "")
	viper.SetDefault("location.locationType", 1)
	viper.SetDefault("location.staleAfter", "10s")

	viper.SetDefault("journal.type", "memory")
	viper.SetDefault("journal.flushInterval", "2s")
	viper.SetDefault("journal.sqlite.path", "")
	viper.SetDefault("journal.sqlite.dumpInterval", "1m")
	viper.SetDefault("journal.postgres.host", "localhost")
	viper.SetDefault("journal.postgres.port", "5432")
	viper.SetDefault("journal.postgres.username", "postgres")
	viper.SetDefault("journal.postgres.password", "postgres")
	viper.SetDefault("journal.postgres.database", "arlocation")
	viper.SetDefault("journal.postgres.sslMode", "disable")
	viper.SetDefault("journal.influx.host", "localhost")
	viper.SetDefault("journal.influx.port", "8086")
	viper.SetDefault("journal.influx.protocol", "http")
	viper.SetDefault("journal.influx.token", "supersecrettoken")
	viper.SetDefault("journal.influx.org", "arlocation")
	viper.SetDefault("journal.influx.bucket", "arlocation")
	viper.SetDefault("journal.redis.address", "localhost:6379")
	viper.SetDefault("journal.redis.password", "")
	viper.SetDefault("journal.redis.db", 0)
	viper.SetDefault("journal.redis.streamMaxLen", 100_000)
	viper.SetDefault("journal.redis.ttl", "168h")
	viper.SetDefault("journal.websocket.url", "ws://localhost:5000/api/stream")
	viper.SetDefault("journal.websocket.secret", "")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "arlocation")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.metricInterval", "15s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("diag.enabled", true)
	viper.SetDefault("diag.address", "127.0.0.1:8089")
	viper.SetDefault("diag.tokenSecret", "")

	viper.SetDefault("markers", []any{})
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	SetDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

// BindFlags lets command line flags override config keys of the same name.
func BindFlags(fs *pflag.FlagSet) error {
	return viper.BindPFlags(fs)
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetLoggingConfig returns the log settings.
func GetLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:          viper.GetString("logLevel"),
		Dir:            viper.GetString("logsDir"),
		GraylogEnabled: viper.GetBool("graylog.enabled"),
		GraylogAddress: viper.GetString("graylog.address"),
	}
}

// GetSceneConfig returns the validated placement configuration.
func GetSceneConfig() (SceneConfig, error) {
	cfg := SceneConfig{
		Placement: placement.Config{
			DistanceLimit:     viper.GetFloat64("scene.distanceLimit"),
			OffsetOverlapping: viper.GetBool("scene.offsetOverlapping"),
			MinimalRefreshing: viper.GetBool("scene.minimalRefreshing"),
			OverlapStep:       viper.GetFloat64("scene.overlapStep"),
		},
		FrameRate: viper.GetInt("scene.frameRate"),
	}
	if err := cfg.Placement.Validate(); err != nil {
		return SceneConfig{}, fmt.Errorf("%w: scene: %w", ErrInvalid, err)
	}
	if cfg.FrameRate <= 0 || cfg.FrameRate > MaxFrameRate {
		return SceneConfig{}, fmt.Errorf("%w: scene.frameRate must be in 1..%d, got %d", ErrInvalid, MaxFrameRate, cfg.FrameRate)
	}
	return cfg, nil
}

// GetDriverConfig returns the validated scene driver configuration.
func GetDriverConfig() (driver.Config, error) {
	cfg := driver.Config{
		AnchorRefreshInterval: viper.GetDuration("driver.anchorRefreshInterval"),
		RenderRadius:          viper.GetFloat64("driver.renderRadius"),
		HeightAdjustment:      viper.GetFloat64("driver.heightAdjustment"),
		SampleInterval:        viper.GetDuration("driver.sampleInterval"),
	}
	if err := cfg.Validate(); err != nil {
		return driver.Config{}, fmt.Errorf("%w: driver: %w", ErrInvalid, err)
	}
	return cfg, nil
}

// GetLocationConfig returns the replay settings.
func GetLocationConfig() (LocationConfig, error) {
	datum, err := core.ParseDatum(viper.GetString("location.datum"))
	if err != nil {
		return LocationConfig{}, fmt.Errorf("%w: location.datum: %w", ErrInvalid, err)
	}
	cfg := LocationConfig{
		Track:        viper.GetString("location.track"),
		Datum:        datum,
		Interval:     viper.GetDuration("location.interval"),
		Loop:         viper.GetBool("location.loop"),
		Accuracy:     viper.GetFloat64("location.accuracy"),
		Address:      viper.GetString("location.address"),
		LocationType: viper.GetInt("location.locationType"),
		StaleAfter:   viper.GetDuration("location.staleAfter"),
	}
	if cfg.Interval <= 0 {
		return LocationConfig{}, fmt.Errorf("%w: location.interval must be positive, got %v", ErrInvalid, cfg.Interval)
	}
	if cfg.StaleAfter <= 0 {
		return LocationConfig{}, fmt.Errorf("%w: location.staleAfter must be positive, got %v", ErrInvalid, cfg.StaleAfter)
	}

	var failures []ReplayFailure
	if err := viper.UnmarshalKey("location.failures", &failures); err != nil {
		return LocationConfig{}, fmt.Errorf("%w: location.failures: %w", ErrInvalid, err)
	}
	if len(failures) > 0 {
		cfg.Failures = make(map[int]int, len(failures))
	}
	for i, f := range failures {
		if f.Step < 0 || f.Code == 0 {
			return LocationConfig{}, fmt.Errorf("%w: location.failures[%d]: step must be >= 0 and code non-zero, got %d/%d", ErrInvalid, i, f.Step, f.Code)
		}
		cfg.Failures[f.Step] = f.Code
	}
	return cfg, nil
}

// GetJournalConfig returns the journal backend settings.
func GetJournalConfig() (JournalConfig, error) {
	cfg := JournalConfig{
		Type:          strings.ToLower(viper.GetString("journal.type")),
		FlushInterval: viper.GetDuration("journal.flushInterval"),
		SQLite: SQLiteConfig{
			Path:         viper.GetString("journal.sqlite.path"),
			DumpInterval: viper.GetDuration("journal.sqlite.dumpInterval"),
		},
		Postgres: PostgresConfig{
			Host:     viper.GetString("journal.postgres.host"),
			Port:     viper.GetString("journal.postgres.port"),
			Username: viper.GetString("journal.postgres.username"),
			Password: viper.GetString("journal.postgres.password"),
			Database: viper.GetString("journal.postgres.database"),
			SSLMode:  viper.GetString("journal.postgres.sslMode"),
		},
		Influx: InfluxConfig{
			Host:     viper.GetString("journal.influx.host"),
			Port:     viper.GetString("journal.influx.port"),
			Protocol: viper.GetString("journal.influx.protocol"),
			Token:    viper.GetString("journal.influx.token"),
			Org:      viper.GetString("journal.influx.org"),
			Bucket:   viper.GetString("journal.influx.bucket"),
		},
		Redis: RedisConfig{
			Address:      viper.GetString("journal.redis.address"),
			Password:     viper.GetString("journal.redis.password"),
			DB:           viper.GetInt("journal.redis.db"),
			StreamMaxLen: viper.GetInt64("journal.redis.streamMaxLen"),
			TTL:          viper.GetDuration("journal.redis.ttl"),
		},
		WebSocket: WebSocketConfig{
			URL:    viper.GetString("journal.websocket.url"),
			Secret: viper.GetString("journal.websocket.secret"),
		},
	}
	switch cfg.Type {
	case "memory", "sqlite", "postgres", "influx", "redis", "websocket", "none":
	default:
		return JournalConfig{}, fmt.Errorf("%w: unknown journal type %q", ErrInvalid, cfg.Type)
	}
	if cfg.FlushInterval <= 0 {
		return JournalConfig{}, fmt.Errorf("%w: journal.flushInterval must be positive, got %v", ErrInvalid, cfg.FlushInterval)
	}
	return cfg, nil
}

// GetOTelConfig returns the OpenTelemetry settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:        viper.GetBool("otel.enabled"),
		ServiceName:    viper.GetString("otel.serviceName"),
		BatchTimeout:   viper.GetDuration("otel.batchTimeout"),
		MetricInterval: viper.GetDuration("otel.metricInterval"),
		Endpoint:       viper.GetString("otel.endpoint"),
		Insecure:       viper.GetBool("otel.insecure"),
	}
}

// GetDiagConfig returns the diagnostics server settings.
func GetDiagConfig() DiagConfig {
	return DiagConfig{
		Enabled:     viper.GetBool("diag.enabled"),
		Address:     viper.GetString("diag.address"),
		TokenSecret: viper.GetString("diag.tokenSecret"),
	}
}

// GetMarkers decodes the marker catalog. Coordinates keep their configured
// datum; the registry converts GCJ02 entries when they are added.
func GetMarkers() ([]core.Marker, error) {
	var entries []MarkerConfig
	if err := viper.UnmarshalKey("markers", &entries); err != nil {
		return nil, fmt.Errorf("%w: markers: %w", ErrInvalid, err)
	}

	markers := make([]core.Marker, 0, len(entries))
	for i, e := range entries {
		m, err := e.Marker()
		if err != nil {
			return nil, fmt.Errorf("%w: markers[%d]: %w", ErrInvalid, i, err)
		}
		markers = append(markers, m)
	}
	return markers, nil
}

// Marker converts a catalog entry into a marker.
func (e MarkerConfig) Marker() (core.Marker, error) {
	datum, err := core.ParseDatum(e.Datum)
	if err != nil {
		return core.Marker{}, err
	}
	geo, err := core.NewGeoCoordinate(e.Latitude, e.Longitude, datum)
	if err != nil {
		return core.Marker{}, err
	}
	scaling, err := core.ParseScalingMode(e.ScalingMode)
	if err != nil {
		return core.Marker{}, err
	}
	if g, ok := scaling.(core.GradualToMaxRenderDistance); ok {
		if e.GradualMinScale != 0 {
			g.MinScale = e.GradualMinScale
		}
		if e.GradualMaxScale != 0 {
			g.MaxScale = e.GradualMaxScale
		}
		scaling = g
	}
	if math.IsNaN(e.ScaleModifier) || e.ScaleModifier < 0 {
		return core.Marker{}, fmt.Errorf("scale modifier %v must not be negative", e.ScaleModifier)
	}
	return core.Marker{
		ID:            e.ID,
		Name:          e.Name,
		Geo:           geo,
		Scaling:       scaling,
		ScaleModifier: e.ScaleModifier,
	}, nil
}
