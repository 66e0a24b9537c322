// Command arlocation runs the marker placement pipeline against a simulated
// AR session: a replayed GCJ-02 track feeds the location feed, a walking
// camera produces frames, and placements are journaled and served over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/silverbullet1472/Amap-GPS-ARLocation/internal/config"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/internal/diag"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/internal/driver"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/internal/geo"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/internal/journal"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/internal/journal/redisjournal"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/internal/location"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/internal/logging"
	intOtel "github.com/silverbullet1472/Amap-GPS-ARLocation/internal/otel"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/internal/placement"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/internal/registry"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/internal/scene/memscene"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/pkg/core"
)

// module defs - BuildDate can be set at build time via ldflags
var (
	CurrentVersion string = "0.1.0"
	BuildDate      string = "unknown"

	ExtensionName string = "arlocation"
)

const statusInterval = 10 * time.Second

var (
	SlogManager *logging.SlogManager
	Logger      *slog.Logger

	SessionStartTime time.Time

	state runState
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", ExtensionName, err)
		os.Exit(1)
	}
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet(ExtensionName, pflag.ContinueOnError)
	fs.String("config", ".", "directory containing "+config.FileName)
	fs.String("logLevel", "", "log level (debug, info, warn, error)")
	fs.String("logsDir", "", "directory for log and journal files; empty logs to stdout")
	fs.String("location.track", "", `replay track as JSON [[lon,lat],...]`)
	fs.String("journal.type", "", "journal backend: memory, sqlite, postgres, influx, redis, websocket, none")
	fs.String("diag.address", "", "diagnostics listen address")
	fs.Duration("issue-token", 0, "print a diagnostics token valid for this long and exit")
	return fs
}

func run(args []string) error {
	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return err
	}
	configDir, _ := fs.GetString("config")

	if err := config.Load(configDir); err != nil {
		return err
	}
	if err := config.BindFlags(fs); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}

	if ttl, _ := fs.GetDuration("issue-token"); ttl > 0 {
		return printToken(ttl)
	}

	SessionStartTime = time.Now()
	logCfg := config.GetLoggingConfig()

	// log file, or stdout when no logs dir is set
	var logFile *os.File
	if logCfg.Dir != "" {
		if err := os.MkdirAll(logCfg.Dir, 0o755); err != nil {
			return fmt.Errorf("creating logs dir: %w", err)
		}
		f, err := os.OpenFile(logging.LogFilePath(logCfg.Dir, logging.ServiceName, SessionStartTime),
			os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		defer f.Close()
		logFile = f
	}

	otelProvider, otelFiles, err := setupOTel(logCfg.Dir)
	if err != nil {
		return err
	}
	defer func() {
		for _, f := range otelFiles {
			f.Close()
		}
	}()

	var setupOpts []logging.SetupOption
	setupOpts = append(setupOpts, logging.WithSession(&state))
	var graylogErr error
	if logCfg.GraylogEnabled {
		gw, err := logging.NewGraylogWriter(logCfg.GraylogAddress)
		if err != nil {
			graylogErr = err
		} else {
			defer gw.Close()
			setupOpts = append(setupOpts, logging.WithGraylog(gw))
		}
	}

	// a typed nil *os.File must not reach Setup as a non-nil io.Writer
	var logWriter io.Writer
	if logFile != nil {
		logWriter = logFile
	}

	SlogManager = logging.NewSlogManager()
	SlogManager.Setup(logWriter, logCfg.Level, otelProvider.LoggerProvider(), setupOpts...)
	Logger = SlogManager.Logger()
	if graylogErr != nil {
		Logger.Warn("Graylog output disabled", "address", logCfg.GraylogAddress, "error", graylogErr)
	}
	Logger.Info("Starting up",
		"version", CurrentVersion,
		"buildDate", BuildDate,
		"otel", otelProvider.Enabled(),
	)

	// infra backends log through zerolog to the same destination
	var zlWriter io.Writer = os.Stdout
	if logFile != nil {
		zlWriter = logFile
	}
	zl := logging.NewZerolog(zlWriter, logCfg.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := simulate(ctx, logCfg.Dir, zl)
	if runErr != nil {
		Logger.Error("Simulation failed", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := otelProvider.Shutdown(shutdownCtx); err != nil {
		Logger.Warn("Failed to shut down OpenTelemetry", "error", err)
	}
	return runErr
}

// printToken writes a bearer token for the diagnostics endpoints to stdout.
func printToken(ttl time.Duration) error {
	secret := config.GetDiagConfig().TokenSecret
	if secret == "" {
		return errors.New("diag.tokenSecret is not set")
	}
	token, err := diag.IssueToken([]byte(secret), ExtensionName, ttl)
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}
	fmt.Println(token)
	return nil
}

// setupOTel creates the OTel provider. Log and metric dumps go next to the
// session log when a logs dir is set.
func setupOTel(logsDir string) (*intOtel.Provider, []*os.File, error) {
	otelCfg := config.GetOTelConfig()
	cfg := intOtel.Config{
		Enabled:        otelCfg.Enabled,
		ServiceName:    otelCfg.ServiceName,
		BatchTimeout:   otelCfg.BatchTimeout,
		MetricInterval: otelCfg.MetricInterval,
		Endpoint:       otelCfg.Endpoint,
		Insecure:       otelCfg.Insecure,
	}

	var files []*os.File
	if otelCfg.Enabled && logsDir != "" {
		stamp := SessionStartTime.Format("20060102_150405")
		logFile, err := os.Create(filepath.Join(logsDir, fmt.Sprintf("%s.%s.otel.jsonl", ExtensionName, stamp)))
		if err != nil {
			return nil, nil, fmt.Errorf("creating otel log file: %w", err)
		}
		metricFile, err := os.Create(filepath.Join(logsDir, fmt.Sprintf("%s.%s.metrics.jsonl", ExtensionName, stamp)))
		if err != nil {
			logFile.Close()
			return nil, nil, fmt.Errorf("creating otel metrics file: %w", err)
		}
		cfg.LogWriter = logFile
		cfg.MetricWriter = metricFile
		files = append(files, logFile, metricFile)
	}

	p, err := intOtel.New(cfg)
	if err != nil {
		for _, f := range files {
			f.Close()
		}
		return nil, nil, fmt.Errorf("initializing OpenTelemetry: %w", err)
	}
	return p, files, nil
}

// runState is the live session and feed, stamped on every log record.
type runState struct {
	session atomic.Pointer[core.Session]
	feed    atomic.Pointer[location.Feed]
}

func (s *runState) SessionID() string {
	if sess := s.session.Load(); sess != nil {
		return sess.ID.String()
	}
	return ""
}

func (s *runState) FixAge() (time.Duration, bool) {
	if feed := s.feed.Load(); feed != nil {
		return feed.Age()
	}
	return 0, false
}

// simulate wires the pipeline and runs the frame loop until ctx is cancelled.
func simulate(ctx context.Context, logsDir string, zl zerolog.Logger) error {
	sceneCfg, err := config.GetSceneConfig()
	if err != nil {
		return err
	}
	driverCfg, err := config.GetDriverConfig()
	if err != nil {
		return err
	}
	locCfg, err := config.GetLocationConfig()
	if err != nil {
		return err
	}
	journalCfg, err := config.GetJournalConfig()
	if err != nil {
		return err
	}
	markers, err := config.GetMarkers()
	if err != nil {
		return err
	}
	if locCfg.Track == "" {
		return errors.New("location.track is required")
	}
	track, err := geo.ParsePolyline(locCfg.Track, locCfg.Datum)
	if err != nil {
		return fmt.Errorf("parsing location.track: %w", err)
	}

	// registry and scene
	reg := registry.New()
	for _, m := range markers {
		if _, err := reg.Add(m); err != nil {
			return fmt.Errorf("adding marker %q: %w", m.ID, err)
		}
	}
	graph := memscene.New()
	defer graph.Close()

	engine, err := placement.New(reg, graph, sceneCfg.Placement)
	if err != nil {
		return err
	}

	// journal
	session := core.NewSession(location.ReplayProviderName, SessionStartTime)
	session.Version = CurrentVersion
	session.Markers = len(markers)
	if host, err := os.Hostname(); err == nil {
		session.Host = host
	}

	backend, err := createJournalBackend(journalCfg, newJournalPaths(logsDir, SessionStartTime), zl)
	if err != nil {
		return err
	}
	writer, err := journal.NewWriter(backend,
		journal.WithLogger(logging.NewZerologAdapter(zl)),
		journal.WithFlushInterval(journalCfg.FlushInterval),
	)
	if err != nil {
		return err
	}
	if err := writer.Start(session); err != nil {
		return fmt.Errorf("starting journal: %w", err)
	}
	state.session.Store(session)
	defer func() {
		if err := writer.Close(); err != nil {
			Logger.Error("Failed to close journal", "error", err)
		}
		state.session.Store(nil)
	}()

	// location
	provider, err := location.NewReplayProvider(track, location.ReplayConfig{
		Interval:     locCfg.Interval,
		Loop:         locCfg.Loop,
		Accuracy:     locCfg.Accuracy,
		Address:      locCfg.Address,
		LocationType: locCfg.LocationType,
		Errors:       locCfg.Failures,
	})
	if err != nil {
		return err
	}
	feed, err := location.Open(ctx, provider,
		location.WithLogger(Logger),
		location.WithSink(writer.RecordFix),
	)
	if err != nil {
		return fmt.Errorf("opening location feed: %w", err)
	}
	state.feed.Store(feed)
	defer func() {
		state.feed.Store(nil)
		if err := feed.Stop(); err != nil {
			Logger.Warn("Failed to stop location feed", "error", err)
		}
	}()

	drv, err := driver.New(feed, reg, graph, engine, driverCfg,
		driver.WithLogger(Logger),
		driver.WithSampler(writer),
	)
	if err != nil {
		return err
	}

	Logger.Info("Simulation started",
		"session", session.ID.String(),
		"markers", reg.Len(),
		"trackPoints", len(track),
		"frameRate", sceneCfg.FrameRate,
		"journal", journalCfg.Type,
	)

	g, gctx := errgroup.WithContext(ctx)

	diagCfg := config.GetDiagConfig()
	if diagCfg.Enabled {
		diagOpts := []diag.Option{
			diag.WithStaleAfter(locCfg.StaleAfter),
			diag.WithLogger(Logger),
			diag.WithSession(func() string { return session.ID.String() }),
			diag.WithTokenSecret([]byte(diagCfg.TokenSecret)),
		}
		if rj, ok := backend.(*redisjournal.Backend); ok {
			diagOpts = append(diagOpts, diag.WithNearby(rj.Nearby))
		}
		srv := diag.New(feed, engine, diagOpts...)
		g.Go(func() error {
			if err := srv.Run(gctx, diagCfg.Address); err != nil {
				return fmt.Errorf("diagnostics server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		frameLoop(gctx, drv, feed, writer, provider.Done(), sceneCfg.FrameRate, locCfg.StaleAfter)
		return nil
	})

	return g.Wait()
}

// frameLoop renders frames at frameRate until ctx is done.
func frameLoop(ctx context.Context, drv *driver.Driver, feed *location.Feed, writer *journal.Writer, replayDone <-chan struct{}, frameRate int, staleAfter time.Duration) {
	ticker := time.NewTicker(time.Second / time.Duration(frameRate))
	defer ticker.Stop()
	status := time.NewTicker(statusInterval)
	defer status.Stop()

	cam := newWalker(0)
	var frames int
	var last placement.Stats

	for {
		select {
		case <-ctx.Done():
			Logger.Info("Simulation stopped", "frames", frames)
			return
		case <-replayDone:
			Logger.Info("Replay track finished, holding last fix")
			replayDone = nil
		case <-status.C:
			if feed.Stale(staleAfter) {
				Logger.Warn("Location fix is stale", "staleAfter", staleAfter)
			}
			pendingFixes, pendingSamples := writer.Pending()
			Logger.Info("Scene status",
				"frames", frames,
				"journalPendingFixes", pendingFixes,
				"journalPendingSamples", pendingSamples,
				"eligible", last.Eligible,
				"updated", last.Updated,
				"skippedNoFix", last.SkippedNoFix,
				"skippedUntracked", last.SkippedUntracked,
				"offset", last.Offset,
			)
		case now := <-ticker.C:
			last = drv.ProcessFrame(cam.Frame(now, feed.Current()))
			frames++
		}
	}
}
