package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/internal/config"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/internal/influx"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/internal/journal"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/internal/journal/gormjournal"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/internal/journal/memory"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/internal/journal/redisjournal"
	wsjournal "github.com/silverbullet1472/Amap-GPS-ARLocation/internal/journal/websocket"
)

// memoryJournalLimit caps fixes and placements kept per session by the memory journal.
const memoryJournalLimit = 10_000

// journalPaths are the files a journal backend may write next to the logs.
type journalPaths struct {
	sqliteDump   string
	influxBackup string
}

func newJournalPaths(logsDir string, start time.Time) journalPaths {
	stamp := start.Format("20060102_150405")
	return journalPaths{
		sqliteDump:   filepath.Join(logsDir, fmt.Sprintf("%s_journal_%s.db", ExtensionName, stamp)),
		influxBackup: filepath.Join(logsDir, fmt.Sprintf("%s_influx_backup_%s.log.gz", ExtensionName, stamp)),
	}
}

func createJournalBackend(cfg config.JournalConfig, paths journalPaths, zl zerolog.Logger) (journal.Backend, error) {
	switch cfg.Type {
	case "sqlite":
		db, err := gormjournal.OpenSQLite(cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite journal: %w", err)
		}
		var dump gormjournal.Config
		if cfg.SQLite.Path == "" {
			dump = gormjournal.Config{
				DumpPath:     paths.sqliteDump,
				DumpInterval: cfg.SQLite.DumpInterval,
			}
		}
		backend, err := gormjournal.New(db, dump, zl)
		if err != nil {
			return nil, fmt.Errorf("failed to create sqlite journal: %w", err)
		}
		Logger.Info("SQLite journal backend initialized", "path", cfg.SQLite.Path, "dumpPath", dump.DumpPath)
		return backend, nil

	case "postgres":
		db, err := gormjournal.OpenPostgres(gormjournal.PostgresConfig{
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Username: cfg.Postgres.Username,
			Password: cfg.Postgres.Password,
			Database: cfg.Postgres.Database,
			SSLMode:  cfg.Postgres.SSLMode,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		backend, err := gormjournal.New(db, gormjournal.Config{}, zl)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres journal: %w", err)
		}
		Logger.Info("Postgres journal backend initialized", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		return backend, nil

	case "influx":
		Logger.Info("InfluxDB journal backend initialized", "host", cfg.Influx.Host, "bucket", cfg.Influx.Bucket)
		return influx.New(influx.Config{
			Host:       cfg.Influx.Host,
			Port:       cfg.Influx.Port,
			Protocol:   cfg.Influx.Protocol,
			Token:      cfg.Influx.Token,
			Org:        cfg.Influx.Org,
			Bucket:     cfg.Influx.Bucket,
			BackupPath: paths.influxBackup,
		}, zl), nil

	case "redis":
		Logger.Info("Redis journal backend initialized", "address", cfg.Redis.Address)
		return redisjournal.New(redisjournal.Config{
			Addr:         cfg.Redis.Address,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			StreamMaxLen: cfg.Redis.StreamMaxLen,
			TTL:          cfg.Redis.TTL,
		}, zl), nil

	case "websocket":
		Logger.Info("WebSocket journal backend initialized", "url", cfg.WebSocket.URL)
		return wsjournal.New(wsjournal.Config{
			URL:    cfg.WebSocket.URL,
			Secret: cfg.WebSocket.Secret,
		}, Logger), nil

	case "none":
		Logger.Info("Journal disabled")
		return journal.Nop{}, nil

	default:
		Logger.Info("Memory journal backend initialized")
		return memory.New(memoryJournalLimit), nil
	}
}
