package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/internal/config"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/internal/influx"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/internal/journal"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/internal/journal/gormjournal"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/internal/journal/memory"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/internal/journal/redisjournal"
	wsjournal "github.com/silverbullet1472/Amap-GPS-ARLocation/internal/journal/websocket"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	os.Exit(m.Run())
}

func TestNewJournalPaths(t *testing.T) {
	start := time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)
	paths := newJournalPaths("logs", start)

	assert.Equal(t, filepath.Join("logs", "arlocation_journal_20260301_083000.db"), paths.sqliteDump)
	assert.Equal(t, filepath.Join("logs", "arlocation_influx_backup_20260301_083000.log.gz"), paths.influxBackup)
}

func TestCreateJournalBackend_Types(t *testing.T) {
	paths := newJournalPaths(t.TempDir(), time.Now())

	tests := []struct {
		typ   string
		check func(t *testing.T, b journal.Backend)
	}{
		{"memory", func(t *testing.T, b journal.Backend) {
			assert.IsType(t, &memory.Backend{}, b)
		}},
		{"none", func(t *testing.T, b journal.Backend) {
			assert.Equal(t, journal.Nop{}, b)
		}},
		{"influx", func(t *testing.T, b journal.Backend) {
			assert.IsType(t, &influx.Backend{}, b)
		}},
		{"redis", func(t *testing.T, b journal.Backend) {
			assert.IsType(t, &redisjournal.Backend{}, b)
		}},
		{"websocket", func(t *testing.T, b journal.Backend) {
			assert.IsType(t, &wsjournal.Backend{}, b)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			b, err := createJournalBackend(config.JournalConfig{Type: tt.typ}, paths, zerolog.Nop())
			require.NoError(t, err)
			tt.check(t, b)
		})
	}
}

func TestCreateJournalBackend_SQLiteFile(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	cfg := config.JournalConfig{
		Type:   "sqlite",
		SQLite: config.SQLiteConfig{Path: dbPath},
	}

	b, err := createJournalBackend(cfg, newJournalPaths(t.TempDir(), time.Now()), zerolog.Nop())
	require.NoError(t, err)
	require.IsType(t, &gormjournal.Backend{}, b)

	require.NoError(t, b.Init())
	require.NoError(t, b.StartSession(core.NewSession("replay", time.Now())))
	require.NoError(t, b.EndSession())
	require.NoError(t, b.Close())

	_, err = os.Stat(dbPath)
	assert.NoError(t, err)
}
