package influx

import (
	"bufio"
	"compress/gzip"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/internal/journal"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Compile-time interface check
var _ journal.Backend = (*Backend)(nil)

// unreachable points at a closed local port so Ping fails fast.
func unreachable(backup string) Config {
	return Config{
		Host:       "127.0.0.1",
		Port:       "1",
		Protocol:   "http",
		Org:        "arlocation",
		Bucket:     "arlocation",
		BackupPath: backup,
	}
}

func testFix() *core.Fix {
	return &core.Fix{
		Coordinate:   core.GeoCoordinate{Latitude: 30.5204, Longitude: 114.3484},
		Raw:          core.GeoCoordinate{Latitude: 30.518, Longitude: 114.3542, Datum: core.DatumGCJ02},
		Accuracy:     12.5,
		Address:      "Luoyu Road",
		LocationType: 1,
		Provider:     "replay",
		ReceivedAt:   time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
	}
}

func lineOf(p *influxdb2_write.Point) string {
	return strings.TrimSpace(influxdb2_write.PointToLineProtocol(p, time.Nanosecond))
}

func readBackup(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer zr.Close()

	var lines []string
	scanner := bufio.NewScanner(zr)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	require.NoError(t, scanner.Err())
	return lines
}

func TestConfigURL(t *testing.T) {
	assert.Equal(t, "http://localhost:8086", Config{Host: "localhost", Port: "8086"}.URL())
	assert.Equal(t, "https://influx:443", Config{Host: "influx", Port: "443", Protocol: "https"}.URL())
}

func TestFixPoint(t *testing.T) {
	p, err := FixPoint("abc", testFix())
	require.NoError(t, err)

	line := lineOf(p)
	assert.True(t, strings.HasPrefix(line, "fix,"), line)
	assert.Contains(t, line, "session=abc")
	assert.Contains(t, line, "provider=replay")
	assert.Contains(t, line, "accuracy=12.5")
	assert.Contains(t, line, "location_type=1i")
	assert.Contains(t, line, `address="Luoyu Road"`)
	assert.Contains(t, line, "latitude=30.5204")
}

func TestFixPoint_InvalidCoordinate(t *testing.T) {
	f := testFix()
	f.Coordinate.Latitude = 95
	_, err := FixPoint("abc", f)
	assert.ErrorIs(t, err, core.ErrInvalidCoordinate)
}

func TestPlacementPoint(t *testing.T) {
	p := PlacementPoint("abc", core.PlacementSample{
		Time:          time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		MarkerID:      "ccnu",
		DistanceInGPS: 120,
		DistanceInAR:  30,
		Scale:         15,
		Offset:        1.2,
		Position:      core.Vector3{X: 1, Y: 2, Z: -3},
	})

	line := lineOf(p)
	assert.True(t, strings.HasPrefix(line, "placement,"), line)
	assert.Contains(t, line, "marker=ccnu")
	assert.Contains(t, line, "distance_gps=120i")
	assert.Contains(t, line, "scale=15")
	assert.Contains(t, line, "scene_z=-3")
}

func TestInit_UnreachableWithoutBackup(t *testing.T) {
	b := New(unreachable(""), zerolog.Nop())
	err := b.Init()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no backup path")
}

func TestBackupMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "influx_backup.log.gz")
	b := New(unreachable(path), zerolog.Nop())
	require.NoError(t, b.Init())
	assert.False(t, b.Online())

	s := core.NewSession("replay", time.Now())
	require.NoError(t, b.StartSession(s))
	require.NoError(t, b.RecordFix(testFix()))
	require.NoError(t, b.RecordPlacements([]core.PlacementSample{
		{MarkerID: "ccnu", Time: time.Now()},
		{MarkerID: "whu", Time: time.Now()},
	}))
	require.NoError(t, b.EndSession())
	require.NoError(t, b.Close())

	lines := readBackup(t, path)
	require.Len(t, lines, 5)
	assert.True(t, strings.HasPrefix(lines[0], "session,"))
	assert.Contains(t, lines[0], `event="start"`)
	assert.True(t, strings.HasPrefix(lines[1], "fix,"))
	assert.True(t, strings.HasPrefix(lines[2], "placement,"))
	assert.True(t, strings.HasPrefix(lines[3], "placement,"))
	assert.Contains(t, lines[4], `event="end"`)
	for _, line := range lines {
		assert.Contains(t, line, "session="+s.ID.String())
	}
}

func TestRecordBeforeSession(t *testing.T) {
	b := New(unreachable(filepath.Join(t.TempDir(), "backup.gz")), zerolog.Nop())
	require.NoError(t, b.Init())
	defer b.Close()

	assert.ErrorIs(t, b.RecordFix(testFix()), journal.ErrNoSession)
	assert.ErrorIs(t, b.RecordPlacements(nil), journal.ErrNoSession)
	assert.ErrorIs(t, b.EndSession(), journal.ErrNoSession)
}

func TestWritePoint_NotInitialized(t *testing.T) {
	b := New(unreachable(""), zerolog.Nop())
	err := b.WritePoint(influxdb2_write.NewPointWithMeasurement("fix"))
	assert.Error(t, err)
}
