package main

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silverbullet1472/Amap-GPS-ARLocation/internal/config"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/internal/location"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/pkg/core"
)

func TestFlagsOverrideConfig(t *testing.T) {
	t.Cleanup(viper.Reset)
	config.SetDefaults()

	fs := newFlagSet()
	require.NoError(t, fs.Parse([]string{"--journal.type", "none", "--diag.address", ":9999"}))
	require.NoError(t, config.BindFlags(fs))

	cfg, err := config.GetJournalConfig()
	require.NoError(t, err)
	assert.Equal(t, "none", cfg.Type)
	assert.Equal(t, ":9999", config.GetDiagConfig().Address)
	// unset flags leave defaults alone
	assert.Equal(t, "info", config.GetLoggingConfig().Level)
}

func TestPrintToken_RequiresSecret(t *testing.T) {
	t.Cleanup(viper.Reset)
	config.SetDefaults()

	assert.Error(t, printToken(time.Minute))

	viper.Set("diag.tokenSecret", "s3cret")
	assert.NoError(t, printToken(time.Minute))
}

func TestRunState(t *testing.T) {
	var st runState
	assert.Empty(t, st.SessionID())
	_, ok := st.FixAge()
	assert.False(t, ok)

	session := core.NewSession(location.ReplayProviderName, time.Now())
	st.session.Store(session)
	assert.Equal(t, session.ID.String(), st.SessionID())

	track := []core.GeoCoordinate{{Latitude: 30.5204, Longitude: 114.3484}}
	provider, err := location.NewReplayProvider(track, location.ReplayConfig{Interval: time.Second})
	require.NoError(t, err)
	feed, err := location.NewFeed(provider)
	require.NoError(t, err)
	st.feed.Store(feed)

	_, ok = st.FixAge()
	assert.False(t, ok, "no fix yet")

	feed.OnLocationChanged(&location.RawFix{Latitude: 30.5204, Longitude: 114.3484}, location.ErrCodeNone)
	age, ok := st.FixAge()
	assert.True(t, ok)
	assert.Less(t, age, time.Minute)
}
