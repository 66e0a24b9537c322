package logging

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeSession struct {
	id     string
	age    time.Duration
	hasFix bool
}

func (s *fakeSession) SessionID() string { return s.id }

func (s *fakeSession) FixAge() (time.Duration, bool) { return s.age, s.hasFix }

func TestSessionHandler_StampsSessionAndFixAge(t *testing.T) {
	var buf bytes.Buffer
	src := &fakeSession{id: "s1", age: 1500 * time.Millisecond, hasFix: true}
	h := NewSessionHandler(slog.NewTextHandler(&buf, nil), src)

	slog.New(h).With("component", "driver").WithGroup("frame").Info("step", "markers", 2)

	out := buf.String()
	assert.Contains(t, out, "session=s1")
	assert.Contains(t, out, "fixAge=1.5s")
	assert.Contains(t, out, "component=driver")
	assert.Contains(t, out, "frame.markers=2")
}

func TestSessionHandler_OmitsMissingState(t *testing.T) {
	var buf bytes.Buffer
	h := NewSessionHandler(slog.NewTextHandler(&buf, nil), &fakeSession{})

	slog.New(h).Info("before session")

	out := buf.String()
	assert.Contains(t, out, "before session")
	assert.NotContains(t, out, "session=")
	assert.NotContains(t, out, "fixAge=")
}

func TestSessionHandler_NilSource(t *testing.T) {
	var buf bytes.Buffer
	h := NewSessionHandler(slog.NewTextHandler(&buf, nil), nil)

	slog.New(h).Info("plain")
	assert.Contains(t, buf.String(), "plain")
}

func TestSessionHandler_ReadsSourcePerRecord(t *testing.T) {
	var buf bytes.Buffer
	src := &fakeSession{id: "s1"}
	logger := slog.New(NewSessionHandler(slog.NewTextHandler(&buf, nil), src))

	logger.Info("no fix yet")
	assert.NotContains(t, buf.String(), "fixAge=")

	src.age, src.hasFix = 2*time.Second, true
	logger.Info("fixed")
	assert.Contains(t, buf.String(), "fixAge=2s")
}
