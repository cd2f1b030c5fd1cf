package logging

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	entries []string
}

func (r *recordingLogger) Log(level Level, ts time.Time, msg string) {
	r.entries = append(r.entries, level.String()+": "+msg)
}

func TestLogFunctionsRouteThroughContext(t *testing.T) {
	rec := &recordingLogger{}
	ctx := NewContext(context.Background(), rec)

	Debug(ctx, "debug msg")
	Log(ctx, "info msg")
	Logf(ctx, "formatted %d", 42)
	Warn(ctx, "warn msg")
	Error(ctx, "error msg")

	require.Len(t, rec.entries, 5)
	assert.Equal(t, "debug: debug msg", rec.entries[0])
	assert.Equal(t, "info: info msg", rec.entries[1])
	assert.Equal(t, "info: formatted 42", rec.entries[2])
	assert.Equal(t, "warn: warn msg", rec.entries[3])
	assert.Equal(t, "error: error msg", rec.entries[4])
}

func TestLogWithoutContextLoggerIsNoop(t *testing.T) {
	assert.NotPanics(t, func() {
		Log(context.Background(), "dropped")
	})
}

func TestMultiLoggerFansOutAndRemove(t *testing.T) {
	a := &recordingLogger{}
	b := &recordingLogger{}
	ml := NewMultiLogger(a, b)

	ml.Log(LevelInfo, time.Now(), "hello")
	assert.Len(t, a.entries, 1)
	assert.Len(t, b.entries, 1)

	ml.Remove(a)
	ml.Log(LevelInfo, time.Now(), "second")
	assert.Len(t, a.entries, 1)
	assert.Len(t, b.entries, 2)
}

func TestFromContextReportsAbsence(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)
}
