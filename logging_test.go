package particlelife

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedLogger(debug bool) (*DefaultLogger, *observer.ObservedLogs) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if debug {
		level.SetLevel(zapcore.DebugLevel)
	}
	core, logs := observer.New(level)
	return NewLoggerWithCore(core, level, "particlelife"), logs
}

func TestDefaultLoggerLevels(t *testing.T) {
	l, logs := newObservedLogger(false)

	assert.False(t, l.DebugEnabled())
	l.Debugf("hidden %d", 1)
	l.Infof("frame %d", 2)
	l.Warnf("slow %s", "readback")
	l.Errorf("lost device")

	entries := logs.AllUntimed()
	require.Len(t, entries, 3)
	assert.Equal(t, "frame 2", entries[0].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
	assert.Equal(t, "particlelife", entries[0].LoggerName)

	l.SetDebug(true)
	assert.True(t, l.DebugEnabled())
	l.Debugf("shown")
	assert.Equal(t, 1, logs.FilterMessage("shown").Len())

	l.SetDebug(false)
	l.Debugf("hidden again")
	assert.Equal(t, 0, logs.FilterMessage("hidden again").Len())
}

func TestLoggingModuleInstallsLogger(t *testing.T) {
	l, logs := newObservedLogger(false)
	app := NewAppBuilder().UseModule(LoggingModule{Logger: l}).Build()

	app.Logger().Infof("hello")
	assert.Equal(t, 1, logs.FilterMessage("hello").Len())

	got, ok := Resource[DefaultLogger](app)
	require.True(t, ok)
	assert.Same(t, l, got)
}

func TestAppLoggerFallsBackToNop(t *testing.T) {
	var nilApp *App
	assert.NotNil(t, nilApp.Logger())

	app := NewAppBuilder().Build()
	l := app.Logger()
	require.NotNil(t, l)
	assert.False(t, l.DebugEnabled())
	l.Errorf("dropped")
}
