package logging_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/momentics/hioload-netio/internal/logging"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := logging.New("chatty", false)
	require.Error(t, err)

	l, err := logging.New("debug", true)
	require.NoError(t, err)
	assert.NotNil(t, l)
}

func TestComponentFollowsGlobals(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	logging.Component("conn").Info("hello")
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "conn", logs.All()[0].LoggerName)

	own := zap.NewNop()
	assert.Same(t, own, logging.Or(own, "x"))
}
