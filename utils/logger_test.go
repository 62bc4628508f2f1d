package utils

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupLogger_File(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	closeFn, err := SetupLogger(LoggerOptions{Level: "debug", Format: "json", Dir: dir})
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = SetupLogger(LoggerOptions{Level: "info"})
	})

	assert.Equal(t, logrus.DebugLevel, Logger.GetLevel())

	LogInfo("card %s created", "abc")
	LogOperation("transfer", time.Now(), errors.New("insufficient balance"), logrus.Fields{"amount": "10.00"})
	require.NoError(t, closeFn())

	data, err := os.ReadFile(filepath.Join(dir, "app.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "card abc created")
	assert.Contains(t, string(data), `"operation":"transfer"`)
	assert.Contains(t, string(data), "insufficient balance")
}

func TestSetupLogger_UnknownLevelFallsBackToInfo(t *testing.T) {
	closeFn, err := SetupLogger(LoggerOptions{Level: "chatty", Format: "text"})
	require.NoError(t, err)
	assert.NoError(t, closeFn())
	assert.Equal(t, logrus.InfoLevel, Logger.GetLevel())
}
