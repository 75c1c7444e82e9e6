package logger_test

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cloudbase/neutron/pkg/logger"
)

func TestLog(t *testing.T) {
	buff := bytes.NewBuffer([]byte{})
	templogger, err := logger.New().FromBuffer(buff).Make()
	require.NoError(t, err)
	require.NotNil(t, templogger)
	// Get Stats Before
	require.Equal(t, buff.Len(), 0)
	templogger.Logger.Info().Msg("Test")
	// Get Stats After
	require.Contains(t, buff.String(), "Test")
}

func TestLogFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conn.log")
	templogger, err := logger.New().FromPath(path).Make()
	require.NoError(t, err)
	require.NotNil(t, templogger.LogFile)

	templogger.Info("written")
	require.NoError(t, templogger.Close())
}

func TestNopLogger(t *testing.T) {
	var l logger.Logger = logger.Nop()
	l.Debug("ignored", "k", 1)
	l.Error("ignored")
}
