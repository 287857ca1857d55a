package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupWriterRenamesCoreKeys(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := SetupWriter(&buf, "brokerd", "test")
	logger.Warn("settlement failed", "operation", "deposit")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "WARN", line["severity"])
	require.Equal(t, "settlement failed", line["message"])
	require.Equal(t, "brokerd", line["service"])
	require.Equal(t, "test", line["env"])
	require.Contains(t, line, "timestamp")
}

func TestSetupWithFileWritesRotatingFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	path := filepath.Join(t.TempDir(), "brokerd.log")
	logger, closer := SetupWithFile("brokerd", "", FileConfig{Path: path})
	logger.Info("started")
	require.NoError(t, closer.Close())
	require.FileExists(t, path)
}

func TestSensitiveAttributesAreRedacted(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := SetupWriter(&buf, "brokerd", "")
	logger.Info("auth rejected",
		"hmac_secret", "s3cret",
		"operation", "deposit",
		slog.Group("request", slog.String("Authorization", "Bearer abc"), slog.String("path", "/v1/deposits")))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, RedactedValue, line["hmac_secret"])
	require.Equal(t, "deposit", line["operation"])
	request := line["request"].(map[string]any)
	require.Equal(t, RedactedValue, request["Authorization"])
	require.Equal(t, "/v1/deposits", request["path"])
	require.NotContains(t, buf.String(), "s3cret")
}

func TestSensitiveKeyMatching(t *testing.T) {
	require.True(t, IsSensitive("HMACSecret"))
	require.True(t, IsSensitive("private-key"))
	require.False(t, IsSensitive("account"))
	require.Equal(t, "", MaskValue(""))
	require.Contains(t, SensitiveKeys(), "passphrase")
}
