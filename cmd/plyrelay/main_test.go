package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/plyrelay/config"
	"github.com/c360/plyrelay/health"
)

func envMap(m map[string]string) func(string) string {
	return func(key string) string { return m[key] }
}

func TestParseFlags_Defaults(t *testing.T) {
	cfg, err := parseFlags(nil, envMap(nil), io.Discard)
	require.NoError(t, err)

	assert.Empty(t, cfg.ConfigPath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.False(t, cfg.Validate)
	require.NoError(t, validateFlags(cfg))
}

func TestParseFlags_EnvFallbackAndOverride(t *testing.T) {
	env := envMap(map[string]string{
		"PLYRELAY_LOG_LEVEL":        "debug",
		"PLYRELAY_LOG_FORMAT":       "text",
		"PLYRELAY_SHUTDOWN_TIMEOUT": "5s",
	})

	cfg, err := parseFlags(nil, env, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)

	cfg, err = parseFlags([]string{"-log-level", "warn", "-validate"}, env, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.True(t, cfg.Validate)
}

func TestValidateFlags(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CLIConfig)
	}{
		{"missing config file", func(c *CLIConfig) { c.ConfigPath = filepath.Join(t.TempDir(), "nope.json") }},
		{"bad level", func(c *CLIConfig) { c.LogLevel = "trace" }},
		{"bad format", func(c *CLIConfig) { c.LogFormat = "xml" }},
		{"zero timeout", func(c *CLIConfig) { c.ShutdownTimeout = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := parseFlags(nil, envMap(nil), io.Discard)
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, validateFlags(cfg))
		})
	}
}

func TestSetupLogger_BaseAttributes(t *testing.T) {
	var buf bytes.Buffer
	setupLogger(&buf, "info", "json").Info("hello")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, appName, record["service"])
	assert.Equal(t, Version, record["version"])
	assert.EqualValues(t, os.Getpid(), record["pid"])

	buf.Reset()
	setupLogger(&buf, "warn", "text").Info("filtered")
	assert.Empty(t, buf.String())
}

func TestApp_RelaysAndPersists(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Metrics.Port = 0
	cfg.Storage.Directory = filepath.Join(t.TempDir(), "files")

	ctx := context.Background()
	svc, err := newApp(ctx, cfg, setupLogger(io.Discard, "error", "json"))
	require.NoError(t, err)
	require.NoError(t, svc.Start(ctx))
	stopped := false
	t.Cleanup(func() {
		if !stopped {
			_ = svc.Stop(5 * time.Second)
		}
	})

	base := "ws://" + svc.Addr() + "/ws"
	output, _, err := websocket.DefaultDialer.Dial(base+"/consumer/plyStream", nil)
	require.NoError(t, err)
	defer output.Close()

	require.Eventually(t, func() bool {
		return svc.registry.Stats().Consumers == 1
	}, 2*time.Second, 5*time.Millisecond)

	producer, _, err := websocket.DefaultDialer.Dial(base+"/producer/scan-1", nil)
	require.NoError(t, err)
	defer producer.Close()

	require.NoError(t, producer.WriteMessage(websocket.TextMessage, []byte("ply\n")))
	require.NoError(t, producer.WriteMessage(websocket.TextMessage, []byte("end_header\n")))
	require.NoError(t, producer.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))

	require.NoError(t, output.SetReadDeadline(time.Now().Add(5*time.Second)))
	kind, data, err := output.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, kind)
	assert.Equal(t, "ply\nend_header\n", string(data))

	_, data, err = output.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, cfg.Relay.EndSentinel, string(data))

	require.Eventually(t, func() bool {
		matches, _ := filepath.Glob(filepath.Join(cfg.Storage.Directory, "*.ply"))
		return len(matches) == 1
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + svc.Addr() + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status health.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.True(t, status.Healthy)

	components := make([]string, 0, len(status.SubStatuses))
	for _, sub := range status.SubStatuses {
		components = append(components, sub.Component)
	}
	assert.Equal(t, []string{"sessions", "storage", "persistence", "websocket"}, components)

	stopped = true
	require.NoError(t, svc.Stop(5*time.Second))
	assert.Equal(t, 0, svc.registry.Stats().Sessions)
}

func TestApp_ShutdownPersistsOpenStreams(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Metrics.Enabled = false
	cfg.Storage.Directory = filepath.Join(t.TempDir(), "files")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := newApp(ctx, cfg, setupLogger(io.Discard, "error", "json"))
	require.NoError(t, err)
	require.NoError(t, svc.Start(ctx))

	base := "ws://" + svc.Addr() + "/ws"
	live, _, err := websocket.DefaultDialer.Dial(base+"/consumer/scan-1", nil)
	require.NoError(t, err)
	defer live.Close()
	require.Eventually(t, func() bool {
		return svc.registry.Stats().Consumers == 1
	}, 2*time.Second, 5*time.Millisecond)

	producer, _, err := websocket.DefaultDialer.Dial(base+"/producer/scan-1", nil)
	require.NoError(t, err)
	defer producer.Close()
	require.NoError(t, producer.WriteMessage(websocket.TextMessage, []byte("ply\n")))

	// The live copy arrives only after the frame has been buffered.
	require.NoError(t, live.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := live.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, "ply\n", string(data))

	// A signal cancels the run context before Stop is called.
	cancel()
	require.NoError(t, svc.Stop(5*time.Second))

	matches, err := filepath.Glob(filepath.Join(cfg.Storage.Directory, "*.ply"))
	require.NoError(t, err)
	require.Len(t, matches, 1, "stats=%+v", svc.persister.Stats())

	data, err = os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Equal(t, "ply\n", string(data))

	stats := svc.persister.Stats()
	assert.Equal(t, int64(1), stats.Processed)
	assert.Equal(t, int64(0), stats.Failed)
}

func TestLoadConfig(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, config.Default().Relay, cfg.Relay)

	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  backend: tape\n"), 0o600))
	_, err = loadConfig(path)
	assert.Error(t, err)
}
