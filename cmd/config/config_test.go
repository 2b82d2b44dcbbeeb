package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

func TestDefaults(t *testing.T) {
	m, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	cfg := m.Config()
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 20*time.Millisecond, cfg.FrameDuration)
	assert.Equal(t, 5*time.Second, cfg.PipelineTimeout)
	assert.True(t, cfg.AutoSelectUSB)
	assert.Equal(t, []string{"CodecOpus48000Mono", "CodecOpus48000Stereo"}, cfg.Codecs)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, `
loglevel: debug
frameduration: 10ms
pipelinetimeout: 2s
autoselectusb: false
capturefile: mic.wav
codecs:
  - CodecPCMU8000Mono
`)
	m, err := LoadConfig(path)
	require.NoError(t, err)

	cfg := m.Config()
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 10*time.Millisecond, cfg.FrameDuration)
	assert.Equal(t, 2*time.Second, cfg.PipelineTimeout)
	assert.False(t, cfg.AutoSelectUSB)
	assert.Equal(t, "mic.wav", cfg.CaptureFile)
	assert.Equal(t, []string{"CodecPCMU8000Mono"}, cfg.Codecs)
}

func TestInvalidConfig(t *testing.T) {
	tests := map[string]string{
		"log level":   "loglevel: loud\n",
		"codec":       "codecs: [CodecSpeex]\n",
		"no codecs":   "codecs: []\n",
		"frame":       "frameduration: 0s\n",
		"wrong types": "autoselectusb: [1, 2]\n",
	}
	for name, contents := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			writeConfig(t, path, contents)
			_, err := LoadConfig(path)
			assert.Error(t, err)
		})
	}
}

func TestReloadNotifiesConsumers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "loglevel: info\n")
	m, err := LoadConfig(path)
	require.NoError(t, err)

	var got []string
	m.OnChange(func(cfg Config) { got = append(got, cfg.LogLevel) })

	writeConfig(t, path, "loglevel: warn\n")
	require.NoError(t, m.Reload())
	assert.Equal(t, "warn", m.Config().LogLevel)

	writeConfig(t, path, "loglevel: shout\n")
	assert.Error(t, m.Reload())
	assert.Equal(t, "warn", m.Config().LogLevel, "invalid reload keeps the previous config")
	assert.Equal(t, []string{"warn"}, got)
}
