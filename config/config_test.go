package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fzft/go-async-event/event"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultWorkers, cfg.Workers)
	assert.Equal(t, DefaultEventCenterSize, cfg.EventCenterSize)
	assert.Equal(t, AssignRoundRobin, cfg.Assign)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Workers = 0
	assert.Error(t, cfg.Validate(), "zero workers should be rejected")

	cfg = Default()
	cfg.Workers = event.MaxEventCenters + 1
	assert.Error(t, cfg.Validate(), "the worker count is bounded by the registry size")

	cfg = Default()
	cfg.EventCenterSize = 0
	assert.Error(t, cfg.Validate(), "centers need a positive capacity")

	cfg = Default()
	cfg.Assign = "fastest"
	assert.Error(t, cfg.Validate(), "unknown assignment policies should be rejected")
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aevent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
workers: 4
event_center_size: 1024
assign: random
tcp_nodelay: false
metrics_addr: "127.0.0.1:9100"
debug: true
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 1024, cfg.EventCenterSize)
	assert.Equal(t, AssignRandom, cfg.Assign)
	assert.False(t, cfg.TCPNoDelay)
	assert.Equal(t, "127.0.0.1:9100", cfg.MetricsAddr)
	assert.True(t, cfg.Debug)
	assert.Equal(t, DefaultListenBacklog, cfg.ListenBacklog, "unset keys keep their defaults")
}

func TestLoadInvalidFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aevent.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: 0\n"), 0o644))
	_, err := Load(path)
	assert.Error(t, err, "loaded configuration is validated")
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err, "an explicit path must exist")
}

func TestLoadWithoutFileGivesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err, "a missing default file is fine")
	assert.Equal(t, DefaultWorkers, cfg.Workers)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("AEVENT_WORKERS", "5")
	t.Setenv("AEVENT_ASSIGN", "random")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Workers, "AEVENT_WORKERS should override the default")
	assert.Equal(t, AssignRandom, cfg.Assign)
}
