package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microsoft/durabletask-webjobs-go/backend"
	"github.com/microsoft/durabletask-webjobs-go/binding"
)

const sample = `
hostId: host-a
hubs: [Orders, Billing]
connections:
  DurableTask: memory
  Storage: ${HUB_STORE}
worker:
  maxParallelism: 4
  unclaimedEvents: buffer
  heartbeatInterval: 30s
  orchestrationLockTimeout: 2m
logging:
  level: debug
  format: json
tracing:
  zipkinEndpoint: http://localhost:9411/api/v2/spans
listen:
  http: ":9090"
`

func Test_Parse(t *testing.T) {
	t.Setenv("HUB_STORE", "/var/lib/orders.db")

	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)
	assert.Equal(t, "host-a", cfg.HostID)
	assert.Equal(t, []string{"Orders", "Billing"}, cfg.Hubs)
	assert.Equal(t, "/var/lib/orders.db", cfg.Connections[binding.StorageConnectionName])
	assert.Equal(t, int32(4), cfg.Worker.MaxParallelism)
	assert.Equal(t, 30*time.Second, cfg.Worker.HeartbeatInterval)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, ":9090", cfg.Listen.HTTP)
	// Unset values keep their defaults.
	assert.Equal(t, "localhost:4001", cfg.Listen.GRPC)
	assert.Equal(t, "durablehost", cfg.Tracing.ServiceName)

	assert.Equal(t, map[string]string{"orchestrationLockTimeout": "2m0s"}, cfg.BackendMetadata())

	opts, err := cfg.HostOptions(backend.DefaultLogger())
	require.NoError(t, err)
	assert.Len(t, opts, 7)
}

func Test_Default(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "memory", cfg.ConnectionProvider().GetConnectionString(binding.DispatchConnectionName))
	assert.Empty(t, cfg.BackendMetadata())
}

func Test_Validate(t *testing.T) {
	_, err := Parse([]byte(`
hubs: [Orders, orders, ""]
worker:
  maxParallelism: -1
  unclaimedEvents: keep
logging:
  level: loud
  format: xml
`))
	require.Error(t, err)
	for _, msg := range []string{"listed more than once", "cannot be empty", "maxParallelism", "unclaimedEvents", "logging.level", "logging.format"} {
		assert.ErrorContains(t, err, msg)
	}

	_, err = Parse([]byte(`hubs: []`))
	assert.ErrorContains(t, err, "at least one task hub")

	_, err = Parse([]byte(`hubs: {`))
	assert.ErrorContains(t, err, "failed to parse config")
}

func Test_Load(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host.yaml")
	require.NoError(t, os.WriteFile(path, []byte("hubs: [Orders]\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Orders"}, cfg.Hubs)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func Test_ConnectionProvider_FallsBackToEnvironment(t *testing.T) {
	t.Setenv("AzureWebJobsStorage", "/tmp/env.db")
	cfg := Default()
	assert.Equal(t, "/tmp/env.db", cfg.ConnectionProvider().GetConnectionString(binding.StorageConnectionName))
}
