// Package config loads the YAML configuration of a durable task host.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/microsoft/durabletask-webjobs-go/backend"
	"github.com/microsoft/durabletask-webjobs-go/binding"
	"github.com/microsoft/durabletask-webjobs-go/host"
	"github.com/microsoft/durabletask-webjobs-go/task"
)

type Config struct {
	HostID      string            `yaml:"hostId"`
	Hubs        []string          `yaml:"hubs"`
	Connections map[string]string `yaml:"connections"`
	Worker      WorkerConfig      `yaml:"worker"`
	Logging     LoggingConfig     `yaml:"logging"`
	Tracing     TracingConfig     `yaml:"tracing"`
	Listen      ListenConfig      `yaml:"listen"`
}

type WorkerConfig struct {
	MaxParallelism           int32         `yaml:"maxParallelism"`
	UnclaimedEvents          string        `yaml:"unclaimedEvents"`
	HeartbeatInterval        time.Duration `yaml:"heartbeatInterval"`
	OrchestrationLockTimeout time.Duration `yaml:"orchestrationLockTimeout"`
	ActivityLockTimeout      time.Duration `yaml:"activityLockTimeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TracingConfig struct {
	ZipkinEndpoint string `yaml:"zipkinEndpoint"`
	ServiceName    string `yaml:"serviceName"`
}

type ListenConfig struct {
	HTTP string `yaml:"http"`
	GRPC string `yaml:"grpc"`
}

// Default returns the configuration used when no file is given: one in-memory task hub.
func Default() *Config {
	return &Config{
		Hubs:        []string{"default"},
		Connections: map[string]string{binding.DispatchConnectionName: "memory"},
		Worker: WorkerConfig{
			MaxParallelism:    1,
			UnclaimedEvents:   task.DropUnclaimedEvents.String(),
			HeartbeatInterval: host.DefaultHeartbeatInterval,
		},
		Logging: LoggingConfig{Level: "info", Format: "console"},
		Tracing: TracingConfig{ServiceName: "durablehost"},
		Listen:  ListenConfig{HTTP: "localhost:8080", GRPC: "localhost:4001"},
	}
}

// Parse decodes YAML (or JSON) over the defaults and validates the result. Connection
// values may reference environment variables as ${NAME}.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	for name, value := range cfg.Connections {
		cfg.Connections[name] = os.ExpandEnv(value)
	}
	return cfg, cfg.Validate()
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

func (c *Config) Validate() error {
	var errs []error
	if len(c.Hubs) == 0 {
		errs = append(errs, errors.New("at least one task hub is required"))
	}
	seen := make(map[string]bool, len(c.Hubs))
	for _, hub := range c.Hubs {
		key := strings.ToLower(strings.TrimSpace(hub))
		if key == "" {
			errs = append(errs, errors.New("task hub names cannot be empty"))
			continue
		}
		if seen[key] {
			errs = append(errs, fmt.Errorf("task hub '%s' is listed more than once", hub))
		}
		seen[key] = true
	}
	if c.Worker.MaxParallelism < 0 {
		errs = append(errs, fmt.Errorf("worker.maxParallelism must not be negative, got %d", c.Worker.MaxParallelism))
	}
	if c.Worker.HeartbeatInterval < 0 {
		errs = append(errs, errors.New("worker.heartbeatInterval must not be negative"))
	}
	if _, err := task.ParseUnclaimedEventPolicy(c.Worker.UnclaimedEvents); err != nil {
		errs = append(errs, fmt.Errorf("worker.unclaimedEvents: %w", err))
	}
	if _, err := backend.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be console or json, got '%s'", c.Logging.Format))
	}
	return errors.Join(errs...)
}

// ConnectionProvider resolves connections from the file first and the environment second.
func (c *Config) ConnectionProvider() binding.ConnectionStringProvider {
	return binding.ChainProviders(binding.StaticConnections(c.Connections), binding.NewEnvConnections())
}

// BackendMetadata returns the sqlite settings passed to every backend.
func (c *Config) BackendMetadata() map[string]string {
	metadata := make(map[string]string)
	if c.Worker.OrchestrationLockTimeout > 0 {
		metadata["orchestrationLockTimeout"] = c.Worker.OrchestrationLockTimeout.String()
	}
	if c.Worker.ActivityLockTimeout > 0 {
		metadata["activityLockTimeout"] = c.Worker.ActivityLockTimeout.String()
	}
	return metadata
}

// HostOptions translates the configuration into host options.
func (c *Config) HostOptions(logger backend.Logger) ([]host.Option, error) {
	policy, err := task.ParseUnclaimedEventPolicy(c.Worker.UnclaimedEvents)
	if err != nil {
		return nil, err
	}
	opts := []host.Option{
		host.WithConnections(c.ConnectionProvider()),
		host.WithLogger(logger),
		host.WithMaxParallelism(c.Worker.MaxParallelism),
		host.WithUnclaimedEventPolicy(policy),
		host.WithHeartbeatInterval(c.Worker.HeartbeatInterval),
		host.WithBackendMetadata(c.BackendMetadata()),
	}
	if c.HostID != "" {
		opts = append(opts, host.WithHostID(c.HostID))
	}
	return opts, nil
}
