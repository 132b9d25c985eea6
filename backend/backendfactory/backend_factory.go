package backendfactory

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/microsoft/durabletask-webjobs-go/backend"
	"github.com/microsoft/durabletask-webjobs-go/backend/sqlite"
)

const (
	SqliteBackendType = "durabletask.sqlite"

	// MemoryConnection selects a private in-memory sqlite store.
	MemoryConnection = "memory"
)

type BackendFactory func(metadata map[string]string, log backend.Logger) (backend.Backend, error)

var backendFactories = map[string]BackendFactory{
	SqliteBackendType: getSqliteBackend,
}

func getSqliteBackend(metadata map[string]string, log backend.Logger) (backend.Backend, error) {
	sqliteOptions := sqlite.NewOptions("")

	if connectionString, ok := metadata["connectionString"]; ok {
		sqliteOptions.FilePath = connectionString
	}

	if orchestrationLockTimeout, ok := metadata["orchestrationLockTimeout"]; ok {
		if duration, err := time.ParseDuration(orchestrationLockTimeout); err == nil {
			sqliteOptions.OrchestrationLockTimeout = duration
		} else {
			log.Errorf("Invalid orchestrationLockTimeout provided in backend metadata: %v", err)
		}
	}

	if activityLockTimeout, ok := metadata["activityLockTimeout"]; ok {
		if duration, err := time.ParseDuration(activityLockTimeout); err == nil {
			sqliteOptions.ActivityLockTimeout = duration
		} else {
			log.Errorf("Invalid activityLockTimeout provided in backend metadata: %v", err)
		}
	}

	return sqlite.New(sqliteOptions, log), nil
}

func InitializeBackend(backendType string, metadata map[string]string, log backend.Logger) (backend.Backend, error) {
	if factory, ok := backendFactories[backendType]; ok {
		return factory(metadata, log)
	}

	return nil, fmt.Errorf("invalid backend type: %s", backendType)
}

// ResolveStorePath maps a pair of connection strings onto a sqlite file path. An empty
// path means in-memory. The dispatch connection wins when it names a store explicitly;
// otherwise the storage connection is used as the file path.
func ResolveStorePath(connectionString, storageConnectionString string) string {
	for i, conn := range []string{connectionString, storageConnectionString} {
		conn = strings.TrimSpace(conn)
		switch {
		case conn == "", strings.EqualFold(conn, MemoryConnection):
			continue
		case strings.HasPrefix(conn, "sqlite:"):
			return strings.TrimPrefix(conn, "sqlite:")
		case strings.HasPrefix(conn, "file:"):
			return conn
		case i == 0:
			// A dispatch connection that names no store is an opaque identity.
			continue
		default:
			return conn
		}
	}
	return ""
}

// Provider hands out one shared backend per (task hub, connection) pair.
type Provider struct {
	mu       sync.Mutex
	logger   backend.Logger
	metadata map[string]string
	backends map[string]backend.Backend
	paths    map[string]string
}

func NewProvider(logger backend.Logger, metadata map[string]string) *Provider {
	return &Provider{
		logger:   logger,
		metadata: metadata,
		backends: make(map[string]backend.Backend),
		paths:    make(map[string]string),
	}
}

// Get returns the backend for a task hub, creating it on first use.
func (p *Provider) Get(hubName, connectionString, storageConnectionString string) (backend.Backend, error) {
	key := strings.ToLower(hubName) + "|" + connectionString + "|" + storageConnectionString

	p.mu.Lock()
	defer p.mu.Unlock()

	if be, ok := p.backends[key]; ok {
		return be, nil
	}

	path := ResolveStorePath(connectionString, storageConnectionString)
	if path != "" {
		if owner, ok := p.paths[path]; ok && owner != strings.ToLower(hubName) {
			return nil, fmt.Errorf("store '%s' is already used by task hub '%s'", path, owner)
		}
	}

	metadata := make(map[string]string, len(p.metadata)+1)
	for k, v := range p.metadata {
		metadata[k] = v
	}
	metadata["connectionString"] = path

	be, err := InitializeBackend(SqliteBackendType, metadata, p.logger)
	if err != nil {
		return nil, err
	}

	p.backends[key] = be
	if path != "" {
		p.paths[path] = strings.ToLower(hubName)
	}
	return be, nil
}

// Close releases every backend handed out by the provider.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for key, be := range p.backends {
		if c, ok := be.(io.Closer); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		delete(p.backends, key)
	}
	p.paths = make(map[string]string)
	return firstErr
}
