package binding

import (
	"os"
	"strings"
)

const (
	// DispatchConnectionName names the connection the task hub worker dispatches through. A
	// trigger without it is not bound.
	DispatchConnectionName = "DurableTask"
	// StorageConnectionName names the optional history storage connection.
	StorageConnectionName = "Storage"

	envPrefix = "AzureWebJobs"
)

// ConnectionStringProvider resolves named connection strings. An empty result means the
// connection is not configured.
type ConnectionStringProvider interface {
	GetConnectionString(name string) string
}

// StaticConnections resolves connection strings from a map; names are case-insensitive.
type StaticConnections map[string]string

func (c StaticConnections) GetConnectionString(name string) string {
	if v, ok := c[name]; ok {
		return v
	}
	for k, v := range c {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// EnvConnections resolves a connection named N from the AzureWebJobsN environment variable.
type EnvConnections struct {
	Lookup func(string) (string, bool)
}

func NewEnvConnections() EnvConnections {
	return EnvConnections{Lookup: os.LookupEnv}
}

func (c EnvConnections) GetConnectionString(name string) string {
	lookup := c.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	v, _ := lookup(envPrefix + name)
	return v
}

type chainedProviders []ConnectionStringProvider

// ChainProviders returns the first non-empty value found in providers, in order.
func ChainProviders(providers ...ConnectionStringProvider) ConnectionStringProvider {
	return chainedProviders(providers)
}

func (c chainedProviders) GetConnectionString(name string) string {
	for _, p := range c {
		if p == nil {
			continue
		}
		if v := p.GetConnectionString(name); v != "" {
			return v
		}
	}
	return ""
}
