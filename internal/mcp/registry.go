package mcp

import (
	"sort"
)

// Registry maps server names to their endpoint URLs. It is built once
// from configuration and read-only afterward, so it is safe for
// concurrent use.
type Registry struct {
	servers map[string]string
}

// NewRegistry builds a registry from a name -> base URL map. The map is
// copied; later mutation of the argument does not affect the registry.
func NewRegistry(servers map[string]string) *Registry {
	m := make(map[string]string, len(servers))
	for name, url := range servers {
		m[name] = url
	}
	return &Registry{servers: m}
}

// Resolve returns the endpoint URL for a named server. A nil registry
// behaves like an empty one.
func (r *Registry) Resolve(name string) (string, error) {
	if r != nil {
		if url, ok := r.servers[name]; ok {
			return url, nil
		}
	}
	return "", &UnknownServerError{Server: name, Known: r.Names()}
}

// Names returns the configured server names, sorted.
func (r *Registry) Names() []string {
	if r == nil || len(r.servers) == 0 {
		return nil
	}
	names := make([]string, 0, len(r.servers))
	for name := range r.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
