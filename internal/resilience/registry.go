package resilience

import (
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// HostHealth is the health of one upstream host.
type HostHealth struct {
	// Name is the host identifier.
	Name string

	// CircuitState is the current circuit breaker state.
	CircuitState gobreaker.State

	// Counts contains circuit breaker statistics.
	Counts gobreaker.Counts

	// LastSuccessAt is the timestamp of the last successful request.
	LastSuccessAt *time.Time

	// LastFailureAt is the timestamp of the last failed request.
	LastFailureAt *time.Time

	// LastError is the most recent error message, if any.
	LastError string
}

// IsHealthy returns true if the host is considered healthy.
func (h *HostHealth) IsHealthy() bool {
	return h.CircuitState == gobreaker.StateClosed
}

// IsDegraded returns true if the host is in a degraded state (half-open).
func (h *HostHealth) IsDegraded() bool {
	return h.CircuitState == gobreaker.StateHalfOpen
}

// IsUnhealthy returns true if the host is unhealthy (circuit open).
func (h *HostHealth) IsUnhealthy() bool {
	return h.CircuitState == gobreaker.StateOpen
}

// Registry tracks clients by host and their health.
type Registry struct {
	mu    sync.RWMutex
	hosts map[string]*registeredHost
}

type registeredHost struct {
	client        *Client
	lastSuccessAt *time.Time
	lastFailureAt *time.Time
	lastError     string
}

// NewRegistry creates a new host registry.
func NewRegistry() *Registry {
	return &Registry{
		hosts: make(map[string]*registeredHost),
	}
}

// Register adds a client to the registry.
func (r *Registry) Register(name string, client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hosts[name] = &registeredHost{client: client}
}

// Unregister removes a host from the registry.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.hosts, name)
}

// RecordSuccess records a successful request for a host.
func (r *Registry) RecordSuccess(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.hosts[name]; ok {
		now := time.Now()
		h.lastSuccessAt = &now
	}
}

// RecordFailure records a failed request for a host.
func (r *Registry) RecordFailure(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.hosts[name]; ok {
		now := time.Now()
		h.lastFailureAt = &now
		if err != nil {
			h.lastError = err.Error()
		}
	}
}

// Available reports whether requests to the host may be attempted. Unknown
// hosts are available.
func (r *Registry) Available(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.hosts[name]
	if !ok {
		return true
	}
	return h.client.CircuitBreakerState() != gobreaker.StateOpen
}

// GetHealth returns the health status of a specific host.
func (r *Registry) GetHealth(name string) *HostHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.hosts[name]
	if !ok {
		return nil
	}
	return h.health(name)
}

// GetAllHealth returns the health of all registered hosts sorted by name.
func (r *Registry) GetAllHealth() []*HostHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	health := make([]*HostHealth, 0, len(r.hosts))
	for name, h := range r.hosts {
		health = append(health, h.health(name))
	}
	sort.Slice(health, func(i, j int) bool { return health[i].Name < health[j].Name })
	return health
}

// HostCount returns the number of registered hosts.
func (r *Registry) HostCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hosts)
}

func (h *registeredHost) health(name string) *HostHealth {
	return &HostHealth{
		Name:          name,
		CircuitState:  h.client.CircuitBreakerState(),
		Counts:        h.client.CircuitBreakerCounts(),
		LastSuccessAt: h.lastSuccessAt,
		LastFailureAt: h.lastFailureAt,
		LastError:     h.lastError,
	}
}
