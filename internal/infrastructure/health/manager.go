// Package health aggregates component checks for the health endpoint
package health

import (
	"kimchi_arb/internal/core"
	"kimchi_arb/pkg/logging"
	"sort"
	"sync"
)

const statusHealthy = "Healthy"

// ComponentStatus is the outcome of one registered check
type ComponentStatus struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// HealthManager runs the registered checks on demand. Checks must be cheap;
// they are called on every request to the health endpoint.
type HealthManager struct {
	logger core.ILogger
	mu     sync.RWMutex
	checks map[string]func() error
}

// NewHealthManager creates an empty manager. A nil logger uses the global one.
func NewHealthManager(logger core.ILogger) *HealthManager {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &HealthManager{
		logger: logger.WithField("component", "health_manager"),
		checks: make(map[string]func() error),
	}
}

// Register adds or replaces the check of a component
func (hm *HealthManager) Register(component string, check func() error) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checks[component] = check
}

// Check runs every check and returns the results sorted by name
func (hm *HealthManager) Check() []ComponentStatus {
	hm.mu.RLock()
	names := make([]string, 0, len(hm.checks))
	checks := make(map[string]func() error, len(hm.checks))
	for name, check := range hm.checks {
		names = append(names, name)
		checks[name] = check
	}
	hm.mu.RUnlock()
	sort.Strings(names)

	out := make([]ComponentStatus, 0, len(names))
	for _, name := range names {
		st := ComponentStatus{Name: name, Healthy: true}
		if err := checks[name](); err != nil {
			st.Healthy = false
			st.Error = err.Error()
			hm.logger.Debug("Health check failed", "check", name, "error", err)
		}
		out = append(out, st)
	}
	return out
}

// GetStatus maps each component to "Healthy" or "Unhealthy: <error>"
func (hm *HealthManager) GetStatus() map[string]string {
	status := make(map[string]string)
	for _, st := range hm.Check() {
		if st.Healthy {
			status[st.Name] = statusHealthy
		} else {
			status[st.Name] = "Unhealthy: " + st.Error
		}
	}
	return status
}

// IsHealthy reports whether every check passes
func (hm *HealthManager) IsHealthy() bool {
	for _, st := range hm.Check() {
		if !st.Healthy {
			return false
		}
	}
	return true
}
