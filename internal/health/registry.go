// Package health aggregates component health and serves it over HTTP.
package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/swap-cycler/internal/types"
)

// Component is the last reported health of one component
type Component struct {
	Status    types.ComponentStatus `json:"status"`
	Detail    string                `json:"detail,omitempty"`
	UpdatedAt time.Time             `json:"updatedAt"`
}

// Report is the aggregate health body
type Report struct {
	Status     types.ComponentStatus `json:"status"`
	Timestamp  time.Time             `json:"timestamp"`
	Components map[string]Component  `json:"components"`
}

// Pinger is anything with a connectivity check
type Pinger interface {
	Ping(ctx context.Context) error
}

// Registry holds component health reported by the running services
type Registry struct {
	mu         sync.RWMutex
	components map[string]Component
	now        func() time.Time
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		components: make(map[string]Component),
		now:        time.Now,
	}
}

// Report records the status of a component
func (r *Registry) Report(name string, status types.ComponentStatus, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.components[name] = Component{Status: status, Detail: detail, UpdatedAt: r.now().UTC()}
}

// Snapshot returns the aggregate: UP when every component is UP, DEGRADED
// when any is DEGRADED and none is DOWN, otherwise DOWN. No components
// reported yet counts as UP.
func (r *Registry) Snapshot() Report {
	r.mu.RLock()
	defer r.mu.RUnlock()

	report := Report{
		Status:     types.StatusUp,
		Timestamp:  r.now().UTC(),
		Components: make(map[string]Component, len(r.components)),
	}
	for name, c := range r.components {
		report.Components[name] = c
		switch c.Status {
		case types.StatusDown:
			report.Status = types.StatusDown
		case types.StatusDegraded:
			if report.Status == types.StatusUp {
				report.Status = types.StatusDegraded
			}
		}
	}
	return report
}

// Names returns the reported component names in order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.components))
	for name := range r.components {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check pings p and reports UP or DOWN under name
func (r *Registry) Check(ctx context.Context, name string, p Pinger) {
	if err := p.Ping(ctx); err != nil {
		r.Report(name, types.StatusDown, err.Error())
		return
	}
	r.Report(name, types.StatusUp, "")
}

// Watch checks every pinger on interval until ctx is cancelled
func (r *Registry) Watch(ctx context.Context, interval time.Duration, pingers map[string]Pinger) {
	checkAll := func() {
		for name, p := range pingers {
			pctx, cancel := context.WithTimeout(ctx, interval)
			r.Check(pctx, name, p)
			cancel()
		}
	}
	checkAll()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			checkAll()
		}
	}
}
