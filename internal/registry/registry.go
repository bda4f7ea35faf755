package registry

import (
	"sort"
	"sync"
	"time"
)

// Ownership records who launched the process currently associated with a
// service, if any. Only Managed processes may be stopped or restarted.
type Ownership int

const (
	OwnNone Ownership = iota
	OwnManaged
	OwnExternal
)

func (o Ownership) String() string {
	switch o {
	case OwnManaged:
		return "managed"
	case OwnExternal:
		return "external"
	default:
		return "none"
	}
}

// Health is the last known application-level health verdict of a service.
type Health int

const (
	HealthUnknown Health = iota
	HealthHealthy
	HealthUnhealthy
	HealthUnreachable
)

func (h Health) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthUnhealthy:
		return "unhealthy"
	case HealthUnreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// State is the mutable per-service record. It is owned by the Registry and
// mutated only through Update; callers observe it via Snapshot copies.
type State struct {
	Name      string
	Ownership Ownership
	PID       int
	// StartUnix is the recorded start time of PID (Unix seconds), used to
	// detect PID reuse. Zero when unknown.
	StartUnix int64

	LastHealth          Health
	ConsecutiveFailures int
	NextBackoffDelay    time.Duration
	RestartCount        int
	LastRestartAt       time.Time
	Restarting          bool

	StartedAt time.Time
}

type entry struct {
	mu sync.Mutex
	st State
}

// Registry maps service name to its State. All mutation is funneled through
// Update, which holds a per-service lock so that read-modify-write cycles
// from the monitor and the control plane never interleave.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func New() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Create registers a service with an empty state. It is a no-op when the
// name is already present.
func (r *Registry) Create(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; ok {
		return
	}
	r.entries[name] = &entry{st: State{Name: name}}
}

// Remove drops a service from the registry. Only the orchestrator's final
// shutdown calls this; states are never removed mid-run.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	delete(r.entries, name)
	r.mu.Unlock()
}

// Update applies fn to the named service's state under its lock.
// It reports whether the service exists.
func (r *Registry) Update(name string, fn func(*State)) bool {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	e.mu.Lock()
	fn(&e.st)
	e.mu.Unlock()
	return true
}

// Snapshot returns a copy of the named service's state.
func (r *Registry) Snapshot(name string) (State, bool) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return State{}, false
	}
	e.mu.Lock()
	st := e.st
	e.mu.Unlock()
	return st, true
}

// SnapshotAll returns copies of every state, sorted by name for stable
// presentation.
func (r *Registry) SnapshotAll() []State {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()
	out := make([]State, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.st)
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered services.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
