package rcon

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EndpointSource returns the current endpoint configuration, keyed by
// endpoint key. It is called again on every Reload.
type EndpointSource func() (map[string]RawEndpoint, error)

// Logger receives the manager's events.
type Logger interface {
	Logf(area string, format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Logf(string, string, ...interface{}) {}

const logArea = "RCON"

// Options tune timeouts, retries and command templates.
type Options struct {
	ConnectTimeout   time.Duration
	CommandTimeout   time.Duration
	CloseTimeout     time.Duration
	Retry            RetryPolicy
	FailureThreshold int
	ProbeCommand     string
	Templates        Templates
	Now              func() time.Time
}

// DefaultOptions returns 8s connect, 10s command and 3s close timeouts, two
// retries with linear backoff and a failure threshold of three.
func DefaultOptions() Options {
	return Options{
		ConnectTimeout:   8 * time.Second,
		CommandTimeout:   10 * time.Second,
		CloseTimeout:     3 * time.Second,
		Retry:            DefaultRetryPolicy(),
		FailureThreshold: 3,
		ProbeCommand:     DefaultProbeCommand,
		Templates:        DefaultTemplates(),
		Now:              time.Now,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = def.ConnectTimeout
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = def.CommandTimeout
	}
	if o.CloseTimeout <= 0 {
		o.CloseTimeout = def.CloseTimeout
	}
	if o.Retry.Backoff == nil && o.Retry.MaxRetries == 0 && o.Retry.Sleep == nil {
		o.Retry = def.Retry
	}
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = def.FailureThreshold
	}
	if o.ProbeCommand == "" {
		o.ProbeCommand = def.ProbeCommand
	}
	o.Templates = o.Templates.withDefaults()
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Manager owns the endpoint registry and runs commands against it. It is
// safe for concurrent use.
type Manager struct {
	dialer Dialer
	source EndpointSource
	logger Logger
	opts   Options

	mu          sync.RWMutex
	endpoints   map[string]*endpoint
	order       []string
	initialized bool

	sessionsMu sync.Mutex
	sessions   map[uuid.UUID]*sessionHandle
}

// NewManager builds a manager and loads the source's endpoints once. A source
// error leaves the manager uninitialized; callers can retry with Reload.
func NewManager(dialer Dialer, source EndpointSource, logger Logger, opts Options) *Manager {
	if logger == nil {
		logger = nopLogger{}
	}
	m := &Manager{
		dialer:    dialer,
		source:    source,
		logger:    logger,
		opts:      opts.withDefaults(),
		endpoints: make(map[string]*endpoint),
		sessions:  make(map[uuid.UUID]*sessionHandle),
	}
	if source != nil {
		if err := m.Reload(); err != nil {
			logger.Logf(logArea, "initial endpoint load failed: %v", err)
		}
	}
	return m
}

// LoadEndpoints replaces the registry. Entries missing host, port or password
// are dropped. It returns the number of usable endpoints; zero leaves the
// manager uninitialized.
func (m *Manager) LoadEndpoints(raw map[string]RawEndpoint) int {
	keys := make([]string, 0, len(raw))
	for key := range raw {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	endpoints := make(map[string]*endpoint, len(keys))
	order := make([]string, 0, len(keys))
	for _, key := range keys {
		entry := raw[key]
		displayName := entry.DisplayName
		if displayName == "" {
			displayName = key
		}
		ep := newEndpoint(EndpointConfig{
			Key:         key,
			Host:        entry.Host,
			Port:        entry.Port,
			Password:    entry.Password,
			DisplayName: displayName,
			Enabled:     entry.Enabled,
		}, m.opts.FailureThreshold)

		if missing := ep.missingFields(); len(missing) > 0 {
			m.logger.Logf(logArea, "dropping endpoint %q: missing %v", key, missing)
			continue
		}
		endpoints[key] = ep
		order = append(order, key)
		m.logger.Logf(logArea, "loaded endpoint %q (%s) at %s, password %s, enabled=%t",
			key, displayName, ep.config.Address(), maskPassword(entry.Password), entry.Enabled)
	}

	m.mu.Lock()
	m.endpoints = endpoints
	m.order = order
	m.initialized = len(order) > 0
	m.mu.Unlock()

	if len(order) == 0 {
		m.logger.Logf(logArea, "no usable endpoints configured, manager is not initialized")
	}
	return len(order)
}

// Reload re-reads the source and swaps the registry in one step. On a source
// error the current registry is kept.
func (m *Manager) Reload() error {
	if m.source == nil {
		return &Error{Kind: ConfigurationError, Msg: "no endpoint source configured"}
	}
	raw, err := m.source()
	if err != nil {
		return fmt.Errorf("failed to read endpoint configuration: %w", err)
	}
	count := m.LoadEndpoints(raw)
	m.logger.Logf(logArea, "registry reloaded with %d endpoint(s)", count)
	return nil
}

// Initialized reports whether at least one usable endpoint is loaded.
func (m *Manager) Initialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initialized
}

func (m *Manager) lookup(key string) (*endpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.initialized {
		return nil, errNotInitialized()
	}
	ep, ok := m.endpoints[key]
	if !ok {
		known := make([]string, len(m.order))
		copy(known, m.order)
		return nil, errUnknownEndpoint(key, known)
	}
	return ep, nil
}

func (m *Manager) snapshot() []*endpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()

	eps := make([]*endpoint, 0, len(m.order))
	for _, key := range m.order {
		eps = append(eps, m.endpoints[key])
	}
	return eps
}

// ExecuteCommand runs one command on one endpoint. It never panics and
// always returns exactly one result.
func (m *Manager) ExecuteCommand(endpointKey, command string) CommandResult {
	ep, err := m.lookup(endpointKey)
	if err != nil {
		m.logger.Logf(logArea, "command rejected: %v", err)
		return failure(endpointKey, err).withCommand(command)
	}
	if err := ep.admit(command); err != nil {
		m.logger.Logf(logArea, "command rejected: %v", err)
		return failure(endpointKey, err).withCommand(command)
	}

	m.logger.Logf(logArea, "command attempted on %q: %s", endpointKey, command)
	started := m.opts.Now()
	response, err := m.runSession(ep.config, command)
	if err != nil {
		failures := ep.recordFailure(err)
		m.logger.Logf(logArea, "command failed on %q after %s (consecutive failures: %d): %v",
			endpointKey, m.opts.Now().Sub(started).Round(time.Millisecond), failures, err)
		return failure(endpointKey, err).withCommand(command)
	}

	ep.recordSuccess(m.opts.Now())
	m.logger.Logf(logArea, "command succeeded on %q in %s", endpointKey, m.opts.Now().Sub(started).Round(time.Millisecond))
	return CommandResult{
		Success:     true,
		Response:    response,
		EndpointKey: endpointKey,
		Command:     command,
	}
}

// GetAllEndpoints returns a status snapshot of every endpoint in
// configuration order.
func (m *Manager) GetAllEndpoints() []EndpointStatus {
	eps := m.snapshot()
	statuses := make([]EndpointStatus, 0, len(eps))
	for _, ep := range eps {
		statuses = append(statuses, ep.status())
	}
	return statuses
}

// GetEndpointStatus returns the status of one endpoint.
func (m *Manager) GetEndpointStatus(key string) (EndpointStatus, bool) {
	m.mu.RLock()
	ep, ok := m.endpoints[key]
	m.mu.RUnlock()
	if !ok {
		return EndpointStatus{}, false
	}
	return ep.status(), true
}

// ResetFailures clears the failure streak of one endpoint.
func (m *Manager) ResetFailures(key string) bool {
	m.mu.RLock()
	ep, ok := m.endpoints[key]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	ep.reset()
	m.logger.Logf(logArea, "failures reset for %q", key)
	return true
}

// ResetAllFailures clears every failure streak and returns how many
// endpoints were reset.
func (m *Manager) ResetAllFailures() int {
	eps := m.snapshot()
	for _, ep := range eps {
		ep.reset()
	}
	m.logger.Logf(logArea, "failures reset for %d endpoint(s)", len(eps))
	return len(eps)
}

// SelectBestAvailable returns the enabled, available endpoint with the
// highest health score. Ties go to the endpoint listed first.
func (m *Manager) SelectBestAvailable() (EndpointStatus, bool) {
	var (
		best  EndpointStatus
		found bool
	)
	for _, st := range m.GetAllEndpoints() {
		if !st.Enabled || !st.Available {
			continue
		}
		if !found || st.HealthScore > best.HealthScore {
			best = st
			found = true
		}
	}
	return best, found
}

// Shutdown terminates every in-flight session and leaves the manager
// uninitialized. Reload brings it back.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.initialized = false
	m.endpoints = make(map[string]*endpoint)
	m.order = nil
	m.mu.Unlock()

	m.sessionsMu.Lock()
	handles := m.sessions
	m.sessions = make(map[uuid.UUID]*sessionHandle)
	m.sessionsMu.Unlock()

	for id, h := range handles {
		h.terminate()
		m.logger.Logf(logArea, "session %s to %q terminated on shutdown", id, h.endpoint)
	}
	m.logger.Logf(logArea, "manager shut down, %d in-flight session(s) dropped", len(handles))
}

// InFlight returns the number of sessions currently open.
func (m *Manager) InFlight() int {
	m.sessionsMu.Lock()
	defer m.sessionsMu.Unlock()
	return len(m.sessions)
}

func (m *Manager) track(h *sessionHandle) uuid.UUID {
	id := uuid.New()
	m.sessionsMu.Lock()
	m.sessions[id] = h
	m.sessionsMu.Unlock()
	return id
}

func (m *Manager) untrack(id uuid.UUID) {
	m.sessionsMu.Lock()
	delete(m.sessions, id)
	m.sessionsMu.Unlock()
}
