package rcon

import (
	"math"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RawEndpoint is one entry as supplied by the configuration source.
type RawEndpoint struct {
	Host        string
	Port        int
	Password    string
	DisplayName string
	Enabled     bool
}

// EndpointConfig is the static description of a usable endpoint.
type EndpointConfig struct {
	Key         string
	Host        string
	Port        int
	Password    string
	DisplayName string
	Enabled     bool
}

// Address returns host:port.
func (c EndpointConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// EndpointStatus is a point-in-time snapshot of an endpoint and its health.
type EndpointStatus struct {
	Key                 string     `json:"key"`
	DisplayName         string     `json:"display_name"`
	Host                string     `json:"host"`
	Port                int        `json:"port"`
	Password            string     `json:"password"`
	Enabled             bool       `json:"enabled"`
	Available           bool       `json:"available"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	TotalCommands       int64      `json:"total_commands"`
	SuccessfulCommands  int64      `json:"successful_commands"`
	SuccessRate         float64    `json:"success_rate"`
	HealthScore         int        `json:"health_score"`
	LastConnectionAt    *time.Time `json:"last_connection_at,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
}

// endpoint pairs a config with its runtime state. mu guards every field
// below it.
type endpoint struct {
	config    EndpointConfig
	threshold int

	mu                  sync.Mutex
	consecutiveFailures int
	available           bool
	lastConnectionAt    time.Time
	lastError           string
	totalCommands       int64
	successfulCommands  int64
}

func newEndpoint(cfg EndpointConfig, threshold int) *endpoint {
	return &endpoint{
		config:    cfg,
		threshold: threshold,
		available: cfg.Enabled,
	}
}

func (e *endpoint) missingFields() []string {
	var missing []string
	if strings.TrimSpace(e.config.Host) == "" {
		missing = append(missing, "host")
	}
	if e.config.Port <= 0 || e.config.Port > 65535 {
		missing = append(missing, "port")
	}
	if e.config.Password == "" {
		missing = append(missing, "password")
	}
	return missing
}

// admit runs the availability gate and, when it passes, counts the attempt.
// Empty commands are turned away without counting.
func (e *endpoint) admit(command string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.config.Enabled {
		return errDisabled(e.config)
	}
	if e.consecutiveFailures >= e.threshold {
		e.available = false
		return errTooManyFailures(e.config, e.consecutiveFailures)
	}
	if strings.TrimSpace(command) == "" {
		return errEmptyCommand(e.config.Key)
	}

	e.totalCommands++
	return nil
}

func (e *endpoint) recordSuccess(at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.successfulCommands++
	e.consecutiveFailures = 0
	e.available = e.config.Enabled
	e.lastConnectionAt = at
	e.lastError = ""
}

func (e *endpoint) recordFailure(err error) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.consecutiveFailures++
	e.lastError = err.Error()
	e.available = e.config.Enabled && e.consecutiveFailures < e.threshold
	return e.consecutiveFailures
}

func (e *endpoint) reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.consecutiveFailures = 0
	e.available = e.config.Enabled
	e.lastError = ""
}

func (e *endpoint) status() EndpointStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := EndpointStatus{
		Key:                 e.config.Key,
		DisplayName:         e.config.DisplayName,
		Host:                e.config.Host,
		Port:                e.config.Port,
		Password:            maskPassword(e.config.Password),
		Enabled:             e.config.Enabled,
		Available:           e.available,
		ConsecutiveFailures: e.consecutiveFailures,
		TotalCommands:       e.totalCommands,
		SuccessfulCommands:  e.successfulCommands,
		SuccessRate:         successRate(e.totalCommands, e.successfulCommands),
		HealthScore:         HealthScore(e.totalCommands, e.successfulCommands, e.consecutiveFailures),
		LastError:           e.lastError,
	}
	if !e.lastConnectionAt.IsZero() {
		at := e.lastConnectionAt
		st.LastConnectionAt = &at
	}
	return st
}

func successRate(total, successful int64) float64 {
	if total == 0 {
		return 100
	}
	return float64(successful) / float64(total) * 100
}

// HealthScore rates an endpoint from 0 to 100: its success rate minus ten
// points per consecutive failure. Untested endpoints score 100.
func HealthScore(total, successful int64, consecutiveFailures int) int {
	score := successRate(total, successful) - float64(consecutiveFailures*10)
	return int(math.Round(math.Max(0, math.Min(100, score))))
}

func maskPassword(password string) string {
	if len(password) <= 2 {
		return "****"
	}
	return password[:2] + "****"
}
