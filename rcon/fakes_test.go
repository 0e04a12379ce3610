package rcon

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MockError is a plain error for transport fakes.
type MockError struct {
	Message string
}

func (e *MockError) Error() string {
	return e.Message
}

// fakeDialer hands out fakeSessions and records every dial.
type fakeDialer struct {
	mu        sync.Mutex
	dials     int
	failFirst int
	fail      bool
	dialDelay time.Duration
	failHosts map[string]bool

	execute    func(command string) (interface{}, error)
	closeErr   error
	closeDelay time.Duration
	sessions   []*fakeSession
}

func (d *fakeDialer) Dial(ctx context.Context, address, password string) (Session, error) {
	d.mu.Lock()
	d.dials++
	n := d.dials
	host, _, _ := strings.Cut(address, ":")
	fail := d.fail || n <= d.failFirst || d.failHosts[host]
	d.mu.Unlock()

	if d.dialDelay > 0 {
		select {
		case <-time.After(d.dialDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, &MockError{Message: fmt.Sprintf("dial %s refused (attempt %d)", address, n)}
	}

	s := &fakeSession{
		execute:    d.execute,
		closeErr:   d.closeErr,
		closeDelay: d.closeDelay,
		unblock:    make(chan struct{}),
	}
	d.mu.Lock()
	d.sessions = append(d.sessions, s)
	d.mu.Unlock()
	return s, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) allSessions() []*fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*fakeSession, len(d.sessions))
	copy(out, d.sessions)
	return out
}

// fakeSession runs execute and counts closes. A session whose execute
// blocks is released by Terminate.
type fakeSession struct {
	execute    func(command string) (interface{}, error)
	closeErr   error
	closeDelay time.Duration

	mu         sync.Mutex
	commands   []string
	closes     int
	terminates int
	unblock    chan struct{}
	once       sync.Once
}

var errTerminated = errors.New("use of closed network connection")

func (s *fakeSession) Execute(command string) (interface{}, error) {
	s.mu.Lock()
	s.commands = append(s.commands, command)
	s.mu.Unlock()

	if s.execute == nil {
		return "ok", nil
	}
	return s.execute(command)
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()

	if s.closeDelay > 0 {
		select {
		case <-time.After(s.closeDelay):
		case <-s.unblock:
		}
	}
	return s.closeErr
}

func (s *fakeSession) Terminate() error {
	s.mu.Lock()
	s.terminates++
	s.mu.Unlock()
	s.once.Do(func() { close(s.unblock) })
	return nil
}

func (s *fakeSession) counts() (closes, terminates int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes, s.terminates
}

func (s *fakeSession) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.commands))
	copy(out, s.commands)
	return out
}

// recordingLogger keeps every line it is given.
type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) Logf(area string, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf("[%s] ", area)+fmt.Sprintf(format, args...))
}

func (l *recordingLogger) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.lines))
	copy(out, l.lines)
	return out
}

func noDelay(int) time.Duration { return 0 }

func testOptions() Options {
	opts := DefaultOptions()
	opts.Retry = RetryPolicy{MaxRetries: 2, Backoff: noDelay}
	opts.ConnectTimeout = time.Second
	opts.CommandTimeout = time.Second
	opts.CloseTimeout = time.Second
	return opts
}

func mainEndpoint() map[string]RawEndpoint {
	return map[string]RawEndpoint{
		"main": {Host: "127.0.0.1", Port: 27020, Password: "secret", DisplayName: "Main", Enabled: true},
	}
}

func staticSource(raw map[string]RawEndpoint) EndpointSource {
	return func() (map[string]RawEndpoint, error) {
		return raw, nil
	}
}

func newTestManager(d *fakeDialer, raw map[string]RawEndpoint) *Manager {
	return NewManager(d, staticSource(raw), &recordingLogger{}, testOptions())
}
