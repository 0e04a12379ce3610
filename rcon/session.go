package rcon

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// sessionHandle owns one Session for the length of one command.
type sessionHandle struct {
	endpoint string
	session  Session

	mu         sync.Mutex
	closed     bool
	terminated bool
}

func (h *sessionHandle) terminate() {
	h.mu.Lock()
	if h.terminated {
		h.mu.Unlock()
		return
	}
	h.terminated = true
	h.mu.Unlock()

	h.session.Terminate()
}

// release closes the session exactly once: gracefully within timeout, by
// force otherwise. Errors are returned for logging only.
func (h *sessionHandle) release(timeout time.Duration) (forced bool, err error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false, nil
	}
	h.closed = true
	alreadyTerminated := h.terminated
	h.mu.Unlock()

	if alreadyTerminated {
		return true, nil
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("close panicked: %v", r)
			}
		}()
		done <- h.session.Close()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err = <-done:
		if err == nil {
			return false, nil
		}
	case <-timer.C:
		err = &Error{Kind: TimeoutError, Endpoint: h.endpoint, Msg: fmt.Sprintf("graceful close of %q timed out after %s", h.endpoint, timeout)}
	}

	h.terminate()
	return true, err
}

type dialResult struct {
	session Session
	err     error
}

type execResult struct {
	raw interface{}
	err error
}

// runSession connects, runs one command and always releases the session
// before returning.
func (m *Manager) runSession(cfg EndpointConfig, command string) (response string, err error) {
	address := cfg.Address()

	session, attempts, err := Retry(m.opts.Retry, func(attempt int) (Session, error) {
		return m.connect(cfg, address, attempt)
	}, func(retry int, delay time.Duration, lastErr error) {
		m.logger.Logf(logArea, "retry %d/%d for %q scheduled in %s after: %v",
			retry, m.opts.Retry.Attempts()-1, cfg.Key, delay, lastErr)
	})
	if err != nil {
		if isTimeout(err) {
			return "", &Error{
				Kind:     TimeoutError,
				Endpoint: cfg.Key,
				Msg:      fmt.Sprintf("connection to %q at %s timed out after %d attempt(s)", cfg.Key, address, attempts),
				Err:      err,
			}
		}
		return "", &Error{
			Kind:     ConnectionError,
			Endpoint: cfg.Key,
			Msg:      fmt.Sprintf("connection to %q at %s failed after %d attempt(s)", cfg.Key, address, attempts),
			Err:      err,
		}
	}

	handle := &sessionHandle{endpoint: cfg.Key, session: session}
	id := m.track(handle)
	m.logger.Logf(logArea, "connection opened to %q (%s), session %s", cfg.Key, address, id)

	defer func() {
		forced, closeErr := handle.release(m.opts.CloseTimeout)
		m.untrack(id)
		switch {
		case closeErr != nil:
			m.logger.Logf(logArea, "session %s to %q force-closed after close error: %v", id, cfg.Key, closeErr)
		case forced:
			m.logger.Logf(logArea, "session %s to %q force-closed", id, cfg.Key)
		default:
			m.logger.Logf(logArea, "connection closed to %q, session %s", cfg.Key, id)
		}
	}()

	raw, err := m.execute(handle, cfg, command)
	if err != nil {
		return "", err
	}
	return normalizeResponse(raw), nil
}

// connect runs one dial attempt bounded by the connect timeout. A dial that
// completes after the deadline is terminated in the background.
func (m *Manager) connect(cfg EndpointConfig, address string, attempt int) (Session, error) {
	if m.dialer == nil {
		return nil, &Error{Kind: ConfigurationError, Endpoint: cfg.Key, Msg: "no RCON dialer configured"}
	}
	m.logger.Logf(logArea, "connecting to %q at %s (attempt %d/%d)", cfg.Key, address, attempt, m.opts.Retry.Attempts())

	ctx, cancel := context.WithTimeout(context.Background(), m.opts.ConnectTimeout)
	defer cancel()

	results := make(chan dialResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				results <- dialResult{err: fmt.Errorf("dial panicked: %v", r)}
			}
		}()
		session, err := m.dialer.Dial(ctx, address, cfg.Password)
		results <- dialResult{session: session, err: err}
	}()

	select {
	case res := <-results:
		if res.err != nil {
			if res.session != nil {
				res.session.Terminate()
			}
			if ctx.Err() == context.DeadlineExceeded {
				return nil, m.connectTimeout(cfg, address, res.err)
			}
			return nil, res.err
		}
		if res.session == nil {
			return nil, fmt.Errorf("dialer returned no session for %s", address)
		}
		return res.session, nil
	case <-ctx.Done():
		go func() {
			if res := <-results; res.session != nil {
				res.session.Terminate()
			}
		}()
		return nil, m.connectTimeout(cfg, address, nil)
	}
}

func (m *Manager) connectTimeout(cfg EndpointConfig, address string, cause error) error {
	return &Error{
		Kind:     TimeoutError,
		Endpoint: cfg.Key,
		Msg:      fmt.Sprintf("connect to %s timed out after %s (server unreachable)", address, m.opts.ConnectTimeout),
		Err:      cause,
	}
}

// execute sends the command and waits for the response within the command
// timeout. On expiry the socket is terminated so the exchange unblocks.
func (m *Manager) execute(handle *sessionHandle, cfg EndpointConfig, command string) (interface{}, error) {
	results := make(chan execResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				results <- execResult{err: fmt.Errorf("command panicked: %v", r)}
			}
		}()
		raw, err := handle.session.Execute(command)
		results <- execResult{raw: raw, err: err}
	}()

	timer := time.NewTimer(m.opts.CommandTimeout)
	defer timer.Stop()

	select {
	case res := <-results:
		if res.err != nil {
			return nil, &Error{
				Kind:     ConnectionError,
				Endpoint: cfg.Key,
				Msg:      fmt.Sprintf("command on %q failed", cfg.Key),
				Err:      res.err,
			}
		}
		return res.raw, nil
	case <-timer.C:
		handle.terminate()
		return nil, &Error{
			Kind:     TimeoutError,
			Endpoint: cfg.Key,
			Msg:      fmt.Sprintf("command on %q timed out after %s (server connected but did not respond)", cfg.Key, m.opts.CommandTimeout),
		}
	}
}
