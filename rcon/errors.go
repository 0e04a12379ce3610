package rcon

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies why a command could not be executed.
type ErrorKind int

const (
	// ConfigurationError means the manager has no endpoints or the key is unknown.
	ConfigurationError ErrorKind = iota + 1
	// AvailabilityError means the endpoint is disabled or over its failure threshold.
	AvailabilityError
	// ConnectionError means connecting, authenticating or exchanging a packet failed.
	ConnectionError
	// TimeoutError means connect, command or close exceeded its budget.
	TimeoutError
	// ProtocolError means a response arrived but could not be used.
	ProtocolError
)

func (k ErrorKind) String() string {
	switch k {
	case ConfigurationError:
		return "configuration"
	case AvailabilityError:
		return "availability"
	case ConnectionError:
		return "connection"
	case TimeoutError:
		return "timeout"
	case ProtocolError:
		return "protocol"
	default:
		return "unknown"
	}
}

// Error is the error type produced by the manager. Its message is always
// human readable and never empty.
type Error struct {
	Kind     ErrorKind
	Endpoint string
	Msg      string
	Err      error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String() + " error"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of an error produced by this package.
func KindOf(err error) (ErrorKind, bool) {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Kind, true
	}
	return 0, false
}

func errNotInitialized() error {
	return &Error{Kind: ConfigurationError, Msg: "RCON manager not initialized: no usable endpoints are configured"}
}

func errUnknownEndpoint(key string, known []string) error {
	list := "none configured"
	if len(known) > 0 {
		list = strings.Join(known, ", ")
	}
	return &Error{
		Kind:     ConfigurationError,
		Endpoint: key,
		Msg:      fmt.Sprintf("unknown RCON endpoint %q (known endpoints: %s)", key, list),
	}
}

func errEmptyCommand(key string) error {
	return &Error{Kind: ConfigurationError, Endpoint: key, Msg: fmt.Sprintf("refusing to send an empty command to %q", key)}
}

func errDisabled(cfg EndpointConfig) error {
	return &Error{
		Kind:     AvailabilityError,
		Endpoint: cfg.Key,
		Msg:      fmt.Sprintf("RCON endpoint %q (%s) is disabled by configuration", cfg.Key, cfg.DisplayName),
	}
}

func errTooManyFailures(cfg EndpointConfig, failures int) error {
	return &Error{
		Kind:     AvailabilityError,
		Endpoint: cfg.Key,
		Msg: fmt.Sprintf("RCON endpoint %q has too many consecutive failures (%d); reset it before sending more commands",
			cfg.Key, failures),
	}
}

func isTimeout(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind == TimeoutError
}
