package rcon

import (
	"context"
	"sync"
	"time"

	grcon "github.com/gorcon/rcon"
)

// Dialer opens an authenticated session to a remote console.
type Dialer interface {
	Dial(ctx context.Context, address, password string) (Session, error)
}

// Session is a single authenticated remote console connection.
//
// Close ends the session gracefully. Terminate drops the underlying socket
// without ceremony and must be safe to call at any time, including after Close.
type Session interface {
	Execute(command string) (interface{}, error)
	Close() error
	Terminate() error
}

// GorconDialer speaks the Source RCON protocol through github.com/gorcon/rcon.
type GorconDialer struct {
	// Deadline bounds every read and write on the socket. Zero keeps the
	// library default.
	Deadline time.Duration
}

// Dial connects and authenticates. The dial timeout follows the context
// deadline; a caller that gives up earlier gets ctx.Err() and the late
// connection is closed.
func (d GorconDialer) Dial(ctx context.Context, address, password string) (Session, error) {
	options := []grcon.Option{}
	if deadline, ok := ctx.Deadline(); ok {
		options = append(options, grcon.SetDialTimeout(time.Until(deadline)))
	}
	if d.Deadline > 0 {
		options = append(options, grcon.SetDeadline(d.Deadline))
	}

	type dialed struct {
		conn *grcon.Conn
		err  error
	}
	done := make(chan dialed, 1)
	go func() {
		conn, err := grcon.Dial(address, password, options...)
		done <- dialed{conn: conn, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}
		return &gorconSession{conn: res.conn}, nil
	case <-ctx.Done():
		go func() {
			if res := <-done; res.conn != nil {
				res.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

type gorconSession struct {
	conn *grcon.Conn

	once     sync.Once
	closeErr error
}

func (s *gorconSession) Execute(command string) (interface{}, error) {
	response, err := s.conn.Execute(command)
	return response, err
}

// Close and Terminate both end up closing the socket, which unblocks any
// pending read. The first call wins.
func (s *gorconSession) Close() error {
	s.once.Do(func() { s.closeErr = s.conn.Close() })
	return s.closeErr
}

func (s *gorconSession) Terminate() error {
	s.once.Do(func() { s.closeErr = s.conn.Close() })
	return nil
}
