package target

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// TCPRunner is a Runner transport that dials a plain TCP address and
// exchanges wire frames directly over the connection — the simplest of
// xJet's two shipped transports, useful for a remote runner reachable
// without an SSH hop (e.g. a container on the same network).
type TCPRunner struct {
	name    string
	address string
	timeout time.Duration

	mu   sync.Mutex
	conn net.Conn
}

// NewTCPRunner builds a TCPRunner identified by name, dialing address on
// Connect.
func NewTCPRunner(name, address string, timeout time.Duration) *TCPRunner {
	return &TCPRunner{name: name, address: address, timeout: timeout}
}

func (r *TCPRunner) Name() string { return r.name }

// Connect dials address and pumps the connection's bytes into receive,
// chunk by chunk, until it closes.
func (r *TCPRunner) Connect(ctx context.Context, receive func([]byte)) error {
	d := net.Dialer{Timeout: r.timeout}
	conn, err := d.DialContext(ctx, "tcp", r.address)
	if err != nil {
		return fmt.Errorf("dial %s: %w", r.address, err)
	}
	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()

	go pumpFrames(conn, receive)
	return nil
}

// Dispatch writes payload to the connection.
func (r *TCPRunner) Dispatch(ctx context.Context, payload []byte) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("tcp runner %s: not connected", r.name)
	}
	_, err := conn.Write(payload)
	return err
}

// Disconnect closes the connection.
func (r *TCPRunner) Disconnect(ctx context.Context) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}
