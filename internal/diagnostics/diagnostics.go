// Package diagnostics publishes raw transport-layer frames over a
// PUB-only zeromq socket for offline wire-capture tooling. It is
// strictly optional and config-gated; nothing in internal/transport
// depends on it.
package diagnostics

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-zeromq/zmq4"
)

// Direction tags a published frame as inbound or outbound.
type Direction string

const (
	DirectionRX Direction = "rx"
	DirectionTX Direction = "tx"
)

// Config configures the PUB socket's bind address.
type Config struct {
	ListenURL string // e.g. "tcp://127.0.0.1:5680" or "ipc:///tmp/combo_diag"
}

// Tee is a PUB-only raw-frame broadcaster. Unlike the teacher's
// Concentratord driver, there is no paired REQ/REP command channel:
// this domain has no remote gateway to query, only a local debugging
// consumer to feed.
type Tee struct {
	cfg Config

	mu      sync.Mutex
	sock    zmq4.Socket
	running bool
}

// New constructs a Tee. Call Start to bind the PUB socket.
func New(cfg Config) *Tee {
	return &Tee{cfg: cfg}
}

// Start binds the PUB socket. The socket is closed when ctx is
// cancelled.
func (t *Tee) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return fmt.Errorf("diagnostics: already started")
	}
	sock := zmq4.NewPub(ctx)
	if err := sock.Listen(t.cfg.ListenURL); err != nil {
		return fmt.Errorf("diagnostics: listen %s: %w", t.cfg.ListenURL, err)
	}
	t.sock = sock
	t.running = true

	go func() {
		<-ctx.Done()
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.sock != nil {
			t.sock.Close()
			t.running = false
		}
	}()
	return nil
}

// Stop closes the PUB socket immediately.
func (t *Tee) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return nil
	}
	t.running = false
	return t.sock.Close()
}

// Publish sends one raw frame, tagged with addr and dir as a topic
// prefix so a subscriber can filter with zmq4.OptionSubscribe before
// seeing any payload bytes.
func (t *Tee) Publish(addr string, dir Direction, raw []byte) error {
	t.mu.Lock()
	sock := t.sock
	running := t.running
	t.mu.Unlock()
	if !running {
		return nil
	}
	topic := fmt.Sprintf("%s:%s", addr, dir)
	msg := zmq4.NewMsgFrom([]byte(topic), raw)
	return sock.Send(msg)
}
