package transport

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agsys/combo-control/internal/btio"
	"github.com/agsys/combo-control/internal/cryptoprim"
	"github.com/agsys/combo-control/internal/framecodec"
	"github.com/agsys/combo-control/internal/store"
)

// CmdAckResponse is the command code transport itself interprets: a
// reliable packet's acknowledgment, carrying the sequence bit being acked.
const CmdAckResponse uint8 = 0x3F

const (
	ackTimeout = 1500 * time.Millisecond
	maxRetries = 3
	macFailureWindow    = 1 * time.Second
	macFailureThreshold = 3
)

// Keys bundles the two long-term cipher keys negotiated during pairing.
type Keys struct {
	ClientPump cryptoprim.Key
	PumpClient cryptoprim.Key
}

// Conn is the authenticated, reliable transport channel over one RFCOMM
// socket (spec §4.C). It owns the send path, the receive loop, the
// sequence-bit state machine, and Tx-nonce persistence. Architecture
// (goroutines + channels + context cancel + mutex-guarded running flag) is
// grounded on the teacher's internal/lora.Driver.
type Conn struct {
	sock  btio.Socket
	keys  Keys
	store store.Store
	addr  string

	mu           sync.Mutex
	running      bool
	failed       error
	nextOutSeq   bool
	lastInSeq    *bool
	lastInNonce  *cryptoprim.Nonce
	macFailures  []time.Time

	deframer *framecodec.Deframer
	inbox    map[uint8]chan *Packet
	acks     chan *Packet

	group  *errgroup.Group
	cancel context.CancelFunc

	frameSink func(dir string, raw []byte)
}

// SetFrameSink installs an optional tap invoked with every raw framed
// byte sequence this Conn sends ("tx") or receives ("rx"), before
// decode/after encode. Intended for internal/diagnostics; nil (the
// default) disables the tap with no overhead beyond the nil check.
func (c *Conn) SetFrameSink(sink func(dir string, raw []byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frameSink = sink
}

func (c *Conn) tapFrame(dir string, raw []byte) {
	c.mu.Lock()
	sink := c.frameSink
	c.mu.Unlock()
	if sink != nil {
		sink(dir, raw)
	}
}

// NewConn constructs a Conn. addr is used only for log lines and nonce
// persistence; commandFamilies lists the command codes the caller wants
// delivered via Receive.
func NewConn(sock btio.Socket, keys Keys, st store.Store, addr string, commandFamilies []uint8) *Conn {
	inbox := make(map[uint8]chan *Packet, len(commandFamilies))
	for _, c := range commandFamilies {
		inbox[c] = make(chan *Packet, 16)
	}
	return &Conn{
		sock:     sock,
		keys:     keys,
		store:    st,
		addr:     addr,
		deframer: framecodec.NewDeframer(),
		inbox:    inbox,
		acks:     make(chan *Packet, 4),
	}
}

// Start launches the background receive loop. It returns once the loop
// goroutine is running; failures surface through subsequent Send/Receive
// calls and through Wait.
func (c *Conn) Start(ctx context.Context) {
	ctx, cancel := c.withCancel(ctx)
	c.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	c.group = g
	g.Go(func() error { return c.receiveLoop(gctx) })

	c.mu.Lock()
	c.running = true
	c.mu.Unlock()
}

func (c *Conn) withCancel(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithCancel(ctx)
}

// Wait blocks until the background loop exits and returns its error, if
// any.
func (c *Conn) Wait() error {
	if c.group == nil {
		return nil
	}
	return c.group.Wait()
}

// Stop tears down the connection: cancels the receive loop and closes the
// socket. Idempotent.
func (c *Conn) Stop() error {
	c.mu.Lock()
	running := c.running
	c.running = false
	c.mu.Unlock()
	if !running {
		return nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.deframer.Reset()
	return c.sock.Close()
}

func (c *Conn) markFailed(err error) {
	c.mu.Lock()
	if c.failed == nil {
		c.failed = err
	}
	c.mu.Unlock()
}

func (c *Conn) failure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failed
}

// Send transmits an authenticated packet. If reliable, it waits up to
// ackTimeout for a matching ACK_RESPONSE, retrying up to maxRetries times
// with the same nonce and sequence bit before giving up. The Tx nonce is
// persisted after every send attempt that actually reaches the socket.
func (c *Conn) Send(ctx context.Context, p *Packet) error {
	if err := c.failure(); err != nil {
		return &ErrTransportFailed{Cause: err}
	}

	c.mu.Lock()
	nonce, err := c.store.GetTxNonce(c.addr)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	p.Nonce = nonce
	if p.Reliable {
		p.SequenceBit = c.nextOutSeq
	}
	c.mu.Unlock()

	wire, err := p.EncodeAuthenticated(c.keys.ClientPump)
	if err != nil {
		return err
	}
	framed := framecodec.Frame(wire)

	attempts := 1
	if p.Reliable {
		attempts = 1 + maxRetries
	}

	c.tapFrame("tx", framed)

	var sendErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := c.sock.Send(ctx, framed); err != nil {
			sendErr = &BluetoothIOError{Err: err}
			c.markFailed(sendErr)
			return sendErr
		}
		if err := c.persistNonceAfterSend(nonce); err != nil {
			return err
		}
		if !p.Reliable {
			return nil
		}
		if c.waitForAck(ctx, p.SequenceBit) {
			c.mu.Lock()
			c.nextOutSeq = !c.nextOutSeq
			c.mu.Unlock()
			return nil
		}
		sendErr = &ProtocolError{Msg: fmt.Sprintf("no ACK for reliable packet, attempt %d/%d", attempt+1, attempts)}
	}
	c.markFailed(sendErr)
	return sendErr
}

func (c *Conn) persistNonceAfterSend(sent cryptoprim.Nonce) error {
	next := sent.Increment(1)
	if err := c.store.SetTxNonce(c.addr, next); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	// Re-read is unnecessary: we just wrote next, and nothing else in this
	// Conn mutates Tx nonce concurrently.
	return nil
}

func (c *Conn) waitForAck(ctx context.Context, seq bool) bool {
	deadline := time.NewTimer(ackTimeout)
	defer deadline.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case ack := <-c.acks:
			if ack.SequenceBit == seq {
				return true
			}
			// Stale ACK for a previous sequence bit; keep waiting.
		}
	}
}

// Receive blocks until a packet of the given command family arrives or
// ctx is cancelled. If the transport has already failed it returns
// ErrTransportFailed at once; a call that is already waiting when the
// failure happens keeps waiting for a packet or ctx.
func (c *Conn) Receive(ctx context.Context, command uint8) (*Packet, error) {
	if err := c.failure(); err != nil {
		return nil, &ErrTransportFailed{Cause: err}
	}
	ch, ok := c.inbox[command]
	if !ok {
		return nil, &ProtocolError{Msg: fmt.Sprintf("no inbox registered for command %d", command)}
	}
	select {
	case <-ctx.Done():
		return nil, &CancelledError{Err: ctx.Err()}
	case p := <-ch:
		return p, nil
	}
}

func (c *Conn) receiveLoop(ctx context.Context) error {
	for {
		raw, err := c.sock.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			wrapped := &BluetoothIOError{Err: err}
			c.markFailed(wrapped)
			return wrapped
		}
		for _, payload := range c.deframer.Feed(raw) {
			c.handleInbound(ctx, payload)
		}
	}
}

func (c *Conn) handleInbound(ctx context.Context, wire []byte) {
	c.tapFrame("rx", wire)
	p, err := DecodeAuthenticated(wire, c.keys.PumpClient)
	if err != nil {
		if _, isMac := err.(*MacMismatchError); isMac {
			if c.recordMacFailure() {
				c.markFailed(err)
			}
			return
		}
		log.Printf("transport[%s]: dropping unreadable packet: %v", c.addr, err)
		return
	}

	c.mu.Lock()
	if c.lastInNonce != nil && !c.lastInNonce.Less(p.Nonce) {
		c.mu.Unlock()
		log.Printf("transport[%s]: dropping replayed/duplicate nonce", c.addr)
		return
	}
	n := p.Nonce
	c.lastInNonce = &n
	duplicate := c.lastInSeq != nil && p.Reliable && *c.lastInSeq == p.SequenceBit
	if p.Reliable {
		seq := p.SequenceBit
		c.lastInSeq = &seq
	}
	c.mu.Unlock()

	if p.Reliable {
		c.sendAck(ctx, p.SequenceBit)
		if duplicate {
			return
		}
	}

	if p.Command == CmdAckResponse {
		select {
		case c.acks <- p:
		default:
		}
		return
	}

	ch, ok := c.inbox[p.Command]
	if !ok {
		log.Printf("transport[%s]: no inbox for command %d, dropping", c.addr, p.Command)
		return
	}
	select {
	case ch <- p:
	case <-ctx.Done():
	}
}

func (c *Conn) sendAck(ctx context.Context, seq bool) {
	ack := &Packet{
		Version:     1,
		Command:     CmdAckResponse,
		SequenceBit: seq,
		Address:     0,
	}
	if err := c.Send(ctx, ack); err != nil {
		log.Printf("transport[%s]: failed to send ACK: %v", c.addr, err)
	}
}

// recordMacFailure appends a failure timestamp and reports whether the
// threshold (macFailureThreshold within macFailureWindow) has been
// reached, per spec §9's concrete retry-threshold decision.
func (c *Conn) recordMacFailure() bool {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.macFailures = append(c.macFailures, now)
	cutoff := now.Add(-macFailureWindow)
	kept := c.macFailures[:0]
	for _, t := range c.macFailures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	c.macFailures = kept
	return len(c.macFailures) >= macFailureThreshold
}
