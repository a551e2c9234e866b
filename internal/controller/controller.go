// Package controller wires transport, application, store, navigation and
// screenstream into the public pump operations (spec §4.H): pair,
// connect/disconnect, switch mode, CMD-mode reads and therapy commands,
// and RT-mode basal/bolus adjustment. One Controller instance serves any
// number of pump addresses, each held exclusively via Acquire/Release.
package controller

import (
	"context"
	"fmt"
	"sync"

	"github.com/agsys/combo-control/internal/application"
	"github.com/agsys/combo-control/internal/btio"
	"github.com/agsys/combo-control/internal/diagnostics"
	"github.com/agsys/combo-control/internal/display"
	"github.com/agsys/combo-control/internal/navigation"
	"github.com/agsys/combo-control/internal/screenstream"
	"github.com/agsys/combo-control/internal/store"
	"github.com/agsys/combo-control/internal/transport"
)

// dataCommand is the post-pairing transport command code that carries
// application-layer DATA frames. Pairing-phase codes are enumerated in
// internal/transport (CmdReqPairingConn..CmdPairingDisconnect, 0x01-0x0E);
// this value is outside that range and is not published in the pairing
// handshake itself, so it is fixed here rather than in internal/transport.
const dataCommand uint8 = 0x10

// commandFamilies is the transport command set a Conn must deliver to
// Conn.Receive (read by pumpInboundLoop): DATA frames only, everything else (acks, pairing
// codes once connected) is handled inside transport.Conn itself.
var commandFamilies = []uint8{dataCommand}

// Mode is which logical RT/CMD mode the pump is currently switched to
// (spec §4.D: a pump serves one active service at a time).
type Mode int

const (
	ModeNone Mode = iota
	ModeCommand
	ModeRemoteTerminal
)

// Config bundles the collaborators a Controller needs. BTProvider and
// PinPrompt are supplied by the host application; Store is durable
// pairing/nonce/TBR state; Major/Minor are the application header
// version fields to send.
type Config struct {
	BTProvider btio.Provider
	PinPrompt  btio.PinPrompt
	Store      store.Store
	Major      uint8
	Minor      uint8

	// Diagnostics, if set, receives every raw frame each connected
	// pump's transport.Conn sends or receives (spec's supplemented
	// wire-capture tooling). Optional; nil disables the tap entirely.
	Diagnostics *diagnostics.Tee
}

// AlreadyAcquiredError is returned by Acquire when another caller already
// holds the pump address (spec §4.H / Non-goals: acquire/release is the
// only cross-caller arbitration provided).
type AlreadyAcquiredError struct{ Addr string }

func (e *AlreadyAcquiredError) Error() string {
	return fmt.Sprintf("controller: %s already acquired", e.Addr)
}

// NotAcquiredError is returned by any operation that requires a prior
// Acquire for the pump address.
type NotAcquiredError struct{ Addr string }

func (e *NotAcquiredError) Error() string {
	return fmt.Sprintf("controller: %s not acquired", e.Addr)
}

// pumpSession is a held connection's live state.
type pumpSession struct {
	sock    btio.Socket
	conn    *transport.Conn
	session *application.Session
	mode    Mode
	pc      *navigation.PressController
	stream  *screenstream.Stream
	cancel  context.CancelFunc
}

// Controller is the single entry point for pump operations. It is safe
// for concurrent use by callers holding distinct addresses; per-address
// serialization is enforced by the acquire/release arbitration below, not
// by taking a global lock around every operation.
type Controller struct {
	cfg Config

	mu       sync.Mutex
	acquired map[string]*pumpSession
	rt       RTConfig
}

// New constructs a Controller over cfg.
func New(cfg Config) *Controller {
	return &Controller{cfg: cfg, acquired: make(map[string]*pumpSession)}
}

// Acquire claims exclusive use of addr for the calling goroutine tree.
// Every other operation on addr requires a prior successful Acquire.
func (c *Controller) Acquire(addr string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.acquired[addr]; ok {
		return &AlreadyAcquiredError{Addr: addr}
	}
	c.acquired[addr] = &pumpSession{}
	return nil
}

// Release frees addr, disconnecting first if still connected.
func (c *Controller) Release(addr string) error {
	c.mu.Lock()
	ps, ok := c.acquired[addr]
	if !ok {
		c.mu.Unlock()
		return &NotAcquiredError{Addr: addr}
	}
	delete(c.acquired, addr)
	c.mu.Unlock()

	if ps.conn != nil {
		return c.teardown(addr, ps)
	}
	return nil
}

func (c *Controller) session(addr string) (*pumpSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ps, ok := c.acquired[addr]
	if !ok {
		return nil, &NotAcquiredError{Addr: addr}
	}
	return ps, nil
}

// Pair runs the pairing handshake over a fresh RFCOMM connection to addr
// and persists the resulting invariant data (spec §4.C). addr must
// already be acquired; Pair does not itself connect the application
// session, callers call Connect afterward. On failure it removes the
// OS-level Bluetooth pairing; the store entry is only created once the
// handshake has succeeded.
func (c *Controller) Pair(ctx context.Context, addr string) error {
	if _, err := c.session(addr); err != nil {
		return err
	}
	sock, err := c.cfg.BTProvider.ConnectRFCOMM(ctx, addr)
	if err != nil {
		return err
	}
	defer sock.Close()

	result, err := transport.Pair(ctx, sock, addr, c.cfg.PinPrompt)
	if err != nil {
		_ = c.cfg.BTProvider.Unpair(context.Background(), addr)
		return err
	}
	if err := c.cfg.Store.Create(addr, result.Invariant); err != nil {
		_ = c.cfg.BTProvider.Unpair(context.Background(), addr)
		return &store.StoreAccessError{Op: "Create", Err: err}
	}
	return nil
}

// Unpair removes addr from the store and from OS-level Bluetooth pairing
// (spec §4.H). addr must be acquired and not currently connected.
func (c *Controller) Unpair(ctx context.Context, addr string) error {
	ps, err := c.session(addr)
	if err != nil {
		return err
	}
	if ps.conn != nil {
		return fmt.Errorf("controller: %s must be disconnected before Unpair", addr)
	}
	if _, err := c.cfg.Store.Delete(addr); err != nil {
		return &store.StoreAccessError{Op: "Delete", Err: err}
	}
	return c.cfg.BTProvider.Unpair(ctx, addr)
}

// Connect opens the RFCOMM socket, constructs the authenticated
// transport.Conn, and activates the application session (spec §4.C,
// §4.D). The pump starts in ModeNone; call SwitchMode to activate
// CMD or RT service.
func (c *Controller) Connect(ctx context.Context, addr string) error {
	ps, err := c.session(addr)
	if err != nil {
		return err
	}
	if ps.conn != nil {
		return nil
	}
	invariant, err := c.cfg.Store.GetInvariant(addr)
	if err != nil {
		return &store.StoreAccessError{Op: "GetInvariant", Err: err}
	}
	sock, err := c.cfg.BTProvider.ConnectRFCOMM(ctx, addr)
	if err != nil {
		return err
	}
	keys := transport.Keys{ClientPump: invariant.ClientPumpCipher, PumpClient: invariant.PumpClientCipher}
	conn := transport.NewConn(sock, keys, c.cfg.Store, addr, commandFamilies)
	if c.cfg.Diagnostics != nil {
		conn.SetFrameSink(func(dir string, raw []byte) {
			d := diagnostics.DirectionRX
			if dir == "tx" {
				d = diagnostics.DirectionTX
			}
			_ = c.cfg.Diagnostics.Publish(addr, d, raw)
		})
	}

	connCtx, cancel := context.WithCancel(context.Background())
	conn.Start(connCtx)

	session := application.NewSession(conn, c.cfg.Major, c.cfg.Minor, nil)
	go c.pumpInboundLoop(connCtx, conn, session)

	if err := bindSession(ctx, session); err != nil {
		cancel()
		_ = conn.Stop()
		return err
	}

	c.mu.Lock()
	ps.sock = sock
	ps.conn = conn
	ps.session = session
	ps.cancel = cancel
	ps.pc = navigation.NewPressController(sessionSender{session})
	c.mu.Unlock()
	return nil
}

// bindSession runs the mandatory control handshake spec §4.D/§4.H require
// before any service may be activated: CTRL_CONNECT followed by
// CTRL_BIND, each awaited for its response. SwitchMode performs the
// third leg, CTRL_ACTIVATE_SERVICE, once the caller picks a mode.
func bindSession(ctx context.Context, session *application.Session) error {
	if err := session.Send(ctx, dataCommand, application.CmdCtrlConnect, nil); err != nil {
		return err
	}
	if _, err := awaitResponse(ctx, session, application.CmdCtrlConnectResponse); err != nil {
		return err
	}
	if err := session.Send(ctx, dataCommand, application.CmdCtrlBind, nil); err != nil {
		return err
	}
	if _, err := awaitResponse(ctx, session, application.CmdCtrlBindResponse); err != nil {
		return err
	}
	return nil
}

// pumpInboundLoop forwards every DATA-family packet the Conn delivers
// into the application Session, the same split the teacher's
// internal/lora.Driver uses between a raw receive loop and a decoding
// layer above it.
func (c *Controller) pumpInboundLoop(ctx context.Context, conn *transport.Conn, session *application.Session) {
	for {
		p, err := conn.Receive(ctx, dataCommand)
		if err != nil {
			return
		}
		session.HandleInbound(p)
	}
}

// Disconnect tears down the transport connection for addr; the pump
// remains acquired and can be reconnected.
func (c *Controller) Disconnect(ctx context.Context, addr string) error {
	ps, err := c.session(addr)
	if err != nil {
		return err
	}
	if ps.conn == nil {
		return nil
	}
	return c.teardown(addr, ps)
}

func (c *Controller) teardown(addr string, ps *pumpSession) error {
	if ps.stream != nil {
		ps.stream.Close()
		ps.stream = nil
	}
	if ps.cancel != nil {
		ps.cancel()
	}
	var err error
	if ps.conn != nil {
		err = ps.conn.Stop()
	}
	ps.conn = nil
	ps.session = nil
	ps.pc = nil
	ps.mode = ModeNone
	return err
}

// SwitchMode activates the CMD or RT service via the control channel
// (spec §4.D) and updates RT plumbing (keep-alive, screen stream)
// accordingly.
func (c *Controller) SwitchMode(ctx context.Context, addr string, mode Mode) error {
	ps, err := c.session(addr)
	if err != nil {
		return err
	}
	if ps.session == nil {
		return fmt.Errorf("controller: %s not connected", addr)
	}
	if ps.mode == mode {
		return nil
	}
	if ps.mode == ModeRemoteTerminal {
		ps.session.StopKeepAlive()
		if ps.stream != nil {
			ps.stream.Close()
			ps.stream = nil
		}
	}
	service := application.ServiceCommand
	if mode == ModeRemoteTerminal {
		service = application.ServiceRT
	}
	payload := []byte{uint8(service)}
	if err := ps.session.Send(ctx, dataCommand, application.CmdCtrlActivateService, payload); err != nil {
		return err
	}
	if mode == ModeRemoteTerminal {
		ps.session.StartKeepAlive(ctx, dataCommand)
	}
	ps.mode = mode
	return nil
}

// sessionSender adapts an application.Session to navigation.Sender so
// PressController can drive RT_BUTTON_STATUS sends without depending on
// the application package directly.
type sessionSender struct{ session *application.Session }

func (s sessionSender) SendButtonStatus(ctx context.Context, code navigation.ButtonCode, flagChanged bool) error {
	payload := []byte{uint8(code)}
	if flagChanged {
		payload = append(payload, 1)
	} else {
		payload = append(payload, 0)
	}
	return s.session.Send(ctx, dataCommand, application.CmdRTButtonStatus, payload)
}

// openScreenStream lazily starts the active-mode screen stream used by
// RT operations that need to read the live display (spec §4.F, §4.H).
func (c *Controller) openScreenStream(ctx context.Context, addr string, ps *pumpSession) (<-chan screenstream.Result, error) {
	if ps.stream == nil {
		dismiss := func(dismissCtx context.Context) error {
			return ps.pc.ShortPress(dismissCtx, navigation.Check)
		}
		st, err := screenstream.NewActive(addr, dismiss)
		if err != nil {
			return nil, err
		}
		ps.stream = st
	}
	return ps.stream.Run(ctx, pointerFrames(ctx, ps.session.Frames())), nil
}

// pointerFrames adapts a Session's value-typed frame channel to the
// pointer-typed channel screenstream.Stream consumes; screenstream
// compares pointers for its cheap stage-1 dedup, so each value gets a
// fresh address here rather than being reused across iterations.
func pointerFrames(ctx context.Context, in <-chan application.DisplayFrame) <-chan *display.DisplayFrame {
	out := make(chan *display.DisplayFrame, 4)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case frame, ok := <-in:
				if !ok {
					return
				}
				f := frame
				select {
				case out <- &f:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
