package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agsys/combo-control/internal/application"
	"github.com/agsys/combo-control/internal/btio"
	"github.com/agsys/combo-control/internal/cryptoprim"
	"github.com/agsys/combo-control/internal/framecodec"
	"github.com/agsys/combo-control/internal/store"
	"github.com/agsys/combo-control/internal/transport"
)

// fakeSocket is an in-process half-duplex btio.Socket, the same loopback
// shape internal/transport's own Conn tests use to exercise a Conn
// without a real Bluetooth stack (see transport/conn_test.go's
// halfDuplex).
type fakeSocket struct {
	mu   sync.Mutex
	cond *sync.Cond
	q    [][]byte
	peer *fakeSocket
}

func newFakeSocketPair() (*fakeSocket, *fakeSocket) {
	a := &fakeSocket{}
	a.cond = sync.NewCond(&a.mu)
	b := &fakeSocket{}
	b.cond = sync.NewCond(&b.mu)
	a.peer = b
	b.peer = a
	return a, b
}

func (f *fakeSocket) Send(ctx context.Context, b []byte) error {
	f.peer.mu.Lock()
	f.peer.q = append(f.peer.q, append([]byte{}, b...))
	f.peer.cond.Signal()
	f.peer.mu.Unlock()
	return nil
}

func (f *fakeSocket) Recv(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for len(f.q) == 0 {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		f.cond.Wait()
	}
	next := f.q[0]
	f.q = f.q[1:]
	return next, nil
}

func (f *fakeSocket) Close() error { return nil }

// fakeStore is an in-memory store.Store backing a single fake pump
// address, used as Controller.Config.Store in end-to-end tests. TBR
// writes are captured so tests can assert SetTbr persisted correctly.
type fakeStore struct {
	mu        sync.Mutex
	invariant store.InvariantData
	nonce     map[string]cryptoprim.Nonce
	utcOffset map[string]int
	tbr       map[string]*store.TBRSnapshot
}

func newFakeStore(invariant store.InvariantData) *fakeStore {
	return &fakeStore{
		invariant: invariant,
		nonce:     map[string]cryptoprim.Nonce{},
		utcOffset: map[string]int{},
		tbr:       map[string]*store.TBRSnapshot{},
	}
}

func (s *fakeStore) Create(addr string, d store.InvariantData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invariant = d
	return nil
}

func (s *fakeStore) Delete(addr string) (bool, error) { return true, nil }
func (s *fakeStore) Has(addr string) (bool, error)    { return true, nil }
func (s *fakeStore) ListAddresses() ([]string, error) { return nil, nil }

func (s *fakeStore) GetInvariant(addr string) (store.InvariantData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invariant, nil
}

func (s *fakeStore) GetTxNonce(addr string) (cryptoprim.Nonce, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nonce[addr], nil
}

func (s *fakeStore) SetTxNonce(addr string, n cryptoprim.Nonce) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nonce[addr] = n
	return nil
}

func (s *fakeStore) GetUTCOffset(addr string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.utcOffset[addr], nil
}

func (s *fakeStore) SetUTCOffset(addr string, seconds int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.utcOffset[addr] = seconds
	return nil
}

func (s *fakeStore) GetTBR(addr string) (*store.TBRSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tbr[addr], nil
}

func (s *fakeStore) SetTBR(addr string, snap *store.TBRSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tbr[addr] = snap
	return nil
}

// pumpNonceStore is the minimal store.Store the simulated pump side of a
// fakePump connection needs: transport.Conn only ever calls
// Get/SetTxNonce on the address it was constructed with.
type pumpNonceStore struct {
	mu    sync.Mutex
	nonce cryptoprim.Nonce
}

func (s *pumpNonceStore) Create(addr string, d store.InvariantData) error { return nil }
func (s *pumpNonceStore) Delete(addr string) (bool, error)                { return true, nil }
func (s *pumpNonceStore) Has(addr string) (bool, error)                   { return true, nil }
func (s *pumpNonceStore) ListAddresses() ([]string, error)                { return nil, nil }
func (s *pumpNonceStore) GetInvariant(addr string) (store.InvariantData, error) {
	return store.InvariantData{}, nil
}
func (s *pumpNonceStore) GetTxNonce(addr string) (cryptoprim.Nonce, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nonce, nil
}
func (s *pumpNonceStore) SetTxNonce(addr string, n cryptoprim.Nonce) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nonce = n
	return nil
}
func (s *pumpNonceStore) GetUTCOffset(addr string) (int, error)       { return 0, nil }
func (s *pumpNonceStore) SetUTCOffset(addr string, seconds int) error { return nil }
func (s *pumpNonceStore) GetTBR(addr string) (*store.TBRSnapshot, error) {
	return nil, nil
}
func (s *pumpNonceStore) SetTBR(addr string, snap *store.TBRSnapshot) error { return nil }

// cmdResponder is invoked by fakePump for every delivered packet the
// built-in control-channel handling does not already answer. Returning
// ok=false sends nothing back, simulating a command the fake pump
// doesn't implement for a given test.
type cmdResponder func(cmd application.Command, payload []byte) (respCmd application.Command, respPayload []byte, ok bool)

// fakePump simulates a Combo pump's application-layer behavior across a
// fresh transport.Conn per RFCOMM connection: it answers CTRL_CONNECT,
// CTRL_BIND and CTRL_ACTIVATE_SERVICE automatically (the handshake every
// Connect/SwitchMode needs) and defers anything else to respond, which
// a test sets up for the CMD/RT exchanges it cares about.
type fakePump struct {
	keys    transport.Keys
	respond cmdResponder
}

func newFakePump(keys transport.Keys, respond cmdResponder) *fakePump {
	return &fakePump{keys: keys, respond: respond}
}

// newClientSocket spins up a fresh loopback pair and a simulated pump
// session on one end, returning the socket the real Controller-side
// Conn should use as its btio.Socket.
func (fp *fakePump) newClientSocket(ctx context.Context) btio.Socket {
	clientSock, pumpSock := newFakeSocketPair()
	pumpKeys := transport.Keys{ClientPump: fp.keys.PumpClient, PumpClient: fp.keys.ClientPump}
	pumpConn := transport.NewConn(pumpSock, pumpKeys, &pumpNonceStore{}, "pump", []uint8{dataCommand})

	pumpCtx, cancel := context.WithCancel(context.Background())
	pumpConn.Start(pumpCtx)
	pumpSession := application.NewSession(pumpConn, 1, 0, nil)

	go func() {
		for {
			p, err := pumpConn.Receive(pumpCtx, dataCommand)
			if err != nil {
				return
			}
			pumpSession.HandleInbound(p)
		}
	}()
	go fp.serve(pumpCtx, pumpSession)
	go func() {
		<-ctx.Done()
		cancel()
		_ = pumpConn.Stop()
	}()
	return clientSock
}

func (fp *fakePump) serve(ctx context.Context, session *application.Session) {
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-session.Delivered():
			if !ok {
				return
			}
			if respCmd, payload, handled := fp.builtinResponse(p.Header.Command, p.Payload); handled {
				_ = session.Send(ctx, dataCommand, respCmd, payload)
				continue
			}
			if fp.respond == nil {
				continue
			}
			if respCmd, payload, ok := fp.respond(p.Header.Command, p.Payload); ok {
				_ = session.Send(ctx, dataCommand, respCmd, payload)
			}
		}
	}
}

func (fp *fakePump) builtinResponse(cmd application.Command, payload []byte) (application.Command, []byte, bool) {
	switch cmd {
	case application.CmdCtrlConnect:
		return application.CmdCtrlConnectResponse, nil, true
	case application.CmdCtrlBind:
		return application.CmdCtrlBindResponse, nil, true
	case application.CmdCtrlActivateService:
		return application.CmdCtrlActivateServiceResp, nil, true
	}
	return 0, nil, false
}

// fakeBluetoothProvider implements btio.Provider over a set of
// in-process fakePump peers, keyed by address, standing in for the
// platform Bluetooth stack internal/btio deliberately leaves
// unimplemented.
type fakeBluetoothProvider struct {
	mu      sync.Mutex
	pumps   map[string]*fakePump
	pairing map[string]btio.Socket
}

func newFakeBluetoothProvider() *fakeBluetoothProvider {
	return &fakeBluetoothProvider{pumps: map[string]*fakePump{}, pairing: map[string]btio.Socket{}}
}

func (p *fakeBluetoothProvider) addPump(addr string, fp *fakePump) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pumps[addr] = fp
}

// addPairingSocket registers a one-shot socket ConnectRFCOMM returns for
// addr, used by pairing tests that script the handshake directly rather
// than going through a fakePump's application-layer responder.
func (p *fakeBluetoothProvider) addPairingSocket(addr string, sock btio.Socket) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pairing[addr] = sock
}

func (p *fakeBluetoothProvider) ScanForCombo(ctx context.Context, onFound func(btio.FoundPump)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for addr := range p.pumps {
		onFound(btio.FoundPump{Address: addr, Name: "fake-combo"})
	}
	return nil
}

func (p *fakeBluetoothProvider) ConnectRFCOMM(ctx context.Context, addr string) (btio.Socket, error) {
	p.mu.Lock()
	if sock, ok := p.pairing[addr]; ok {
		p.mu.Unlock()
		return sock, nil
	}
	fp, ok := p.pumps[addr]
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("fake bluetooth: no pump registered at %s", addr)
	}
	return fp.newClientSocket(ctx), nil
}

func (p *fakeBluetoothProvider) Unpair(ctx context.Context, addr string) error { return nil }

func (p *fakeBluetoothProvider) AdapterFriendlyName(ctx context.Context) (string, error) {
	return "fake-adapter", nil
}

// testKeys mirrors transport/conn_test.go's testKeys: two distinguishable
// fixed keys, used from the client's perspective (the simulated pump
// swaps them when constructing its own Conn).
func testKeys() transport.Keys {
	var a, b cryptoprim.Key
	for i := range a {
		a[i] = byte(i)
		b[i] = byte(255 - i)
	}
	return transport.Keys{ClientPump: a, PumpClient: b}
}

// newTestController wires a Controller over a single fake pump at addr,
// with respond answering whatever CMD-mode exchange a test needs beyond
// the built-in control handshake. It returns the Controller already
// Acquire()d for addr.
func newTestController(addr string, respond cmdResponder) (*Controller, *fakeStore) {
	keys := testKeys()
	invariant := store.InvariantData{ClientPumpCipher: keys.ClientPump, PumpClientCipher: keys.PumpClient, PumpID: "fake-pump"}
	st := newFakeStore(invariant)
	bt := newFakeBluetoothProvider()
	bt.addPump(addr, newFakePump(keys, respond))

	c := New(Config{BTProvider: bt, Store: st, Major: 1, Minor: 0})
	if err := c.Acquire(addr); err != nil {
		panic(err)
	}
	return c, st
}

func testContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

// fakePairingSocket drives a canned pairing-handshake conversation over
// transport.Pair, the same scripted-reply shape
// transport/pairing_test.go's fakePinSocket uses, reproduced here since
// that type is unexported in its own package.
type pairingReply struct {
	cmd     uint8
	payload []byte
}

type fakePairingSocket struct {
	d       *framecodec.Deframer
	script  [][]pairingReply
	step    int
	pending [][]byte
}

func (f *fakePairingSocket) Send(ctx context.Context, b []byte) error {
	for _, payload := range f.d.Feed(b) {
		if _, err := transport.DecodePairing(payload); err != nil {
			return fmt.Errorf("fakePairingSocket: bad outbound packet: %w", err)
		}
		if f.step >= len(f.script) {
			return fmt.Errorf("fakePairingSocket: unexpected extra send")
		}
		for _, r := range f.script[f.step] {
			replyAddr := transport.PackAddress(1, 0)
			if r.cmd == transport.CmdKeyResponse {
				replyAddr = transport.PackAddress(0, 1)
			}
			reply := &transport.Packet{Version: 1, Command: r.cmd, Address: replyAddr, Payload: r.payload}
			f.pending = append(f.pending, reply.EncodePairing())
		}
		f.step++
	}
	return nil
}

func (f *fakePairingSocket) Recv(ctx context.Context) ([]byte, error) {
	if len(f.pending) == 0 {
		return nil, fmt.Errorf("fakePairingSocket: Recv called with nothing pending")
	}
	next := f.pending[0]
	f.pending = f.pending[1:]
	return framecodec.Frame(next), nil
}

func (f *fakePairingSocket) Close() error { return nil }

type fakePinPrompt struct{ pin [10]uint8 }

func (f fakePinPrompt) AskPIN(ctx context.Context, addr string, previousAttemptFailed bool) ([10]uint8, error) {
	return f.pin, nil
}
