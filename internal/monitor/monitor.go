// Package monitor exposes the four observable flows named in spec §6
// (displayFrameFlow, parsedScreenFlow, statusFlow, progressFlow) to any
// number of local UI processes over a JSON/websocket server. Direction
// is inverted relative to the teacher's internal/cloud.Client: this
// side accepts connections and pushes, it never dials out.
package monitor

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// FlowType names one of the four observable flows a Message carries.
type FlowType string

const (
	FlowDisplayFrame FlowType = "display_frame"
	FlowParsedScreen FlowType = "parsed_screen"
	FlowStatus       FlowType = "status"
	FlowProgress     FlowType = "progress"
)

// Message is the envelope pushed to every connected subscriber, mirroring
// the teacher's cloud.Message shape (Type/ID/Timestamp/Payload).
type Message struct {
	Type      FlowType        `json:"type"`
	Addr      string          `json:"addr"`
	ID        string          `json:"id,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Config configures the websocket server.
type Config struct {
	ListenAddr   string
	WriteTimeout time.Duration
	PingInterval time.Duration
}

// DefaultConfig returns sane defaults for Config's timing fields.
func DefaultConfig() Config {
	return Config{WriteTimeout: 10 * time.Second, PingInterval: 30 * time.Second}
}

// Server fans out flow messages to every currently connected UI
// process. One Server instance serves every acquired pump; Publish*
// calls are tagged with the originating address.
type Server struct {
	cfg      Config
	upgrader websocket.Upgrader
	httpSrv  *http.Server

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	conn     *websocket.Conn
	sendChan chan *Message
	done     chan struct{}
}

// New constructs a Server. Call Start to begin listening.
func New(cfg Config) *Server {
	return &Server{
		cfg:  cfg,
		subs: make(map[*subscriber]struct{}),
	}
}

// Start begins listening on cfg.ListenAddr and serving websocket
// upgrades at "/". The listener is opened in a background goroutine and
// Start returns at once with a nil error, before the listener is bound; a
// listen or serve failure is only logged. Shutdown happens through ctx
// cancellation.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWS)
	s.httpSrv = &http.Server{Addr: s.cfg.ListenAddr, Handler: mux}

	go func() {
		<-ctx.Done()
		_ = s.httpSrv.Close()
	}()

	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("monitor: serve: %v", err)
		}
	}()
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("monitor: upgrade: %v", err)
		return
	}
	sub := &subscriber{conn: conn, sendChan: make(chan *Message, 64), done: make(chan struct{})}

	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	go s.writeLoop(sub)
	s.readLoop(sub)
}

// readLoop discards inbound frames (this server is push-only) and
// exists solely to detect disconnection, same split the teacher's
// cloud.Client uses between read and write loops.
func (s *Server) readLoop(sub *subscriber) {
	defer s.removeSubscriber(sub)
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writeLoop(sub *subscriber) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sub.done:
			return
		case msg := <-sub.sendChan:
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			sub.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := sub.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			sub.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) removeSubscriber(sub *subscriber) {
	s.mu.Lock()
	delete(s.subs, sub)
	s.mu.Unlock()
	close(sub.done)
	sub.conn.Close()
}

// publish marshals payload and fans it out to every connected
// subscriber; a subscriber whose send queue is full drops the message
// rather than blocking the publisher.
func (s *Server) publish(flow FlowType, addr string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("monitor: marshal %s: %v", flow, err)
		return
	}
	msg := &Message{Type: flow, Addr: addr, ID: uuid.NewString(), Timestamp: time.Now().Unix(), Payload: data}

	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs {
		select {
		case sub.sendChan <- msg:
		default:
		}
	}
}

// PublishDisplayFrame fans out one reassembled RT display frame.
func (s *Server) PublishDisplayFrame(addr string, frame interface{}) {
	s.publish(FlowDisplayFrame, addr, frame)
}

// PublishParsedScreen fans out one de-duplicated parsed screen.
func (s *Server) PublishParsedScreen(addr string, screen interface{}) {
	s.publish(FlowParsedScreen, addr, screen)
}

// PublishStatus fans out a refreshed pump status snapshot.
func (s *Server) PublishStatus(addr string, status interface{}) {
	s.publish(FlowStatus, addr, status)
}

// PublishProgress fans out a progress report for one long operation.
func (s *Server) PublishProgress(addr string, report interface{}) {
	s.publish(FlowProgress, addr, report)
}
