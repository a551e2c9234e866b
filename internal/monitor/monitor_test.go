package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/agsys/combo-control/internal/controller"
	"github.com/gorilla/websocket"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := New(DefaultConfig())
	hs := httptest.NewServer(http.HandlerFunc(s.handleWS))
	return s, hs
}

func dialTestServer(t *testing.T, hs *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(hs.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestPublishParsedScreenReachesSubscriber(t *testing.T) {
	s, hs := newTestServer(t)
	defer hs.Close()
	conn := dialTestServer(t, hs)
	defer conn.Close()

	time.Sleep(20 * time.Millisecond) // let handleWS register the subscriber
	s.PublishParsedScreen("aa:bb", map[string]int{"kind": 3})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type != FlowParsedScreen || msg.Addr != "aa:bb" {
		t.Fatalf("msg = %+v, want parsed_screen/aa:bb", msg)
	}
}

func TestWatchProgressRepublishesUntilTerminal(t *testing.T) {
	s, hs := newTestServer(t)
	defer hs.Close()
	conn := dialTestServer(t, hs)
	defer conn.Close()
	time.Sleep(20 * time.Millisecond)

	reporter := controller.NewProgressReporter([]controller.Stage{
		{Name: "working"},
		{Name: "done", Class: controller.StageFinished},
	})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.WatchProgress(ctx, "aa:bb", reporter)

	reporter.SetStage(1, 0)

	sawTerminal := false
	for i := 0; i < 5; i++ {
		conn.SetReadDeadline(time.Now().Add(time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type != FlowProgress {
			continue
		}
		var report controller.Report
		if err := json.Unmarshal(msg.Payload, &report); err != nil {
			t.Fatalf("unmarshal report: %v", err)
		}
		if report.OverallProgress >= 1 {
			sawTerminal = true
			break
		}
	}
	if !sawTerminal {
		t.Fatal("expected a terminal progress report")
	}
}
