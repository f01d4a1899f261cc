package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"contactbot/internal/backoff"
	"contactbot/internal/domain"
)

// hubServer is a minimal in-process hub endpoint: it accepts the websocket
// upgrade, answers the protocol handshake, and hands each connection to fn.
type hubServer struct {
	srv *httptest.Server

	mu       sync.Mutex
	upgrades int
	headers  http.Header
}

func newHubServer(t *testing.T, fn func(ws *websocket.Conn)) *hubServer {
	t.Helper()
	hs := &hubServer{}
	upgrader := websocket.Upgrader{}

	hs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hs.mu.Lock()
		hs.upgrades++
		hs.headers = r.Header.Clone()
		hs.mu.Unlock()

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// Protocol handshake.
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
		ws.WriteMessage(websocket.TextMessage, append([]byte("{}"), recordSeparator))
		if fn != nil {
			fn(ws)
		}
	}))
	t.Cleanup(hs.srv.Close)
	return hs
}

func (hs *hubServer) url() string {
	return "ws" + strings.TrimPrefix(hs.srv.URL, "http")
}

func (hs *hubServer) upgradeCount() int {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return hs.upgrades
}

func testOptions(url string) Options {
	return Options{
		URL:              url,
		Authorization:    "res U-1:abc",
		MachineID:        "machine-1",
		AccessKey:        "access-key",
		EstablishTimeout: 2 * time.Second,
		PingInterval:     time.Hour, // keep pings out of the way
		Reconnect:        backoff.New(0, 10*time.Millisecond),
	}
}

func TestDial_SendsAuthHeaders(t *testing.T) {
	hs := newHubServer(t, func(ws *websocket.Conn) {
		ws.ReadMessage() // hold the connection open until close
	})

	conn, err := Dial(context.Background(), testOptions(hs.url()))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if got := conn.State(); got != domain.HubConnected {
		t.Errorf("state = %v, want connected", got)
	}

	hs.mu.Lock()
	defer hs.mu.Unlock()
	if hs.headers.Get("Authorization") != "res U-1:abc" {
		t.Errorf("Authorization = %q", hs.headers.Get("Authorization"))
	}
	if hs.headers.Get("UID") != "machine-1" {
		t.Errorf("UID = %q", hs.headers.Get("UID"))
	}
	if hs.headers.Get("SecretClientAccessKey") != "access-key" {
		t.Errorf("SecretClientAccessKey = %q", hs.headers.Get("SecretClientAccessKey"))
	}
}

func TestDial_Unreachable(t *testing.T) {
	opts := testOptions("ws://127.0.0.1:1/hub")
	opts.EstablishTimeout = 200 * time.Millisecond

	_, err := Dial(context.Background(), opts)
	var ce *ConnectionError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
}

func TestDial_HandshakeRejected(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ws.ReadMessage()
		ws.WriteMessage(websocket.TextMessage,
			append([]byte(`{"error":"bad protocol"}`), recordSeparator))
	}))
	defer srv.Close()

	_, err := Dial(context.Background(), testOptions("ws"+strings.TrimPrefix(srv.URL, "http")))
	var ce *ConnectionError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
	if !strings.Contains(err.Error(), "bad protocol") {
		t.Errorf("error should carry the handshake rejection: %v", err)
	}
}

func TestInboundEventDispatch(t *testing.T) {
	frame := `{"type":1,"target":"ReceiveMessage","arguments":[{"id":"M-1","senderId":"U-2"}]}`
	hs := newHubServer(t, func(ws *websocket.Conn) {
		ws.WriteMessage(websocket.TextMessage, append([]byte(frame), recordSeparator))
		ws.ReadMessage()
	})

	conn, err := Dial(context.Background(), testOptions(hs.url()))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	got := make(chan []json.RawMessage, 1)
	conn.On("ReceiveMessage", func(args []json.RawMessage) {
		got <- args
	})

	select {
	case args := <-got:
		if len(args) != 1 {
			t.Fatalf("args = %d, want 1", len(args))
		}
		var m struct {
			ID       string `json:"id"`
			SenderID string `json:"senderId"`
		}
		if err := json.Unmarshal(args[0], &m); err != nil {
			t.Fatal(err)
		}
		if m.ID != "M-1" || m.SenderID != "U-2" {
			t.Errorf("message = %+v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler never invoked")
	}
}

func TestSend_WritesInvocation(t *testing.T) {
	frames := make(chan []byte, 1)
	hs := newHubServer(t, func(ws *websocket.Conn) {
		_, data, err := ws.ReadMessage()
		if err == nil {
			frames <- data
		}
	})

	conn, err := Dial(context.Background(), testOptions(hs.url()))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if err := conn.Send(context.Background(), "SendMessage", map[string]string{"id": "M-9"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case data := <-frames:
		parts := splitFrames(data)
		if len(parts) != 1 {
			t.Fatalf("frames = %d, want 1", len(parts))
		}
		var msg hubMessage
		if err := json.Unmarshal(parts[0], &msg); err != nil {
			t.Fatal(err)
		}
		if msg.Type != messageInvocation || msg.Target != "SendMessage" {
			t.Errorf("frame = %+v", msg)
		}
		if len(msg.Arguments) != 1 {
			t.Errorf("arguments = %d, want 1", len(msg.Arguments))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the invocation")
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	var connections atomic.Int32
	hs := newHubServer(t, func(ws *websocket.Conn) {
		// Drop the first connection; keep later ones open.
		if connections.Add(1) == 1 {
			ws.Close()
			return
		}
		ws.ReadMessage()
	})

	opts := testOptions(hs.url())
	conn, err := Dial(context.Background(), opts)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	// The server handler returns right after the handshake, so the
	// connection drops and the supervisor must dial again.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if hs.upgradeCount() >= 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no reconnect observed, upgrades = %d", hs.upgradeCount())
}

func TestClose_Twice(t *testing.T) {
	hs := newHubServer(t, func(ws *websocket.Conn) {
		ws.ReadMessage()
	})

	conn, err := Dial(context.Background(), testOptions(hs.url()))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	if err := conn.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if conn.State() != domain.HubClosed {
		t.Errorf("state = %v, want closed", conn.State())
	}
	if err := conn.Close(); !errors.Is(err, ErrAlreadyClosed) {
		t.Fatalf("second Close = %v, want ErrAlreadyClosed", err)
	}
}

func TestClose_AfterPeerDrop(t *testing.T) {
	hs := newHubServer(t, func(ws *websocket.Conn) {
		ws.Close()
	})

	opts := testOptions(hs.url())
	opts.Reconnect = backoff.Fixed(time.Hour) // park the supervisor between attempts
	conn, err := Dial(context.Background(), opts)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	// Let the read loop observe the drop before tearing down.
	time.Sleep(50 * time.Millisecond)

	if err := conn.Close(); err != nil {
		t.Fatalf("Close after peer drop = %v, want nil", err)
	}
	if conn.State() != domain.HubClosed {
		t.Errorf("state = %v, want closed", conn.State())
	}
}

func TestSend_AfterClose(t *testing.T) {
	hs := newHubServer(t, func(ws *websocket.Conn) {
		ws.ReadMessage()
	})

	conn, err := Dial(context.Background(), testOptions(hs.url()))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	conn.Close()

	err = conn.Send(context.Background(), "SendMessage", "payload")
	var se *SendError
	if !errors.As(err, &se) {
		t.Fatalf("expected SendError, got %v", err)
	}
}

func TestSplitFrames(t *testing.T) {
	data := append([]byte(`{"type":6}`), recordSeparator)
	data = append(data, append([]byte(`{"type":1,"target":"X"}`), recordSeparator)...)

	frames := splitFrames(data)
	if len(frames) != 2 {
		t.Fatalf("frames = %d, want 2", len(frames))
	}
}
