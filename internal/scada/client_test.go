package scada

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// ─── Fake Broker ───

// fakeBroker emulates the remote tag broker: the two REST token
// endpoints plus the streaming websocket endpoint.
type fakeBroker struct {
	t      *testing.T
	server *httptest.Server

	validToken string
	username   string
	password   string

	mu        sync.Mutex
	conns     []*websocket.Conn
	loginHits int
	probeHits int

	// frames received from clients, decoded inner payloads
	frames chan inboundPayload

	// dropNext forces the next stream connection to be closed
	// immediately after the subscription frame arrives.
	dropNext bool
}

func newFakeBroker(t *testing.T) *fakeBroker {
	b := &fakeBroker{
		t:          t,
		validToken: "live-token-123",
		username:   "homeowner",
		password:   "hunter2hunter2",
		frames:     make(chan inboundPayload, 32),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(tokenProbePath, b.handleProbe)
	mux.HandleFunc(tokenIssuePath, b.handleLogin)
	mux.HandleFunc(streamPath, b.handleStream)
	b.server = httptest.NewServer(mux)
	t.Cleanup(b.server.Close)
	return b
}

func (b *fakeBroker) target() string {
	return strings.TrimPrefix(b.server.URL, "http://")
}

func (b *fakeBroker) handleProbe(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.probeHits++
	b.mu.Unlock()

	if r.Header.Get("Authorization") == "Token "+b.validToken {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusUnauthorized)
}

func (b *fakeBroker) handleLogin(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.loginHits++
	b.mu.Unlock()

	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if r.FormValue("username") != b.username || r.FormValue("password") != b.password {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"token": b.validToken}) //nolint:errcheck // Test server
}

func (b *fakeBroker) handleStream(w http.ResponseWriter, r *http.Request) {
	// The client carries its token as the websocket subprotocol.
	protos := websocket.Subprotocols(r)
	if len(protos) != 1 || protos[0] != b.validToken {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	b.mu.Lock()
	b.conns = append(b.conns, conn)
	drop := b.dropNext
	b.dropNext = false
	b.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		payload, err := decodeEnvelope(data)
		if err != nil {
			b.t.Errorf("broker received unparseable frame: %v", err)
			continue
		}
		b.frames <- payload
		if drop {
			conn.Close()
			return
		}
	}
}

// push sends a notify_tag frame to the most recent client connection.
func (b *fakeBroker) push(tag string, value any) {
	b.mu.Lock()
	conn := b.conns[len(b.conns)-1]
	b.mu.Unlock()

	inner, _ := json.Marshal(inboundPayload{Type: msgTypeNotifyTag, Tag: tag, Value: value, Time: "2026-03-01T07:30:00Z"})
	outer, _ := json.Marshal(envelope{Message: string(inner)})
	if err := conn.WriteMessage(websocket.TextMessage, outer); err != nil {
		b.t.Errorf("broker push failed: %v", err)
	}
}

func (b *fakeBroker) connCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

func (b *fakeBroker) waitFrame(t *testing.T) inboundPayload {
	t.Helper()
	select {
	case f := <-b.frames:
		return f
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for broker frame")
		return inboundPayload{}
	}
}

func newTestClient(b *fakeBroker) *Client {
	return New(Config{
		Target:         b.target(),
		Identity:       b.username,
		Secret:         b.password,
		DisableTLS:     true,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     200 * time.Millisecond,
	})
}

// ─── Tests ───

func TestAuthenticate_CachedTokenAccepted(t *testing.T) {
	broker := newFakeBroker(t)

	client := New(Config{
		Target:     broker.target(),
		Token:      broker.validToken,
		DisableTLS: true,
	})

	if err := client.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}

	broker.mu.Lock()
	defer broker.mu.Unlock()
	if broker.probeHits != 1 {
		t.Errorf("probeHits = %d, want 1", broker.probeHits)
	}
	if broker.loginHits != 0 {
		t.Errorf("loginHits = %d, want 0 (cached token was live)", broker.loginHits)
	}
}

func TestAuthenticate_StaleTokenFallsBackToLogin(t *testing.T) {
	broker := newFakeBroker(t)

	client := New(Config{
		Target:     broker.target(),
		Identity:   broker.username,
		Secret:     broker.password,
		Token:      "stale-token",
		DisableTLS: true,
	})

	if err := client.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}

	client.credMu.RLock()
	got := client.cred.Token
	client.credMu.RUnlock()
	if got != broker.validToken {
		t.Errorf("cached token = %q, want the freshly issued token", got)
	}

	broker.mu.Lock()
	defer broker.mu.Unlock()
	if broker.loginHits != 1 {
		t.Errorf("loginHits = %d, want 1", broker.loginHits)
	}
}

func TestAuthenticate_BadCredentials(t *testing.T) {
	broker := newFakeBroker(t)

	client := New(Config{
		Target:     broker.target(),
		Identity:   broker.username,
		Secret:     "wrong",
		DisableTLS: true,
	})

	err := client.Authenticate(context.Background())
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("Authenticate() error = %v, want ErrAuthFailed", err)
	}
}

func TestConnect_SubscribesInitialTags(t *testing.T) {
	broker := newFakeBroker(t)
	client := newTestClient(broker)
	defer client.Close() //nolint:errcheck // Test cleanup

	tags := []string{"home.light01.onoff", "home.meter.power"}
	if err := client.Connect(context.Background(), tags); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if client.State() != StateConnected {
		t.Errorf("State() = %v, want connected", client.State())
	}

	frame := broker.waitFrame(t)
	if frame.Type != "add_tags" {
		t.Fatalf("first frame type = %q, want add_tags", frame.Type)
	}
}

func TestStart_DeliversUpdatesInOrder(t *testing.T) {
	broker := newFakeBroker(t)
	client := newTestClient(broker)
	defer client.Close() //nolint:errcheck // Test cleanup

	var mu sync.Mutex
	var got []TagUpdate
	received := make(chan struct{}, 16)
	client.SetOnUpdate(func(u TagUpdate) {
		mu.Lock()
		got = append(got, u)
		mu.Unlock()
		received <- struct{}{}
	})

	if err := client.Start(context.Background(), []string{"home.light01.Brightness"}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	broker.waitFrame(t) // consume add_tags

	broker.push("home.light01.Brightness", "80")
	broker.push("home.light01.Brightness", "81")
	broker.push("home.light01.onoff", true)

	for n := 0; n < 3; n++ {
		select {
		case <-received:
		case <-time.After(3 * time.Second):
			t.Fatal("timed out waiting for updates")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 3 {
		t.Fatalf("received %d updates, want 3", len(got))
	}
	if got[0].Value != "80" || got[1].Value != "81" {
		t.Errorf("per-tag order not preserved: %v then %v", got[0].Value, got[1].Value)
	}
	if got[2].Tag != "home.light01.onoff" {
		t.Errorf("third update tag = %q, want home.light01.onoff", got[2].Tag)
	}
}

func TestSendValue_NotConnected(t *testing.T) {
	client := New(Config{Target: "127.0.0.1:1", DisableTLS: true})

	err := client.SendValue("home.fan02.shake", true)
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("SendValue() error = %v, want ErrNotConnected", err)
	}
}

func TestSendValue_WritesSetTag(t *testing.T) {
	broker := newFakeBroker(t)
	client := newTestClient(broker)
	defer client.Close() //nolint:errcheck // Test cleanup

	if err := client.Start(context.Background(), []string{"home.fan02.shake"}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	broker.waitFrame(t) // consume add_tags

	if err := client.SendValue("home.fan02.shake", true); err != nil {
		t.Fatalf("SendValue() error = %v", err)
	}

	frame := broker.waitFrame(t)
	if frame.Type != "set_tag" {
		t.Fatalf("frame type = %q, want set_tag", frame.Type)
	}
	if frame.Tag != "home.fan02.shake" {
		t.Errorf("frame tag = %q, want home.fan02.shake", frame.Tag)
	}
	if frame.Value != true {
		t.Errorf("frame value = %v, want true", frame.Value)
	}
}

func TestReconnect_ResubscribesTagSet(t *testing.T) {
	broker := newFakeBroker(t)
	broker.dropNext = true // first stream connection dies after add_tags

	client := newTestClient(broker)
	defer client.Close() //nolint:errcheck // Test cleanup

	tags := []string{"home.light01.onoff", "home.meter.power"}
	if err := client.Start(context.Background(), tags); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// First connection: add_tags, then the broker drops it.
	first := broker.waitFrame(t)
	if first.Type != "add_tags" {
		t.Fatalf("first frame type = %q, want add_tags", first.Type)
	}

	// The client must come back on its own and re-issue the same set.
	second := broker.waitFrame(t)
	if second.Type != "add_tags" {
		t.Fatalf("resubscription frame type = %q, want add_tags", second.Type)
	}

	deadline := time.Now().Add(3 * time.Second)
	for client.State() != StateConnected && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if client.State() != StateConnected {
		t.Fatalf("State() = %v, want connected after reconnect", client.State())
	}
	if broker.connCount() < 2 {
		t.Errorf("connCount = %d, want at least 2", broker.connCount())
	}
	if client.Stats().ReconnectsTotal == 0 {
		t.Error("ReconnectsTotal = 0, want at least 1")
	}
}

func TestClient_MalformedFrameDoesNotKillLoop(t *testing.T) {
	broker := newFakeBroker(t)
	client := newTestClient(broker)
	defer client.Close() //nolint:errcheck // Test cleanup

	received := make(chan TagUpdate, 1)
	client.SetOnUpdate(func(u TagUpdate) { received <- u })

	if err := client.Start(context.Background(), []string{"home.light01.onoff"}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	broker.waitFrame(t) // consume add_tags

	// Garbage frame first, then a valid one.
	broker.mu.Lock()
	conn := broker.conns[len(broker.conns)-1]
	broker.mu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, []byte("garbage")); err != nil {
		t.Fatalf("writing garbage: %v", err)
	}
	broker.push("home.light01.onoff", true)

	select {
	case u := <-received:
		if u.Tag != "home.light01.onoff" {
			t.Errorf("Tag = %q, want home.light01.onoff", u.Tag)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("receive loop died after malformed frame")
	}

	if client.Stats().ParseFailures == 0 {
		t.Error("ParseFailures = 0, want at least 1")
	}
}

func TestClose_Idempotent(t *testing.T) {
	broker := newFakeBroker(t)
	client := newTestClient(broker)

	if err := client.Start(context.Background(), nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("first Close() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	if client.State() != StateClosed {
		t.Errorf("State() = %v, want closed", client.State())
	}
	if err := client.Start(context.Background(), nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Start() after Close error = %v, want ErrClosed", err)
	}
}

func TestConnectionState_String(t *testing.T) {
	tests := []struct {
		state ConnectionState
		want  string
	}{
		{StateUnauthenticated, "unauthenticated"},
		{StateAuthenticating, "authenticating"},
		{StateConnected, "connected"},
		{StateReconnecting, "reconnecting"},
		{StateClosed, "closed"},
		{ConnectionState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestMergeTags(t *testing.T) {
	got := mergeTags([]string{"a", "b"}, []string{"b", "c", "", "a"})
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("mergeTags() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("mergeTags()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
