package connmgr

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/roguecord/hub/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// testServer accepts one websocket connection per request and registers it
// with the manager, mirroring how the session/signaling handler will use
// AddSession in the real server.
func testServer(t *testing.T, m *Manager) (*httptest.Server, func(t *testing.T) *websocket.Conn) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		m.AddSession(conn, r.RemoteAddr)
		// Keep the connection open until the client closes it.
		ctx := r.Context()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}))

	dial := func(t *testing.T) *websocket.Conn {
		t.Helper()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		url := "ws" + srv.URL[len("http"):]
		conn, _, err := websocket.Dial(ctx, url, nil)
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		return conn
	}

	return srv, dial
}

func TestSetUser_AllowsMultipleSessionsPerUser(t *testing.T) {
	m := New(testLogger(), nil)
	srv, dial := testServer(t, m)
	defer srv.Close()

	c1 := dial(t)
	defer c1.Close(websocket.StatusNormalClosure, "")
	c2 := dial(t)
	defer c2.Close(websocket.StatusNormalClosure, "")

	time.Sleep(50 * time.Millisecond)

	userID := models.NewULID()
	for _, s := range m.snapshotAll() {
		m.SetUser(s, userID)
	}

	if !m.IsOnline(userID, nil) {
		t.Fatal("expected user to be online")
	}
	if got := len(m.snapshotForUser(userID)); got != 2 {
		t.Fatalf("expected 2 sessions bound to user, got %d", got)
	}
}

func TestIsOnline_ExceptExcludesGivenSession(t *testing.T) {
	m := New(testLogger(), nil)
	srv, dial := testServer(t, m)
	defer srv.Close()

	c1 := dial(t)
	defer c1.Close(websocket.StatusNormalClosure, "")
	time.Sleep(50 * time.Millisecond)

	sessions := m.snapshotAll()
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}
	s := sessions[0]

	userID := models.NewULID()
	m.SetUser(s, userID)

	if m.IsOnline(userID, s) {
		t.Error("expected IsOnline to report false when the only session is excepted")
	}
	if !m.IsOnline(userID, nil) {
		t.Error("expected IsOnline to report true with no exception")
	}
}

func TestRemoveSession_InvokesCloseHookAndClearsIndex(t *testing.T) {
	var closedUserID *models.ULID
	hookCalled := make(chan struct{}, 1)
	m := New(testLogger(), func(s *Session, userID *models.ULID) {
		closedUserID = userID
		hookCalled <- struct{}{}
	})

	s := m.AddSession(nil, "127.0.0.1:1234")
	userID := models.NewULID()
	m.SetUser(s, userID)

	m.RemoveSession(s)

	select {
	case <-hookCalled:
	case <-time.After(time.Second):
		t.Fatal("expected close hook to be invoked")
	}
	if closedUserID == nil || *closedUserID != userID {
		t.Errorf("expected close hook to receive bound user id, got %v", closedUserID)
	}
	if m.IsOnline(userID, nil) {
		t.Error("expected user offline after RemoveSession")
	}
}

func TestGetUserIP_ReturnsBoundSessionAddress(t *testing.T) {
	m := New(testLogger(), nil)
	s := m.AddSession(nil, "10.0.0.5:5555")
	userID := models.NewULID()
	m.SetUser(s, userID)

	ip, ok := m.GetUserIP(userID)
	if !ok || ip != "10.0.0.5:5555" {
		t.Errorf("GetUserIP = (%q, %v), want (10.0.0.5:5555, true)", ip, ok)
	}

	if _, ok := m.GetUserIP(models.NewULID()); ok {
		t.Error("expected GetUserIP to report false for an unknown user")
	}
}

func TestBroadcast_ReachesEveryLiveSession(t *testing.T) {
	m := New(testLogger(), nil)
	srv, dial := testServer(t, m)
	defer srv.Close()

	c1 := dial(t)
	defer c1.Close(websocket.StatusNormalClosure, "")
	c2 := dial(t)
	defer c2.Close(websocket.StatusNormalClosure, "")
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	m.Broadcast(ctx, "server_info_updated", map[string]string{"title": "Test Server"})

	for _, c := range []*websocket.Conn{c1, c2} {
		_, data, err := c.Read(ctx)
		if err != nil {
			t.Fatalf("reading broadcast: %v", err)
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("unmarshaling envelope: %v", err)
		}
		if env.Type != "server_info_updated" {
			t.Errorf("env.Type = %q, want server_info_updated", env.Type)
		}
	}
}

func TestBroadcastToAuthenticated_SkipsUnboundSessions(t *testing.T) {
	m := New(testLogger(), nil)
	srv, dial := testServer(t, m)
	defer srv.Close()

	authed := dial(t)
	defer authed.Close(websocket.StatusNormalClosure, "")
	anon := dial(t)
	defer anon.Close(websocket.StatusNormalClosure, "")
	time.Sleep(50 * time.Millisecond)

	sessions := m.snapshotAll()
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	m.SetUser(sessions[0], models.NewULID())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	m.BroadcastToAuthenticated(ctx, "presence_update", nil)

	if got := len(m.snapshotAuthenticated()); got != 1 {
		t.Fatalf("expected 1 authenticated session, got %d", got)
	}
}

func TestNewEnvelope_NilPayloadOmitsField(t *testing.T) {
	env := NewEnvelope("ping", nil)
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"type":"ping"}` {
		t.Errorf("got %s, want {\"type\":\"ping\"}", data)
	}
}
