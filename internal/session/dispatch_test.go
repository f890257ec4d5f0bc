package session

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

	"github.com/roguecord/hub/internal/connmgr"
	"github.com/roguecord/hub/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestHandler builds a Handler with no database, voice, moderation, or
// storage backing. It is only safe to drive with requests that never reach
// PhaseAuthenticated, since every authenticated handler dereferences those
// fields.
func newTestHandler(t *testing.T) (*Handler, *httptest.Server, func(t *testing.T) *websocket.Conn) {
	t.Helper()
	logger := testLogger()

	var handler *Handler
	conns := connmgr.New(logger, func(s *connmgr.Session, userID *models.ULID) {
		handler.OnSessionClosed(s, userID)
	})
	handler = NewHandler(Config{}, logger, conns, nil, nil, nil, nil, models.ULID{}, models.ULID{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		handler.HandleConn(r.Context(), conn, r.RemoteAddr)
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

	return handler, srv, dial
}

func sendEnvelope(t *testing.T, conn *websocket.Conn, reqType string, payload any) {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	data, err := json.Marshal(connmgr.Envelope{Type: reqType, Payload: body})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) connmgr.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env connmgr.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	return env
}

func TestRoute_RejectsRequestsBeforeAuthentication(t *testing.T) {
	_, srv, dial := newTestHandler(t)
	defer srv.Close()

	conn := dial(t)
	defer conn.Close(websocket.StatusNormalClosure, "")

	sendEnvelope(t, conn, "get_channels", nil)

	env := readEnvelope(t, conn)
	if env.Type != "error" {
		t.Fatalf("expected an error envelope, got type %q", env.Type)
	}
	var body errorPayload
	if err := json.Unmarshal(env.Payload, &body); err != nil {
		t.Fatalf("unmarshal error payload: %v", err)
	}
	if body.Message != "authentication required" {
		t.Errorf("expected authentication-required message, got %q", body.Message)
	}
}

func TestRoute_AllowsPingBeforeAuthentication(t *testing.T) {
	_, srv, dial := newTestHandler(t)
	defer srv.Close()

	conn := dial(t)
	defer conn.Close(websocket.StatusNormalClosure, "")

	sendEnvelope(t, conn, "ping", nil)

	env := readEnvelope(t, conn)
	if env.Type != "pong" {
		t.Fatalf("expected pong, got type %q", env.Type)
	}
}

func TestRoute_RejectsMalformedAuthRequestWithoutPublicKey(t *testing.T) {
	_, srv, dial := newTestHandler(t)
	defer srv.Close()

	conn := dial(t)
	defer conn.Close(websocket.StatusNormalClosure, "")

	sendEnvelope(t, conn, "auth:request", authRequestPayload{Username: "alice"})

	env := readEnvelope(t, conn)
	if env.Type != "error" {
		t.Fatalf("expected an error envelope, got type %q", env.Type)
	}
	var body errorPayload
	if err := json.Unmarshal(env.Payload, &body); err != nil {
		t.Fatalf("unmarshal error payload: %v", err)
	}
	if body.Message != "publicKey is required" {
		t.Errorf("expected publicKey-required message, got %q", body.Message)
	}
}

func TestRoute_RejectsAuthResponseWithNoOutstandingChallenge(t *testing.T) {
	_, srv, dial := newTestHandler(t)
	defer srv.Close()

	conn := dial(t)
	defer conn.Close(websocket.StatusNormalClosure, "")

	sendEnvelope(t, conn, "auth:response", authResponsePayload{Signature: "00"})

	env := readEnvelope(t, conn)
	if env.Type != "error" {
		t.Fatalf("expected an error envelope, got type %q", env.Type)
	}
	var body errorPayload
	if err := json.Unmarshal(env.Payload, &body); err != nil {
		t.Fatalf("unmarshal error payload: %v", err)
	}
	if body.Message != "no challenge outstanding" {
		t.Errorf("expected no-challenge-outstanding message, got %q", body.Message)
	}
}

func TestOnSessionClosed_SkipsTeardownForNeverAuthenticatedSession(t *testing.T) {
	// A session that disconnects before authenticating carries a nil userID
	// into OnSessionClosed; this must be a no-op rather than dereferencing
	// the (here, nil) voice coordinator or store.
	handler, srv, dial := newTestHandler(t)
	defer srv.Close()

	conn := dial(t)
	conn.Close(websocket.StatusNormalClosure, "")

	time.Sleep(50 * time.Millisecond)
	_ = handler // the absence of a panic is the assertion
}
