// Package connmgr tracks every live client session, offering
// broadcast/targeted-send primitives, presence queries, and a keep-alive
// ticker that reaps dead connections.
package connmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/roguecord/hub/internal/models"
)

// StatusModerationEnforced is the close code used when a kick/ban forces a
// session closed.
const StatusModerationEnforced websocket.StatusCode = 4003

// StatusServerRestarting is the close code reserved for graceful shutdown,
// distinct from moderation's enforced-close code. No code path closes a
// session with it; shutdown only broadcasts server_shutting_down.
const StatusServerRestarting websocket.StatusCode = 4000

// Session is one live client connection. Its framing/authentication state
// is owned exclusively by the session; the Manager and the session/signaling
// handler share ownership of its lifetime.
type Session struct {
	ID         string
	Conn       *websocket.Conn
	RemoteAddr string
	CreatedAt  time.Time

	writeMu sync.Mutex

	mu     sync.RWMutex
	userID *models.ULID
}

// UserID returns the session's bound user id, or nil if still unauthenticated.
func (s *Session) UserID() *models.ULID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

func (s *Session) setUserID(id models.ULID) {
	s.mu.Lock()
	s.userID = &id
	s.mu.Unlock()
}

// Send writes one envelope to this session. Writes to an already-closed
// transport are logged and dropped.
func (s *Session) Send(ctx context.Context, logger *slog.Logger, env Envelope) {
	data, err := marshalEnvelope(env)
	if err != nil {
		logger.Error("connmgr: marshaling envelope", slog.String("error", err.Error()))
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.Conn.Write(ctx, websocket.MessageText, data); err != nil {
		logger.Debug("connmgr: dropped write to closed session",
			slog.String("session_id", s.ID), slog.String("error", err.Error()))
	}
}

// CloseHook is invoked once per session removal, after it has been unlinked
// from the manager's tables, so the session/signaling handler can run its
// own teardown (leave voice rooms, broadcast user_offline if no other
// session remains for that user) without the manager knowing about either.
type CloseHook func(s *Session, userID *models.ULID)

// Manager owns every live session.
type Manager struct {
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	byUser   map[models.ULID]map[string]*Session

	onClose CloseHook
}

// New creates an empty Manager. onClose may be nil.
func New(logger *slog.Logger, onClose CloseHook) *Manager {
	return &Manager{
		logger:   logger,
		sessions: make(map[string]*Session),
		byUser:   make(map[models.ULID]map[string]*Session),
		onClose:  onClose,
	}
}

// AddSession registers a new, unauthenticated session.
func (m *Manager) AddSession(conn *websocket.Conn, remoteAddr string) *Session {
	s := &Session{
		ID:         models.NewULID().String(),
		Conn:       conn,
		RemoteAddr: remoteAddr,
		CreatedAt:  time.Now().UTC(),
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s
}

// SetUser binds an authenticated identity to a session. A user may have
// multiple concurrent sessions.
func (m *Manager) SetUser(s *Session, userID models.ULID) {
	s.setUserID(userID)

	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.byUser[userID]
	if !ok {
		set = make(map[string]*Session)
		m.byUser[userID] = set
	}
	set[s.ID] = s
}

// RemoveSession unregisters a session and invokes the close hook.
func (m *Manager) RemoveSession(s *Session) {
	userID := s.UserID()

	m.mu.Lock()
	delete(m.sessions, s.ID)
	if userID != nil {
		if set, ok := m.byUser[*userID]; ok {
			delete(set, s.ID)
			if len(set) == 0 {
				delete(m.byUser, *userID)
			}
		}
	}
	m.mu.Unlock()

	if m.onClose != nil {
		m.onClose(s, userID)
	}
}

// IsOnline reports whether any session (other than except, if non-nil) is
// bound to userID.
func (m *Manager) IsOnline(userID models.ULID, except *Session) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set, ok := m.byUser[userID]
	if !ok {
		return false
	}
	for id, s := range set {
		if except != nil && id == except.ID {
			continue
		}
		_ = s
		return true
	}
	return false
}

// Broadcast writes an envelope to every live session.
func (m *Manager) Broadcast(ctx context.Context, eventType string, payload any) {
	env := NewEnvelope(eventType, payload)
	for _, s := range m.snapshotAll() {
		s.Send(ctx, m.logger, env)
	}
}

// BroadcastToAuthenticated writes an envelope to every session with a bound
// user id.
func (m *Manager) BroadcastToAuthenticated(ctx context.Context, eventType string, payload any) {
	env := NewEnvelope(eventType, payload)
	for _, s := range m.snapshotAuthenticated() {
		s.Send(ctx, m.logger, env)
	}
}

// BroadcastToAuthenticatedExcept writes an envelope to every session with a
// bound user id other than exceptUserID. Pass the zero ULID to behave like
// BroadcastToAuthenticated.
func (m *Manager) BroadcastToAuthenticatedExcept(ctx context.Context, exceptUserID models.ULID, eventType string, payload any) {
	env := NewEnvelope(eventType, payload)
	var zero models.ULID
	for _, s := range m.snapshotAuthenticated() {
		if exceptUserID != zero {
			if uid := s.UserID(); uid != nil && *uid == exceptUserID {
				continue
			}
		}
		s.Send(ctx, m.logger, env)
	}
}

// SendToUser writes an envelope to every session bound to userID.
func (m *Manager) SendToUser(ctx context.Context, userID models.ULID, eventType string, payload any) {
	env := NewEnvelope(eventType, payload)
	for _, s := range m.snapshotForUser(userID) {
		s.Send(ctx, m.logger, env)
	}
}

// CloseUserConnections force-closes every session bound to userID.
func (m *Manager) CloseUserConnections(ctx context.Context, userID models.ULID, code websocket.StatusCode, reason string) {
	for _, s := range m.snapshotForUser(userID) {
		_ = s.Conn.Close(code, reason)
	}
}

// GetUserIP returns the remote address of any one session bound to userID,
// or "" and false if offline.
func (m *Manager) GetUserIP(userID models.ULID) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set, ok := m.byUser[userID]
	if !ok {
		return "", false
	}
	for _, s := range set {
		return s.RemoteAddr, true
	}
	return "", false
}

func (m *Manager) snapshotAll() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

func (m *Manager) snapshotAuthenticated() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s.UserID() != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m *Manager) snapshotForUser(userID models.ULID) []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set, ok := m.byUser[userID]
	if !ok {
		return nil
	}
	out := make([]*Session, 0, len(set))
	for _, s := range set {
		out = append(out, s)
	}
	return out
}

// RunKeepAlive pings every live session every interval; a session that
// fails to pong within the interval is force-closed and removed. Blocks
// until ctx is cancelled.
func (m *Manager) RunKeepAlive(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.pingAll(ctx, interval)
		}
	}
}

func (m *Manager) pingAll(ctx context.Context, interval time.Duration) {
	var wg sync.WaitGroup
	for _, s := range m.snapshotAll() {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			pingCtx, cancel := context.WithTimeout(ctx, interval)
			defer cancel()
			if err := s.Conn.Ping(pingCtx); err != nil {
				m.logger.Debug("connmgr: session failed keep-alive ping",
					slog.String("session_id", s.ID), slog.String("error", err.Error()))
				_ = s.Conn.Close(websocket.StatusPolicyViolation, "keep-alive timeout")
				m.RemoveSession(s)
			}
		}(s)
	}
	wg.Wait()
}

// NormalizeRemoteAddr strips the port and any IPv4-mapped-IPv6 prefix from a
// session's RemoteAddr, producing the bare address ban rules and last-ip
// tracking are keyed on.
func NormalizeRemoteAddr(addr string) string {
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "::ffff:")
	return host
}

func marshalEnvelope(env Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("connmgr: %w", err)
	}
	return data, nil
}
