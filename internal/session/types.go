// Package session implements the per-connection session/signaling handler:
// the {connected, challenged, authenticated, terminated} state machine, the
// ECDSA P-256 challenge-response authentication protocol, and the full
// request-dispatch taxonomy (channels, messages, folders, voice, moderation,
// server settings). It is the one place that turns wire envelopes into
// calls against internal/dal, internal/voice, internal/moderation, and
// internal/storage.
package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/roguecord/hub/internal/connmgr"
	"github.com/roguecord/hub/internal/dal"
	"github.com/roguecord/hub/internal/embedext"
	"github.com/roguecord/hub/internal/models"
	"github.com/roguecord/hub/internal/moderation"
	"github.com/roguecord/hub/internal/storage"
	"github.com/roguecord/hub/internal/voice"
)

// Phase is one session's position in the auth state machine.
type Phase int

const (
	PhaseConnected Phase = iota
	PhaseChallenged
	PhaseAuthenticated
	PhaseTerminated
)

func (p Phase) String() string {
	switch p {
	case PhaseConnected:
		return "connected"
	case PhaseChallenged:
		return "challenged"
	case PhaseAuthenticated:
		return "authenticated"
	case PhaseTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// clientState is the handler's own per-session bookkeeping, layered on top
// of connmgr.Session (which only tracks transport and bound userId).
type clientState struct {
	mu sync.Mutex

	phase Phase

	// Set at auth:request time, consumed at auth:response time.
	pendingUsername  string
	pendingPublicKey string
	challenge        []byte
	isNewUser        bool

	remoteIP string

	// voiceChannelID tracks the single voice channel this session currently
	// occupies, if any, so disconnect can tear the peer down without the
	// coordinator having to index rooms by user globally.
	voiceChannelID *models.ULID
}

func (c *clientState) getVoiceChannel() *models.ULID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.voiceChannelID
}

func (c *clientState) setVoiceChannel(id *models.ULID) {
	c.mu.Lock()
	c.voiceChannelID = id
	c.mu.Unlock()
}

func (c *clientState) getPhase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *clientState) setPhase(p Phase) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
}

// Config holds the handler's runtime settings, threaded explicitly rather
// than read from a package global.
type Config struct {
	AdminKey      string
	DataDir       string
	StoragePrefix string
	ServerName    string
	ServerTitle   string
	MaxFrameBytes int
}

// Handler wires together every subsystem a session needs to service the
// request taxonomy.
type Handler struct {
	cfg    Config
	logger *slog.Logger

	conns   *connmgr.Manager
	store   *dal.Store
	voice   *voice.Coordinator
	mod     *moderation.Engine
	storage *storage.Manager

	systemUserID models.ULID
	rssBotID     models.ULID

	mu      sync.Mutex
	clients map[string]*clientState
}

// NewHandler builds a Handler. conns must have its CloseHook wired to call
// OnSessionClosed (necessarily done by the caller, since conns is
// constructed before Handler can exist).
func NewHandler(cfg Config, logger *slog.Logger, conns *connmgr.Manager, store *dal.Store, voiceCoord *voice.Coordinator, mod *moderation.Engine, storageMgr *storage.Manager, systemUserID, rssBotID models.ULID) *Handler {
	return &Handler{
		cfg:          cfg,
		logger:       logger,
		conns:        conns,
		store:        store,
		voice:        voiceCoord,
		mod:          mod,
		storage:      storageMgr,
		systemUserID: systemUserID,
		rssBotID:     rssBotID,
		clients:      make(map[string]*clientState),
	}
}

func (h *Handler) stateFor(s *connmgr.Session) *clientState {
	h.mu.Lock()
	defer h.mu.Unlock()
	cs, ok := h.clients[s.ID]
	if !ok {
		cs = &clientState{phase: PhaseConnected}
		h.clients[s.ID] = cs
	}
	return cs
}

func (h *Handler) dropState(s *connmgr.Session) {
	h.mu.Lock()
	delete(h.clients, s.ID)
	h.mu.Unlock()
}

// errorPayload is the body of an error{} reply.
type errorPayload struct {
	Message string `json:"message"`
}

func (h *Handler) sendError(ctx context.Context, s *connmgr.Session, message string) {
	s.Send(ctx, h.logger, connmgr.NewEnvelope("error", errorPayload{Message: message}))
}

func (h *Handler) send(ctx context.Context, s *connmgr.Session, eventType string, payload any) {
	s.Send(ctx, h.logger, connmgr.NewEnvelope(eventType, payload))
}

// extractEmbeds is a thin forwarding call kept here so every handler file
// can reach message-embed extraction without importing embedext directly.
func extractEmbeds(content string) []models.Embed {
	return embedext.Extract(content)
}
