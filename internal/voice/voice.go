// Package voice implements an SFU room coordinator: one Room per voice
// channel, one Peer per connected user, mediasoup-style send/recv Transports
// carrying Producers and Consumers. Media is forwarded directly with
// pion/webrtc, rather than delegated to a hosted SFU.
package voice

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/roguecord/hub/internal/models"
)

// Direction is a transport's media direction.
type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

// Source classifies a producer's media origin.
type Source string

const (
	SourceMic    Source = "mic"
	SourceScreen Source = "screen"
	SourceCamera Source = "camera"
)

// VoiceState mirrors the fields broadcast in voice_state_updated.
type VoiceState struct {
	ChannelID models.ULID `json:"channelId"`
	UserID    models.ULID `json:"userId"`
	SelfMute  bool        `json:"selfMute"`
	SelfDeaf  bool        `json:"selfDeaf"`
	Muted     bool        `json:"muted"`
	Deafened  bool        `json:"deafened"`
}

// Config holds the coordinator's ICE and media settings, threaded explicitly
// rather than read from a package global.
type Config struct {
	AnnouncedAddr string
	PortRangeMin  uint16
	PortRangeMax  uint16
	MaxBitrateBps int
	ICEServers    []webrtc.ICEServer
}

// FanoutFunc delivers a voice event to every peer in a room except the one
// named by exceptUserID (pass the zero ULID to include everyone). The
// coordinator never serializes envelopes itself — that belongs to the
// session/signaling layer — it only decides who should receive what.
type FanoutFunc func(channelID models.ULID, exceptUserID models.ULID, event string, payload any)

// Coordinator owns every live Room and the pion webrtc.API used to build
// PeerConnections for new transports.
type Coordinator struct {
	api    *webrtc.API
	cfg    Config
	logger *slog.Logger
	fanout FanoutFunc

	mu    sync.RWMutex
	rooms map[models.ULID]*Room
}

// New builds a Coordinator. fanout is called for every event the SFU must
// push to other sessions (new_producer, producer_closed). voice_state_updated
// is not sent through it; the session layer broadcasts VoiceStateUpdate's
// result itself.
func New(cfg Config, logger *slog.Logger, fanout FanoutFunc) (*Coordinator, error) {
	m := webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("voice: registering default codecs: %w", err)
	}

	se := webrtc.SettingEngine{}
	if cfg.PortRangeMin > 0 && cfg.PortRangeMax > cfg.PortRangeMin {
		if err := se.SetEphemeralUDPPortRange(cfg.PortRangeMin, cfg.PortRangeMax); err != nil {
			return nil, fmt.Errorf("voice: setting UDP port range: %w", err)
		}
	}
	if cfg.AnnouncedAddr != "" {
		se.SetNAT1To1IPs([]string{cfg.AnnouncedAddr}, webrtc.ICECandidateTypeHost)
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(&m), webrtc.WithSettingEngine(se))

	return &Coordinator{
		api:    api,
		cfg:    cfg,
		logger: logger,
		fanout: fanout,
		rooms:  make(map[models.ULID]*Room),
	}, nil
}

// JoinRoom lazily creates the Room for channelID on first join and adds a new Peer for userID, or returns the existing peer
// if the user is already present (idempotent rejoin).
func (c *Coordinator) JoinRoom(channelID, userID models.ULID) *Peer {
	room := c.getOrCreateRoom(channelID)

	room.mu.Lock()
	defer room.mu.Unlock()
	if p, ok := room.peers[userID]; ok {
		return p
	}
	p := &Peer{
		UserID:     userID,
		room:       room,
		transports: make(map[string]*Transport),
		producers:  make(map[string]*Producer),
		consumers:  make(map[string]*Consumer),
	}
	room.peers[userID] = p
	return p
}

func (c *Coordinator) getOrCreateRoom(channelID models.ULID) *Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.rooms[channelID]; ok {
		return r
	}
	r := &Room{ChannelID: channelID, peers: make(map[models.ULID]*Peer)}
	c.rooms[channelID] = r
	return r
}

// LeaveRoom removes userID's Peer, closes its transports, and propagates
// producer_closed for each of its producers so other peers' consumers tear
// down. Destroys the Room once empty.
func (c *Coordinator) LeaveRoom(channelID, userID models.ULID) {
	c.mu.RLock()
	room, ok := c.rooms[channelID]
	c.mu.RUnlock()
	if !ok {
		return
	}

	room.mu.Lock()
	peer, ok := room.peers[userID]
	if !ok {
		room.mu.Unlock()
		return
	}
	delete(room.peers, userID)
	empty := len(room.peers) == 0
	room.mu.Unlock()

	peer.mu.Lock()
	producerIDs := make([]string, 0, len(peer.producers))
	for id := range peer.producers {
		producerIDs = append(producerIDs, id)
	}
	for _, t := range peer.transports {
		t.Close()
	}
	peer.mu.Unlock()

	for _, pid := range producerIDs {
		c.fanout(channelID, userID, "producer_closed", map[string]string{"producerId": pid})
	}

	if empty {
		c.mu.Lock()
		delete(c.rooms, channelID)
		c.mu.Unlock()
	}
}

// Room returns the live room for a channel, or nil if none exists.
func (c *Coordinator) Room(channelID models.ULID) *Room {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rooms[channelID]
}

// ChannelIDs returns the channel id of every currently live room, used to
// build the voice-participant snapshot sent to newly authenticated clients.
func (c *Coordinator) ChannelIDs() []models.ULID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.ULID, 0, len(c.rooms))
	for id := range c.rooms {
		out = append(out, id)
	}
	return out
}

// CloseProducer implements close_producer: removes the producer from its
// peer, detaches every consumer riding it, and fans out producer_closed to
// the rest of the room.
func (c *Coordinator) CloseProducer(channelID, userID models.ULID, producerID string) error {
	room := c.Room(channelID)
	if room == nil {
		return fmt.Errorf("voice: no room for channel %s", channelID)
	}
	peer := room.Peer(userID)
	if peer == nil {
		return fmt.Errorf("voice: user %s is not in channel %s", userID, channelID)
	}

	peer.mu.Lock()
	producer, ok := peer.producers[producerID]
	delete(peer.producers, producerID)
	peer.mu.Unlock()
	if !ok {
		return fmt.Errorf("voice: no such producer %s", producerID)
	}

	producer.mu.Lock()
	producer.consumers = nil
	producer.mu.Unlock()

	c.fanout(channelID, userID, "producer_closed", map[string]string{"producerId": producerID})
	return nil
}

// Room holds every peer currently joined to one voice channel.
type Room struct {
	ChannelID models.ULID

	mu    sync.RWMutex
	peers map[models.ULID]*Peer
}

// Peer returns the room's peer for userID, or nil.
func (r *Room) Peer(userID models.ULID) *Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.peers[userID]
}

// Peers returns a snapshot of every peer currently in the room.
func (r *Room) Peers() []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	return out
}
