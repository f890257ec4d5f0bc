package session

import (
	"context"
	"encoding/json"

	"github.com/pion/webrtc/v4"

	"github.com/roguecord/hub/internal/connmgr"
	"github.com/roguecord/hub/internal/models"
	"github.com/roguecord/hub/internal/voice"
)

type voiceParticipant struct {
	UserID   string `json:"userId"`
	SelfMute bool   `json:"selfMute"`
	SelfDeaf bool   `json:"selfDeaf"`
	Muted    bool   `json:"muted"`
	Deafened bool   `json:"deafened"`
}

// voiceParticipantsSnapshot is sent alongside authenticated and
// channels_list, and fans every existing room's current membership out to a
// freshly connected client.
func (h *Handler) voiceParticipantsSnapshot() map[string][]voiceParticipant {
	out := make(map[string][]voiceParticipant)
	for _, channelID := range h.voice.ChannelIDs() {
		room := h.voice.Room(channelID)
		if room == nil {
			continue
		}
		var participants []voiceParticipant
		for _, peer := range room.Peers() {
			selfMute, selfDeaf, muted, deafened := peer.VoiceFlags()
			participants = append(participants, voiceParticipant{
				UserID: peer.UserID.String(), SelfMute: selfMute, SelfDeaf: selfDeaf,
				Muted: muted, Deafened: deafened,
			})
		}
		if len(participants) > 0 {
			out[channelID.String()] = participants
		}
	}
	return out
}

func (h *Handler) teardownVoiceRoom(ctx context.Context, channelID models.ULID) {
	room := h.voice.Room(channelID)
	if room == nil {
		return
	}
	for _, peer := range room.Peers() {
		h.voice.LeaveRoom(channelID, peer.UserID)
	}
}

func (h *Handler) handleJoinVoiceChannel(ctx context.Context, s *connmgr.Session, raw json.RawMessage) {
	userID := s.UserID()
	if userID == nil {
		h.sendError(ctx, s, "authentication required")
		return
	}
	var req channelIDPayload
	if err := json.Unmarshal(raw, &req); err != nil {
		h.logDecodeError("join_voice_channel", err)
		h.sendError(ctx, s, "malformed join_voice_channel")
		return
	}
	channelID, err := models.ParseULID(req.ChannelID)
	if err != nil {
		h.sendError(ctx, s, "invalid channelId")
		return
	}

	channel, err := h.store.GetChannel(ctx, channelID)
	if err != nil || channel.Type != models.ChannelVoice {
		h.sendError(ctx, s, "not a voice channel")
		return
	}

	h.voice.JoinRoom(channelID, *userID)
	h.stateFor(s).setVoiceChannel(&channelID)

	h.send(ctx, s, "voice_channel_joined", channelIDPayload{ChannelID: channelID.String()})
	h.conns.BroadcastToAuthenticated(ctx, "user_joined_voice", map[string]string{
		"channelId": channelID.String(), "userId": userID.String(),
	})
}

func (h *Handler) handleLeaveVoiceChannel(ctx context.Context, s *connmgr.Session) {
	userID := s.UserID()
	if userID == nil {
		h.sendError(ctx, s, "authentication required")
		return
	}
	cs := h.stateFor(s)
	channelID := cs.getVoiceChannel()
	if channelID == nil {
		return
	}

	h.voice.LeaveRoom(*channelID, *userID)
	cs.setVoiceChannel(nil)

	h.conns.BroadcastToAuthenticated(ctx, "user_left_voice", map[string]string{
		"channelId": channelID.String(), "userId": userID.String(),
	})
}

type createTransportPayload struct {
	Direction string `json:"direction"`
}

type transportCreatedPayload struct {
	TransportID string `json:"transportId"`
	Direction   string `json:"direction"`
}

func (h *Handler) handleCreateTransport(ctx context.Context, s *connmgr.Session, raw json.RawMessage) {
	channelID, userID, ok := h.requireInVoice(ctx, s)
	if !ok {
		return
	}
	var req createTransportPayload
	if err := json.Unmarshal(raw, &req); err != nil {
		h.logDecodeError("create_webrtc_transport", err)
		h.sendError(ctx, s, "malformed create_webrtc_transport")
		return
	}
	direction := voice.Direction(req.Direction)
	if direction != voice.DirectionSend && direction != voice.DirectionRecv {
		h.sendError(ctx, s, "direction must be send or recv")
		return
	}

	transport, err := h.voice.CreateTransport(channelID, userID, direction)
	if err != nil {
		h.logger.Error("session: creating transport", "error", err.Error())
		h.sendError(ctx, s, "internal error")
		return
	}

	h.send(ctx, s, "webrtc_transport_created", transportCreatedPayload{
		TransportID: transport.ID, Direction: string(transport.Direction),
	})
}

type connectTransportPayload struct {
	TransportID string `json:"transportId"`
	SDP         string `json:"sdp"`
	Type        string `json:"type"`
}

type transportConnectedPayload struct {
	TransportID string                     `json:"transportId"`
	Answer      webrtc.SessionDescription `json:"answer"`
}

func (h *Handler) handleConnectTransport(ctx context.Context, s *connmgr.Session, raw json.RawMessage) {
	channelID, userID, ok := h.requireInVoice(ctx, s)
	if !ok {
		return
	}
	var req connectTransportPayload
	if err := json.Unmarshal(raw, &req); err != nil {
		h.logDecodeError("connect_webrtc_transport", err)
		h.sendError(ctx, s, "malformed connect_webrtc_transport")
		return
	}

	offer := webrtc.SessionDescription{Type: webrtc.NewSDPType(req.Type), SDP: req.SDP}
	answer, err := h.voice.ConnectTransport(channelID, userID, req.TransportID, offer)
	if err != nil {
		h.logger.Error("session: connecting transport", "error", err.Error())
		h.sendError(ctx, s, "internal error")
		return
	}

	h.send(ctx, s, "webrtc_transport_connected", transportConnectedPayload{
		TransportID: req.TransportID, Answer: *answer,
	})
}

type producePayload struct {
	TransportID string `json:"transportId"`
	Kind        string `json:"kind"`
	Source      string `json:"source,omitempty"`
}

type producedPayload struct {
	ProducerID string `json:"producerId"`
}

func (h *Handler) handleProduce(ctx context.Context, s *connmgr.Session, raw json.RawMessage) {
	channelID, userID, ok := h.requireInVoice(ctx, s)
	if !ok {
		return
	}
	var req producePayload
	if err := json.Unmarshal(raw, &req); err != nil {
		h.logDecodeError("produce", err)
		h.sendError(ctx, s, "malformed produce")
		return
	}

	producer, err := h.voice.Produce(ctx, channelID, userID, req.TransportID, voice.Source(req.Source))
	if err != nil {
		h.logger.Error("session: producing", "error", err.Error())
		h.sendError(ctx, s, "internal error")
		return
	}

	h.send(ctx, s, "produced", producedPayload{ProducerID: producer.ID})
}

type closeProducerPayload struct {
	ProducerID string `json:"producerId"`
}

func (h *Handler) handleCloseProducer(ctx context.Context, s *connmgr.Session, raw json.RawMessage) {
	channelID, userID, ok := h.requireInVoice(ctx, s)
	if !ok {
		return
	}
	var req closeProducerPayload
	if err := json.Unmarshal(raw, &req); err != nil {
		h.logDecodeError("close_producer", err)
		h.sendError(ctx, s, "malformed close_producer")
		return
	}

	if err := h.voice.CloseProducer(channelID, userID, req.ProducerID); err != nil {
		h.logger.Error("session: closing producer", "error", err.Error())
		h.sendError(ctx, s, "internal error")
	}
}

type consumePayload struct {
	TransportID string `json:"transportId"`
	ProducerID  string `json:"producerId"`
	ProducerUserID string `json:"producerUserId"`
}

type consumedPayload struct {
	ConsumerID string `json:"consumerId"`
	ProducerID string `json:"producerId"`
	Kind       string `json:"kind"`
}

func (h *Handler) handleConsume(ctx context.Context, s *connmgr.Session, raw json.RawMessage) {
	channelID, userID, ok := h.requireInVoice(ctx, s)
	if !ok {
		return
	}
	var req consumePayload
	if err := json.Unmarshal(raw, &req); err != nil {
		h.logDecodeError("consume", err)
		h.sendError(ctx, s, "malformed consume")
		return
	}
	producerUserID, err := models.ParseULID(req.ProducerUserID)
	if err != nil {
		h.sendError(ctx, s, "invalid producerUserId")
		return
	}

	consumer, err := h.voice.Consume(channelID, userID, req.TransportID, producerUserID, req.ProducerID)
	if err != nil {
		h.logger.Error("session: consuming", "error", err.Error())
		h.sendError(ctx, s, "internal error")
		return
	}

	h.send(ctx, s, "consumed", consumedPayload{
		ConsumerID: consumer.ID, ProducerID: consumer.ProducerID, Kind: consumer.Kind.String(),
	})
}

type resumeConsumerPayload struct {
	ConsumerID string `json:"consumerId"`
}

func (h *Handler) handleResumeConsumer(ctx context.Context, s *connmgr.Session, raw json.RawMessage) {
	channelID, userID, ok := h.requireInVoice(ctx, s)
	if !ok {
		return
	}
	var req resumeConsumerPayload
	if err := json.Unmarshal(raw, &req); err != nil {
		h.logDecodeError("resume_consumer", err)
		h.sendError(ctx, s, "malformed resume_consumer")
		return
	}
	if err := h.voice.ResumeConsumer(channelID, userID, req.ConsumerID); err != nil {
		h.logger.Error("session: resuming consumer", "error", err.Error())
		h.sendError(ctx, s, "internal error")
	}
}

type getProducersPayload struct {
	ChannelID string `json:"channelId"`
}

type producerInfoPayload struct {
	ProducerID string `json:"producerId"`
	UserID     string `json:"userId"`
	Kind       string `json:"kind"`
	Source     string `json:"source"`
}

func (h *Handler) handleGetProducers(ctx context.Context, s *connmgr.Session, raw json.RawMessage) {
	var req getProducersPayload
	if err := json.Unmarshal(raw, &req); err != nil {
		h.logDecodeError("get_producers", err)
		h.sendError(ctx, s, "malformed get_producers")
		return
	}
	channelID, err := models.ParseULID(req.ChannelID)
	if err != nil {
		h.sendError(ctx, s, "invalid channelId")
		return
	}

	room := h.voice.Room(channelID)
	var out []producerInfoPayload
	if room != nil {
		for _, peer := range room.Peers() {
			for _, p := range peer.Producers() {
				out = append(out, producerInfoPayload{
					ProducerID: p.ProducerID, UserID: peer.UserID.String(), Kind: p.Kind, Source: string(p.Source),
				})
			}
		}
	}
	h.send(ctx, s, "producers_list", out)
}

type voiceStateUpdatePayload struct {
	SelfMute bool `json:"selfMute"`
	SelfDeaf bool `json:"selfDeaf"`
}

func (h *Handler) handleVoiceStateUpdate(ctx context.Context, s *connmgr.Session, raw json.RawMessage) {
	channelID, userID, ok := h.requireInVoice(ctx, s)
	if !ok {
		return
	}
	var req voiceStateUpdatePayload
	if err := json.Unmarshal(raw, &req); err != nil {
		h.logDecodeError("voice_state_update", err)
		h.sendError(ctx, s, "malformed voice_state_update")
		return
	}

	state, err := h.voice.VoiceStateUpdate(channelID, userID, req.SelfMute, req.SelfDeaf)
	if err != nil {
		h.logger.Error("session: updating voice state", "error", err.Error())
		h.sendError(ctx, s, "internal error")
		return
	}

	h.conns.BroadcastToAuthenticated(ctx, "voice_state_updated", state)
}

// requireInVoice resolves the caller's current voice channel, replying with
// error and returning ok=false if unauthenticated or not currently joined.
func (h *Handler) requireInVoice(ctx context.Context, s *connmgr.Session) (models.ULID, models.ULID, bool) {
	userID := s.UserID()
	if userID == nil {
		h.sendError(ctx, s, "authentication required")
		return models.ULID{}, models.ULID{}, false
	}
	channelID := h.stateFor(s).getVoiceChannel()
	if channelID == nil {
		h.sendError(ctx, s, "not in a voice channel")
		return models.ULID{}, models.ULID{}, false
	}
	return *channelID, *userID, true
}
