package voice

import (
	"context"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/roguecord/hub/internal/models"
)

// CreateTransport implements create_webrtc_transport{direction}.
func (c *Coordinator) CreateTransport(channelID, userID models.ULID, direction Direction) (*Transport, error) {
	room := c.getOrCreateRoom(channelID)
	peer := room.Peer(userID)
	if peer == nil {
		return nil, fmt.Errorf("voice: user %s is not in channel %s", userID, channelID)
	}
	return peer.createTransport(c, direction)
}

// ConnectTransport implements connect_webrtc_transport.
func (c *Coordinator) ConnectTransport(channelID, userID models.ULID, transportID string, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	t, err := c.lookupTransport(channelID, userID, transportID)
	if err != nil {
		return nil, err
	}
	return t.Connect(offer)
}

// Produce waits for the inbound track on a send transport and registers the
// producer, fanning out new_producer.
func (c *Coordinator) Produce(ctx context.Context, channelID, userID models.ULID, transportID string, source Source) (*Producer, error) {
	t, err := c.lookupTransport(channelID, userID, transportID)
	if err != nil {
		return nil, err
	}
	return t.Produce(ctx, c, source)
}

// Consume implements the consume request: looks up the target producer,
// builds a local track on the caller's recv transport, and returns a
// Consumer created paused.
func (c *Coordinator) Consume(channelID, consumerUserID models.ULID, recvTransportID string, producerUserID models.ULID, producerID string) (*Consumer, error) {
	room := c.Room(channelID)
	if room == nil {
		return nil, fmt.Errorf("voice: no room for channel %s", channelID)
	}

	consumerPeer := room.Peer(consumerUserID)
	if consumerPeer == nil {
		return nil, fmt.Errorf("voice: user %s is not in channel %s", consumerUserID, channelID)
	}
	producerPeer := room.Peer(producerUserID)
	if producerPeer == nil {
		return nil, fmt.Errorf("voice: producing user %s is not in channel %s", producerUserID, channelID)
	}

	producerPeer.mu.Lock()
	producer, ok := producerPeer.producers[producerID]
	producerPeer.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("voice: no such producer %s", producerID)
	}

	recvTransport := consumerPeer.Transport(recvTransportID)
	if recvTransport == nil || recvTransport.Direction != DirectionRecv {
		return nil, fmt.Errorf("voice: transport %s is not a recv transport", recvTransportID)
	}

	localTrack, err := webrtc.NewTrackLocalStaticRTP(producer.track.Codec().RTPCodecCapability, producer.ID, producerPeer.UserID.String())
	if err != nil {
		return nil, fmt.Errorf("voice: creating local track: %w", err)
	}
	sender, err := recvTransport.PC.AddTrack(localTrack)
	if err != nil {
		return nil, fmt.Errorf("voice: adding track to recv transport: %w", err)
	}

	consumer := &Consumer{
		ID:         models.NewULID().String(),
		ProducerID: producerID,
		Kind:       producer.Kind,
		localTrack: localTrack,
		sender:     sender,
		peer:       consumerPeer,
		paused:     true,
	}

	consumerPeer.mu.Lock()
	consumerPeer.consumers[consumer.ID] = consumer
	consumerPeer.mu.Unlock()
	producer.attach(consumer)

	return consumer, nil
}

// ResumeConsumer implements resume_consumer.
func (c *Coordinator) ResumeConsumer(channelID, userID models.ULID, consumerID string) error {
	room := c.Room(channelID)
	if room == nil {
		return fmt.Errorf("voice: no room for channel %s", channelID)
	}
	peer := room.Peer(userID)
	if peer == nil {
		return fmt.Errorf("voice: user %s is not in channel %s", userID, channelID)
	}
	peer.mu.Lock()
	consumer, ok := peer.consumers[consumerID]
	peer.mu.Unlock()
	if !ok {
		return fmt.Errorf("voice: no such consumer %s", consumerID)
	}
	consumer.Resume()
	return nil
}

// VoiceStateUpdate implements voice_state_update: updates peer flags,
// pauses/resumes mic producers accordingly, and returns the state to
// broadcast as voice_state_updated.
func (c *Coordinator) VoiceStateUpdate(channelID, userID models.ULID, selfMute, selfDeaf bool) (VoiceState, error) {
	room := c.Room(channelID)
	if room == nil {
		return VoiceState{}, fmt.Errorf("voice: no room for channel %s", channelID)
	}
	peer := room.Peer(userID)
	if peer == nil {
		return VoiceState{}, fmt.Errorf("voice: user %s is not in channel %s", userID, channelID)
	}

	peer.mu.Lock()
	peer.selfMute = selfMute
	peer.selfDeaf = selfDeaf
	effectiveMute := peer.selfMute || peer.muted || peer.selfDeaf || peer.deafened
	peer.mu.Unlock()

	peer.setMicPaused(effectiveMute)

	return peer.VoiceState(channelID), nil
}

// SetServerMute applies a moderator-driven mute flag, independent of the
// user's own self-mute toggle, and re-evaluates mic-producer pause state.
func (c *Coordinator) SetServerMute(channelID, userID models.ULID, muted bool) error {
	room := c.Room(channelID)
	if room == nil {
		return fmt.Errorf("voice: no room for channel %s", channelID)
	}
	peer := room.Peer(userID)
	if peer == nil {
		return fmt.Errorf("voice: user %s is not in channel %s", userID, channelID)
	}

	peer.mu.Lock()
	peer.muted = muted
	effectiveMute := peer.selfMute || peer.muted || peer.selfDeaf || peer.deafened
	peer.mu.Unlock()

	peer.setMicPaused(effectiveMute)
	return nil
}

// SetServerDeafen applies a moderator-driven deafen flag. Deafening also
// gates the mic, alongside muting: a deafened peer cannot be heard either.
func (c *Coordinator) SetServerDeafen(channelID, userID models.ULID, deafened bool) error {
	room := c.Room(channelID)
	if room == nil {
		return fmt.Errorf("voice: no room for channel %s", channelID)
	}
	peer := room.Peer(userID)
	if peer == nil {
		return fmt.Errorf("voice: user %s is not in channel %s", userID, channelID)
	}
	peer.mu.Lock()
	peer.deafened = deafened
	effectiveMute := peer.selfMute || peer.muted || peer.selfDeaf || peer.deafened
	peer.mu.Unlock()

	peer.setMicPaused(effectiveMute)
	return nil
}

func (c *Coordinator) lookupTransport(channelID, userID models.ULID, transportID string) (*Transport, error) {
	room := c.Room(channelID)
	if room == nil {
		return nil, fmt.Errorf("voice: no room for channel %s", channelID)
	}
	peer := room.Peer(userID)
	if peer == nil {
		return nil, fmt.Errorf("voice: user %s is not in channel %s", userID, channelID)
	}
	t := peer.Transport(transportID)
	if t == nil {
		return nil, fmt.Errorf("voice: no such transport %s", transportID)
	}
	return t, nil
}
