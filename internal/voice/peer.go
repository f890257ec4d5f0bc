package voice

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/roguecord/hub/internal/models"
)

// Peer is one connected user's presence inside a Room: its transports and
// the producers/consumers riding on them.
type Peer struct {
	UserID models.ULID
	room   *Room

	mu         sync.Mutex
	transports map[string]*Transport
	producers  map[string]*Producer
	consumers  map[string]*Consumer

	selfMute, selfDeaf bool
	muted, deafened    bool
}

// CreateTransport opens a new send or recv PeerConnection for this peer
//.
func (p *Peer) createTransport(c *Coordinator, direction Direction) (*Transport, error) {
	pc, err := c.api.NewPeerConnection(webrtc.Configuration{ICEServers: c.cfg.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("voice: creating peer connection: %w", err)
	}

	t := &Transport{
		ID:            models.NewULID().String(),
		Direction:     direction,
		PC:            pc,
		peer:          p,
		pendingTracks: make(chan *webrtc.TrackRemote, 4),
	}

	if direction == DirectionSend {
		pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
			select {
			case t.pendingTracks <- track:
			default:
				c.logger.Warn("voice: dropped track, no pending Produce call waiting")
			}
		})
	}

	p.mu.Lock()
	p.transports[t.ID] = t
	p.mu.Unlock()

	return t, nil
}

// Transport returns one of this peer's transports by id.
func (p *Peer) Transport(id string) *Transport {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transports[id]
}

// ProducerInfo is the subset of a Producer's identity exposed outside the
// package, for get_producers and the voice-participant snapshot.
type ProducerInfo struct {
	ProducerID string
	Kind       string
	Source     Source
}

// Producers returns a snapshot of this peer's current producers.
func (p *Peer) Producers() []ProducerInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ProducerInfo, 0, len(p.producers))
	for _, prod := range p.producers {
		out = append(out, ProducerInfo{ProducerID: prod.ID, Kind: prod.Kind.String(), Source: prod.Source})
	}
	return out
}

// VoiceFlags exposes the peer's current mute/deafen state, for the voice
// participant snapshot sent alongside channel list responses.
func (p *Peer) VoiceFlags() (selfMute, selfDeaf, muted, deafened bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.selfMute, p.selfDeaf, p.muted, p.deafened
}

// VoiceState returns the peer's current flags for broadcast.
func (p *Peer) VoiceState(channelID models.ULID) VoiceState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return VoiceState{
		ChannelID: channelID,
		UserID:    p.UserID,
		SelfMute:  p.selfMute,
		SelfDeaf:  p.selfDeaf,
		Muted:     p.muted,
		Deafened:  p.deafened,
	}
}

// setMicPaused pauses or resumes every mic producer on this peer.
// Screen and camera producers are never touched.
func (p *Peer) setMicPaused(paused bool) {
	p.mu.Lock()
	producers := make([]*Producer, 0, len(p.producers))
	for _, prod := range p.producers {
		if prod.Source == SourceMic {
			producers = append(producers, prod)
		}
	}
	p.mu.Unlock()

	for _, prod := range producers {
		prod.setPaused(paused)
	}
}

// Transport is one mediasoup-style send or recv WebRTC transport.
type Transport struct {
	ID        string
	Direction Direction
	PC        *webrtc.PeerConnection

	peer          *Peer
	pendingTracks chan *webrtc.TrackRemote
}

// Connect completes the offer/answer exchange for this transport
//.
func (t *Transport) Connect(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := t.PC.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("voice: setting remote description: %w", err)
	}
	answer, err := t.PC.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("voice: creating answer: %w", err)
	}
	if err := t.PC.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("voice: setting local description: %w", err)
	}
	return t.PC.LocalDescription(), nil
}

// Close tears down the transport's PeerConnection.
func (t *Transport) Close() {
	_ = t.PC.Close()
}

// Produce waits for the remote track the client is about to send over this
// send-direction transport, registers it as a Producer, and fans out
// new_producer to the rest of the room.
// requestedSource overrides the kind-derived default; pass "" to accept the
// default (audio→mic, video→camera).
func (t *Transport) Produce(ctx context.Context, c *Coordinator, requestedSource Source) (*Producer, error) {
	if t.Direction != DirectionSend {
		return nil, fmt.Errorf("voice: produce called on a %s transport", t.Direction)
	}

	var track *webrtc.TrackRemote
	select {
	case track = <-t.pendingTracks:
	case <-ctx.Done():
		return nil, fmt.Errorf("voice: timed out waiting for producer track: %w", ctx.Err())
	}

	kind := track.Kind()
	source := requestedSource
	if source == "" {
		if kind == webrtc.RTPCodecTypeVideo {
			source = SourceCamera
		} else {
			source = SourceMic
		}
	}

	p := &Producer{
		ID:     models.NewULID().String(),
		Kind:   kind,
		Source: source,
		track:  track,
		peer:   t.peer,
		logger: c.logger,
	}
	t.peer.mu.Lock()
	t.peer.producers[p.ID] = p
	t.peer.mu.Unlock()

	go p.forward()

	c.fanout(t.peer.room.ChannelID, t.peer.UserID, "new_producer", map[string]any{
		"producerId": p.ID,
		"userId":     t.peer.UserID.String(),
		"kind":       kind.String(),
		"source":     string(source),
	})

	return p, nil
}

// Producer is one inbound media track from a peer's send transport
//.
type Producer struct {
	ID     string
	Kind   webrtc.RTPCodecType
	Source Source

	track  *webrtc.TrackRemote
	peer   *Peer
	logger interface{ Warn(string, ...any) }

	mu        sync.RWMutex
	paused    bool
	consumers map[string]*Consumer
}

func (p *Producer) setPaused(paused bool) {
	p.mu.Lock()
	p.paused = paused
	p.mu.Unlock()
}

func (p *Producer) isPaused() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused
}

func (p *Producer) attach(c *Consumer) {
	p.mu.Lock()
	if p.consumers == nil {
		p.consumers = make(map[string]*Consumer)
	}
	p.consumers[c.ID] = c
	p.mu.Unlock()
}

func (p *Producer) detach(consumerID string) {
	p.mu.Lock()
	delete(p.consumers, consumerID)
	p.mu.Unlock()
}

// forward reads RTP packets from the remote track and writes them to every
// attached, unpaused consumer's local track. Stops when the remote track
// ends (peer disconnected or producer closed).
func (p *Producer) forward() {
	buf := make([]byte, 1500)
	for {
		n, _, err := p.track.Read(buf)
		if err != nil {
			return
		}
		if p.isPaused() {
			continue
		}

		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}

		p.mu.RLock()
		consumers := make([]*Consumer, 0, len(p.consumers))
		for _, c := range p.consumers {
			consumers = append(consumers, c)
		}
		p.mu.RUnlock()

		for _, c := range consumers {
			if c.isPaused() {
				continue
			}
			if err := c.localTrack.WriteRTP(pkt); err != nil {
				p.logger.Warn("voice: writing RTP to consumer failed", "consumer_id", c.ID, "error", err.Error())
			}
		}
	}
}

// Consumer is one outbound media track riding a recv transport, forwarding
// a single producer's media to one peer.
type Consumer struct {
	ID         string
	ProducerID string
	Kind       webrtc.RTPCodecType

	localTrack *webrtc.TrackLocalStaticRTP
	sender     *webrtc.RTPSender
	peer       *Peer

	mu     sync.RWMutex
	paused bool
}

func (c *Consumer) isPaused() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.paused
}

// Resume lifts the initial pause applied at creation.
func (c *Consumer) Resume() {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
}

// Pause re-pauses an already-resumed consumer.
func (c *Consumer) Pause() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
}
