package voice

import (
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/roguecord/hub/internal/models"
)

func testCoordinator(t *testing.T) (*Coordinator, *fanoutRecorder) {
	t.Helper()
	rec := &fanoutRecorder{}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	c, err := New(Config{}, logger, rec.record)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, rec
}

type fanoutEvent struct {
	channelID models.ULID
	except    models.ULID
	event     string
	payload   any
}

type fanoutRecorder struct {
	mu     sync.Mutex
	events []fanoutEvent
}

func (r *fanoutRecorder) record(channelID, except models.ULID, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fanoutEvent{channelID, except, event, payload})
}

func (r *fanoutRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestJoinRoom_Idempotent(t *testing.T) {
	c, _ := testCoordinator(t)
	channelID := models.NewULID()
	userID := models.NewULID()

	p1 := c.JoinRoom(channelID, userID)
	p2 := c.JoinRoom(channelID, userID)
	if p1 != p2 {
		t.Error("expected JoinRoom to return the same peer on rejoin")
	}

	room := c.Room(channelID)
	if room == nil || len(room.Peers()) != 1 {
		t.Errorf("expected exactly one peer in the room")
	}
}

func TestLeaveRoom_DestroysEmptyRoom(t *testing.T) {
	c, _ := testCoordinator(t)
	channelID := models.NewULID()
	userID := models.NewULID()

	c.JoinRoom(channelID, userID)
	if c.Room(channelID) == nil {
		t.Fatal("expected room to exist after join")
	}

	c.LeaveRoom(channelID, userID)
	if c.Room(channelID) != nil {
		t.Error("expected room to be destroyed once empty")
	}
}

func TestLeaveRoom_KeepsRoomWithRemainingPeers(t *testing.T) {
	c, _ := testCoordinator(t)
	channelID := models.NewULID()
	alice, bob := models.NewULID(), models.NewULID()

	c.JoinRoom(channelID, alice)
	c.JoinRoom(channelID, bob)
	c.LeaveRoom(channelID, alice)

	room := c.Room(channelID)
	if room == nil {
		t.Fatal("expected room to survive with bob still present")
	}
	if len(room.Peers()) != 1 {
		t.Errorf("expected 1 remaining peer, got %d", len(room.Peers()))
	}
}

func TestCreateTransport_UniqueIDs(t *testing.T) {
	c, _ := testCoordinator(t)
	channelID := models.NewULID()
	userID := models.NewULID()
	c.JoinRoom(channelID, userID)

	t1, err := c.CreateTransport(channelID, userID, DirectionSend)
	if err != nil {
		t.Fatalf("CreateTransport(send): %v", err)
	}
	t2, err := c.CreateTransport(channelID, userID, DirectionRecv)
	if err != nil {
		t.Fatalf("CreateTransport(recv): %v", err)
	}
	if t1.ID == t2.ID {
		t.Error("expected distinct transport ids")
	}
	if t1.Direction != DirectionSend || t2.Direction != DirectionRecv {
		t.Error("transport direction not preserved")
	}
	t1.Close()
	t2.Close()
}

func TestCreateTransport_RequiresJoinedPeer(t *testing.T) {
	c, _ := testCoordinator(t)
	channelID := models.NewULID()
	userID := models.NewULID()

	if _, err := c.CreateTransport(channelID, userID, DirectionSend); err == nil {
		t.Error("expected error creating a transport before joining the room")
	}
}

func TestVoiceStateUpdate_TracksFlags(t *testing.T) {
	c, _ := testCoordinator(t)
	channelID := models.NewULID()
	userID := models.NewULID()
	c.JoinRoom(channelID, userID)

	state, err := c.VoiceStateUpdate(channelID, userID, true, false)
	if err != nil {
		t.Fatalf("VoiceStateUpdate: %v", err)
	}
	if !state.SelfMute || state.SelfDeaf {
		t.Errorf("unexpected state: %+v", state)
	}
}

func TestSetServerMute_IndependentOfSelfMute(t *testing.T) {
	c, _ := testCoordinator(t)
	channelID := models.NewULID()
	userID := models.NewULID()
	c.JoinRoom(channelID, userID)

	if err := c.SetServerMute(channelID, userID, true); err != nil {
		t.Fatalf("SetServerMute: %v", err)
	}

	room := c.Room(channelID)
	peer := room.Peer(userID)
	state := peer.VoiceState(channelID)
	if !state.Muted {
		t.Error("expected Muted to be true after SetServerMute")
	}
	if state.SelfMute {
		t.Error("SetServerMute should not alter selfMute")
	}
}

func TestLeaveRoom_FansOutProducerClosed(t *testing.T) {
	c, rec := testCoordinator(t)
	channelID := models.NewULID()
	userID := models.NewULID()
	peer := c.JoinRoom(channelID, userID)

	peer.mu.Lock()
	peer.producers["fake-producer"] = &Producer{ID: "fake-producer", Source: SourceMic, peer: peer}
	peer.mu.Unlock()

	c.LeaveRoom(channelID, userID)

	if rec.count() != 1 {
		t.Fatalf("expected 1 fanout event, got %d", rec.count())
	}
}
