package session

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/coder/websocket"

	"github.com/roguecord/hub/internal/connmgr"
	"github.com/roguecord/hub/internal/models"
)

// unauthenticatedAllowed is the set of request types honored before a
// session reaches PhaseAuthenticated.
var unauthenticatedAllowed = map[string]bool{
	"auth:request":  true,
	"auth:response": true,
	"ping":          true,
}

// HandleConn drains one accepted connection until the client disconnects or
// a fatal transport error occurs. It registers the session with the
// connection manager, runs the receive loop in processing order, and lets
// RemoveSession's close hook (OnSessionClosed) perform teardown.
func (h *Handler) HandleConn(ctx context.Context, conn *websocket.Conn, remoteAddr string) {
	s := h.conns.AddSession(conn, remoteAddr)
	defer h.conns.RemoveSession(s)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var env connmgr.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.sendError(ctx, s, "malformed envelope")
			continue
		}

		func() {
			defer func() {
				if r := recover(); r != nil {
					h.logger.Error("session: recovered handler panic", "type", env.Type, "panic", r)
					h.sendError(ctx, s, "internal error")
				}
			}()
			h.route(ctx, s, env)
		}()

		if h.stateFor(s).getPhase() == PhaseTerminated {
			return
		}
	}
}

// route dispatches one envelope per the request taxonomy, enforcing the
// unauthenticated admission rule before anything else.
func (h *Handler) route(ctx context.Context, s *connmgr.Session, env connmgr.Envelope) {
	cs := h.stateFor(s)

	if cs.getPhase() != PhaseAuthenticated && !unauthenticatedAllowed[env.Type] {
		h.sendError(ctx, s, "authentication required")
		return
	}

	switch env.Type {
	case "ping":
		h.send(ctx, s, "pong", nil)

	case "auth:request":
		h.handleAuthRequest(ctx, s, cs, env.Payload)
	case "auth:response":
		h.handleAuthResponse(ctx, s, cs, env.Payload)

	case "get_channels":
		h.handleGetChannels(ctx, s)
	case "create_channel":
		h.handleCreateChannel(ctx, s, env.Payload)
	case "delete_channel":
		h.handleDeleteChannel(ctx, s, env.Payload)
	case "get_messages":
		h.handleGetMessages(ctx, s, env.Payload)
	case "mark_channel_read":
		h.handleMarkChannelRead(ctx, s, env.Payload)
	case "send_message":
		h.handleSendMessage(ctx, s, env.Payload)

	case "folder_list_files":
		h.handleFolderListFiles(ctx, s, env.Payload)
	case "folder_upload_file":
		h.handleFolderUploadFile(ctx, s, env.Payload)
	case "folder_download_file":
		h.handleFolderDownloadFile(ctx, s, env.Payload)
	case "folder_delete_file":
		h.handleFolderDeleteFile(ctx, s, env.Payload)

	case "join_voice_channel":
		h.handleJoinVoiceChannel(ctx, s, env.Payload)
	case "create_webrtc_transport":
		h.handleCreateTransport(ctx, s, env.Payload)
	case "connect_webrtc_transport":
		h.handleConnectTransport(ctx, s, env.Payload)
	case "produce":
		h.handleProduce(ctx, s, env.Payload)
	case "close_producer":
		h.handleCloseProducer(ctx, s, env.Payload)
	case "consume":
		h.handleConsume(ctx, s, env.Payload)
	case "resume_consumer":
		h.handleResumeConsumer(ctx, s, env.Payload)
	case "leave_voice_channel":
		h.handleLeaveVoiceChannel(ctx, s)
	case "get_producers":
		h.handleGetProducers(ctx, s, env.Payload)
	case "voice_state_update":
		h.handleVoiceStateUpdate(ctx, s, env.Payload)

	case "kick_member":
		h.handleKickMember(ctx, s, env.Payload)
	case "ban_member":
		h.handleBanMember(ctx, s, env.Payload)
	case "submit_admin_key":
		h.handleSubmitAdminKey(ctx, s, env.Payload)

	case "update_server_settings":
		h.handleUpdateServerSettings(ctx, s, env.Payload)
	case "get_server":
		h.handleGetServer(ctx, s)

	default:
		h.sendError(ctx, s, "unknown request type")
	}
}

// OnSessionClosed is the connmgr.CloseHook: it runs after the session has
// already been unlinked from the manager's tables. It leaves any voice room
// the user was in and, if no other session remains for that user,
// broadcasts user_offline.
func (h *Handler) OnSessionClosed(s *connmgr.Session, userID *models.ULID) {
	cs := h.stateFor(s)
	voiceChannelID := cs.getVoiceChannel()
	h.dropState(s)

	if userID == nil {
		return
	}

	ctx := context.Background()

	if voiceChannelID != nil && !h.conns.IsOnline(*userID, nil) {
		h.voice.LeaveRoom(*voiceChannelID, *userID)
		h.conns.BroadcastToAuthenticated(ctx, "user_left_voice", map[string]string{
			"channelId": voiceChannelID.String(),
			"userId":    userID.String(),
		})
	}

	if !h.conns.IsOnline(*userID, nil) {
		h.conns.BroadcastToAuthenticated(ctx, "user_offline", map[string]string{"userId": userID.String()})
	}
}

func (h *Handler) logDecodeError(where string, err error) {
	h.logger.Debug("session: decoding payload", slog.String("handler", where), slog.String("error", err.Error()))
}
