package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/roguecord/hub/internal/connmgr"
	"github.com/roguecord/hub/internal/mentions"
	"github.com/roguecord/hub/internal/models"
)

type getChannelsPayload struct {
	Categories       []models.Category           `json:"categories"`
	Channels         []models.Channel             `json:"channels"`
	UnreadStates     []unreadStatePayload         `json:"unreadStates"`
	VoiceParticipants map[string][]voiceParticipant `json:"voiceParticipants"`
}

type unreadStatePayload struct {
	ChannelID string `json:"channelId"`
	Unread    bool   `json:"unread"`
}

// handleGetChannels implements get_channels, including the on-the-fly
// bootstrap of a default category/channel pair for a brand new server.
func (h *Handler) handleGetChannels(ctx context.Context, s *connmgr.Session) {
	userID := s.UserID()
	if userID == nil {
		h.sendError(ctx, s, "authentication required")
		return
	}

	catCount, err := h.store.CategoryCount(ctx)
	if err != nil {
		h.logger.Error("session: counting categories", "error", err.Error())
		h.sendError(ctx, s, "internal error")
		return
	}
	chanCount, err := h.store.ChannelCount(ctx)
	if err != nil {
		h.logger.Error("session: counting channels", "error", err.Error())
		h.sendError(ctx, s, "internal error")
		return
	}
	if catCount == 0 && chanCount == 0 {
		if err := h.bootstrapDefaultChannel(ctx); err != nil {
			h.logger.Error("session: bootstrapping default channel", "error", err.Error())
			h.sendError(ctx, s, "internal error")
			return
		}
	}

	categories, err := h.store.ListCategories(ctx)
	if err != nil {
		h.logger.Error("session: listing categories", "error", err.Error())
		h.sendError(ctx, s, "internal error")
		return
	}
	channels, err := h.store.ListChannels(ctx)
	if err != nil {
		h.logger.Error("session: listing channels", "error", err.Error())
		h.sendError(ctx, s, "internal error")
		return
	}
	unread, err := h.store.ListUnreadStates(ctx, *userID)
	if err != nil {
		h.logger.Error("session: listing unread states", "error", err.Error())
		h.sendError(ctx, s, "internal error")
		return
	}

	unreadOut := make([]unreadStatePayload, 0, len(unread))
	for _, u := range unread {
		unreadOut = append(unreadOut, unreadStatePayload{ChannelID: u.ChannelID.String(), Unread: u.Unread})
	}

	h.send(ctx, s, "channels_list", getChannelsPayload{
		Categories:        categories,
		Channels:          channels,
		UnreadStates:      unreadOut,
		VoiceParticipants: h.voiceParticipantsSnapshot(),
	})
}

func (h *Handler) bootstrapDefaultChannel(ctx context.Context) error {
	cat, err := h.store.CreateCategory(ctx, "Text Channels", 0)
	if err != nil {
		return fmt.Errorf("creating default category: %w", err)
	}
	channel, err := h.store.CreateChannel(ctx, &cat.ID, "general", models.ChannelText, nil)
	if err != nil {
		return fmt.Errorf("creating default channel: %w", err)
	}
	if err := h.store.SetWelcomeChannel(ctx, channel.ID); err != nil {
		return fmt.Errorf("setting welcome channel: %w", err)
	}
	return nil
}

type createChannelPayload struct {
	CategoryID *string `json:"categoryId,omitempty"`
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	FeedURL    *string `json:"feedUrl,omitempty"`
}

func (h *Handler) handleCreateChannel(ctx context.Context, s *connmgr.Session, raw json.RawMessage) {
	user, ok := h.requireAdmin(ctx, s)
	if !ok {
		return
	}

	var req createChannelPayload
	if err := json.Unmarshal(raw, &req); err != nil {
		h.logDecodeError("create_channel", err)
		h.sendError(ctx, s, "malformed create_channel")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		h.sendError(ctx, s, "name is required")
		return
	}

	typ := models.ChannelType(req.Type)
	switch typ {
	case models.ChannelText, models.ChannelVoice, models.ChannelRSS, models.ChannelFolder:
	default:
		h.sendError(ctx, s, "invalid channel type")
		return
	}

	if typ == models.ChannelRSS {
		if req.FeedURL == nil || (!strings.HasPrefix(*req.FeedURL, "http://") && !strings.HasPrefix(*req.FeedURL, "https://")) {
			h.sendError(ctx, s, "feedUrl must be an http(s) URL for rss channels")
			return
		}
	}

	var categoryID *models.ULID
	if req.CategoryID != nil {
		id, err := models.ParseULID(*req.CategoryID)
		if err != nil {
			h.sendError(ctx, s, "invalid categoryId")
			return
		}
		categoryID = &id
	}

	channel, err := h.store.CreateChannel(ctx, categoryID, req.Name, typ, req.FeedURL)
	if err != nil {
		h.logger.Error("session: creating channel", "error", err.Error(), "caller", user.ID.String())
		h.sendError(ctx, s, "internal error")
		return
	}

	h.conns.BroadcastToAuthenticated(ctx, "channel_created", channel)
}

type channelIDPayload struct {
	ChannelID string `json:"channelId"`
}

func (h *Handler) handleDeleteChannel(ctx context.Context, s *connmgr.Session, raw json.RawMessage) {
	if _, ok := h.requireAdmin(ctx, s); !ok {
		return
	}

	var req channelIDPayload
	if err := json.Unmarshal(raw, &req); err != nil {
		h.logDecodeError("delete_channel", err)
		h.sendError(ctx, s, "malformed delete_channel")
		return
	}
	channelID, err := models.ParseULID(req.ChannelID)
	if err != nil {
		h.sendError(ctx, s, "invalid channelId")
		return
	}

	channel, err := h.store.GetChannel(ctx, channelID)
	if err != nil {
		h.sendError(ctx, s, "channel not found")
		return
	}

	if channel.Type == models.ChannelVoice {
		h.teardownVoiceRoom(ctx, channelID)
	}
	if channel.Type == models.ChannelFolder {
		h.deleteFolderBytes(ctx, channelID)
	}

	if err := h.store.DeleteChannel(ctx, channelID); err != nil {
		h.logger.Error("session: deleting channel", "error", err.Error())
		h.sendError(ctx, s, "internal error")
		return
	}

	h.conns.BroadcastToAuthenticated(ctx, "channel_deleted", channelIDPayload{ChannelID: channelID.String()})
}

type getMessagesPayload struct {
	ChannelID       string  `json:"channelId"`
	BeforeCreatedAt *string `json:"beforeCreatedAt,omitempty"`
	BeforeID        *string `json:"beforeId,omitempty"`
}

type messagesListPayload struct {
	ChannelID       string           `json:"channelId"`
	Messages        []models.Message `json:"messages"`
	HasMore         bool             `json:"hasMore"`
	RequestBeforeAt *string          `json:"requestBeforeCreatedAt,omitempty"`
	RequestBeforeID *string          `json:"requestBeforeId,omitempty"`
}

func (h *Handler) handleGetMessages(ctx context.Context, s *connmgr.Session, raw json.RawMessage) {
	var req getMessagesPayload
	if err := json.Unmarshal(raw, &req); err != nil {
		h.logDecodeError("get_messages", err)
		h.sendError(ctx, s, "malformed get_messages")
		return
	}
	channelID, err := models.ParseULID(req.ChannelID)
	if err != nil {
		h.sendError(ctx, s, "invalid channelId")
		return
	}

	var beforeCreatedAt *time.Time
	var beforeID *models.ULID
	if req.BeforeCreatedAt != nil && req.BeforeID != nil {
		t, err := time.Parse(time.RFC3339Nano, *req.BeforeCreatedAt)
		if err != nil {
			h.sendError(ctx, s, "invalid beforeCreatedAt")
			return
		}
		id, err := models.ParseULID(*req.BeforeID)
		if err != nil {
			h.sendError(ctx, s, "invalid beforeId")
			return
		}
		beforeCreatedAt, beforeID = &t, &id
	}

	messages, hasMore, err := h.store.GetMessages(ctx, channelID, beforeCreatedAt, beforeID)
	if err != nil {
		h.logger.Error("session: fetching messages", "error", err.Error())
		h.sendError(ctx, s, "internal error")
		return
	}

	h.send(ctx, s, "messages_list", messagesListPayload{
		ChannelID:       channelID.String(),
		Messages:        messages,
		HasMore:         hasMore,
		RequestBeforeAt: req.BeforeCreatedAt,
		RequestBeforeID: req.BeforeID,
	})
}

type markChannelReadPayload struct {
	ChannelID         string `json:"channelId"`
	LastReadMessageID string `json:"lastReadMessageId"`
	LastReadCreatedAt string `json:"lastReadCreatedAt"`
}

func (h *Handler) handleMarkChannelRead(ctx context.Context, s *connmgr.Session, raw json.RawMessage) {
	userID := s.UserID()
	if userID == nil {
		h.sendError(ctx, s, "authentication required")
		return
	}

	var req markChannelReadPayload
	if err := json.Unmarshal(raw, &req); err != nil {
		h.logDecodeError("mark_channel_read", err)
		h.sendError(ctx, s, "malformed mark_channel_read")
		return
	}
	channelID, err := models.ParseULID(req.ChannelID)
	if err != nil {
		h.sendError(ctx, s, "invalid channelId")
		return
	}
	messageID, err := models.ParseULID(req.LastReadMessageID)
	if err != nil {
		h.sendError(ctx, s, "invalid lastReadMessageId")
		return
	}
	createdAt, err := time.Parse(time.RFC3339Nano, req.LastReadCreatedAt)
	if err != nil {
		h.sendError(ctx, s, "invalid lastReadCreatedAt")
		return
	}

	if err := h.store.MarkRead(ctx, *userID, channelID, messageID, createdAt); err != nil {
		h.logger.Error("session: marking channel read", "error", err.Error())
		h.sendError(ctx, s, "internal error")
	}
}

type sendMessagePayload struct {
	ChannelID string `json:"channelId"`
	Content   string `json:"content"`
}

func (h *Handler) handleSendMessage(ctx context.Context, s *connmgr.Session, raw json.RawMessage) {
	userID := s.UserID()
	if userID == nil {
		h.sendError(ctx, s, "authentication required")
		return
	}

	var req sendMessagePayload
	if err := json.Unmarshal(raw, &req); err != nil {
		h.logDecodeError("send_message", err)
		h.sendError(ctx, s, "malformed send_message")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		h.sendError(ctx, s, "content is required")
		return
	}
	channelID, err := models.ParseULID(req.ChannelID)
	if err != nil {
		h.sendError(ctx, s, "invalid channelId")
		return
	}

	channel, err := h.store.GetChannel(ctx, channelID)
	if err != nil {
		h.sendError(ctx, s, "channel not found")
		return
	}

	if channel.Type == models.ChannelRSS {
		user, err := h.store.GetUser(ctx, *userID)
		if err != nil || !user.Role.IsPrivileged() {
			h.sendError(ctx, s, "cannot post directly to an rss channel")
			return
		}
	}

	embeds := extractEmbeds(req.Content)
	msg, err := h.store.CreateMessage(ctx, channelID, *userID, req.Content, embeds)
	if err != nil {
		h.logger.Error("session: creating message", "error", err.Error())
		h.sendError(ctx, s, "internal error")
		return
	}

	if err := h.store.MarkRead(ctx, *userID, channelID, msg.ID, msg.CreatedAt); err != nil {
		h.logger.Error("session: advancing sender's own read cursor", "error", err.Error())
	}

	h.conns.BroadcastToAuthenticated(ctx, "new_message", newMessagePayload{
		Message:  msg,
		Mentions: mentions.Parse(req.Content),
	})
}

// newMessagePayload flattens a Message's fields alongside the mentions
// extracted from its content, so clients can highlight a ping without
// re-parsing the message body themselves.
type newMessagePayload struct {
	*models.Message
	Mentions mentions.Result `json:"mentions,omitempty"`
}

// requireAdmin replies with error and returns ok=false if the caller's role
// is not admin or owner.
func (h *Handler) requireAdmin(ctx context.Context, s *connmgr.Session) (*models.User, bool) {
	userID := s.UserID()
	if userID == nil {
		h.sendError(ctx, s, "authentication required")
		return nil, false
	}
	user, err := h.store.GetUser(ctx, *userID)
	if err != nil {
		h.sendError(ctx, s, "internal error")
		return nil, false
	}
	if user.Role != models.RoleAdmin && user.Role != models.RoleOwner {
		h.sendError(ctx, s, "admin privileges required")
		return nil, false
	}
	return user, true
}
