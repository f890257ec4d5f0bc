package session

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"

	"github.com/roguecord/hub/internal/connmgr"
	"github.com/roguecord/hub/internal/models"
	"github.com/roguecord/hub/internal/moderation"
)

type kickMemberPayload struct {
	UserID      string            `json:"userId"`
	Reason      *string           `json:"reason,omitempty"`
	DeleteMode  models.DeleteMode `json:"deleteMode"`
	DeleteHours *int              `json:"deleteHours,omitempty"`
}

type memberRemovedPayload struct {
	UserID string `json:"userId"`
	Action string `json:"action"`
}

func (h *Handler) handleKickMember(ctx context.Context, s *connmgr.Session, raw json.RawMessage) {
	caller, ok := h.requireAdmin(ctx, s)
	if !ok {
		return
	}
	var req kickMemberPayload
	if err := json.Unmarshal(raw, &req); err != nil {
		h.logDecodeError("kick_member", err)
		h.sendError(ctx, s, "malformed kick_member")
		return
	}
	targetID, err := models.ParseULID(req.UserID)
	if err != nil {
		h.sendError(ctx, s, "invalid userId")
		return
	}

	online := h.conns.IsOnline(targetID, nil)
	action, err := h.mod.Kick(ctx, caller, targetID, req.Reason, req.DeleteMode, req.DeleteHours, online)
	if err != nil {
		h.sendModerationError(ctx, s, err)
		return
	}

	if online {
		h.conns.SendToUser(ctx, targetID, "moderation_action_enforced", action)
		h.conns.CloseUserConnections(ctx, targetID, connmgr.StatusModerationEnforced, "kicked")
	}
	h.conns.BroadcastToAuthenticated(ctx, "member_removed", memberRemovedPayload{UserID: targetID.String(), Action: "kick"})
}

type banMemberPayload struct {
	UserID            string            `json:"userId"`
	Reason            *string           `json:"reason,omitempty"`
	DeleteMode        models.DeleteMode `json:"deleteMode"`
	DeleteHours       *int              `json:"deleteHours,omitempty"`
	BlacklistIdentity bool              `json:"blacklistIdentity"`
	BlacklistIP       bool              `json:"blacklistIp"`
}

func (h *Handler) handleBanMember(ctx context.Context, s *connmgr.Session, raw json.RawMessage) {
	caller, ok := h.requireAdmin(ctx, s)
	if !ok {
		return
	}
	var req banMemberPayload
	if err := json.Unmarshal(raw, &req); err != nil {
		h.logDecodeError("ban_member", err)
		h.sendError(ctx, s, "malformed ban_member")
		return
	}
	targetID, err := models.ParseULID(req.UserID)
	if err != nil {
		h.sendError(ctx, s, "invalid userId")
		return
	}
	target, err := h.store.GetUser(ctx, targetID)
	if err != nil {
		h.sendError(ctx, s, "target user not found")
		return
	}

	online := h.conns.IsOnline(targetID, nil)
	var targetIP *string
	if ip, ok := h.conns.GetUserIP(targetID); ok {
		targetIP = &ip
	} else if target.LastIP != nil {
		targetIP = target.LastIP
	}

	action, err := h.mod.Ban(ctx, caller, target, req.Reason, req.DeleteMode, req.DeleteHours,
		req.BlacklistIdentity, req.BlacklistIP, targetIP, online)
	if err != nil {
		h.sendModerationError(ctx, s, err)
		return
	}

	if online {
		h.conns.SendToUser(ctx, targetID, "moderation_action_enforced", action)
		h.conns.CloseUserConnections(ctx, targetID, connmgr.StatusModerationEnforced, "banned")
	}
	h.conns.BroadcastToAuthenticated(ctx, "member_removed", memberRemovedPayload{UserID: targetID.String(), Action: "ban"})
}

func (h *Handler) sendModerationError(ctx context.Context, s *connmgr.Session, err error) {
	switch {
	case errors.Is(err, moderation.ErrNotPrivileged):
		h.sendError(ctx, s, "admin privileges required")
	case errors.Is(err, moderation.ErrSelfTarget):
		h.sendError(ctx, s, "cannot target yourself")
	case errors.Is(err, moderation.ErrBanNeedsTarget):
		h.sendError(ctx, s, "ban requires blacklistIdentity or a known blacklistIp target")
	default:
		h.logger.Error("session: moderation command failed", "error", err.Error())
		h.sendError(ctx, s, "internal error")
	}
}

type submitAdminKeyPayload struct {
	Key string `json:"key"`
}

// handleSubmitAdminKey elevates the calling user to admin when key matches
// the server's configured admin key, compared in constant time.
func (h *Handler) handleSubmitAdminKey(ctx context.Context, s *connmgr.Session, raw json.RawMessage) {
	userID := s.UserID()
	if userID == nil {
		h.sendError(ctx, s, "authentication required")
		return
	}
	var req submitAdminKeyPayload
	if err := json.Unmarshal(raw, &req); err != nil {
		h.logDecodeError("submit_admin_key", err)
		h.sendError(ctx, s, "malformed submit_admin_key")
		return
	}

	if h.cfg.AdminKey == "" || subtle.ConstantTimeCompare([]byte(req.Key), []byte(h.cfg.AdminKey)) != 1 {
		h.sendError(ctx, s, "invalid admin key")
		return
	}

	if err := h.store.SetRole(ctx, *userID, models.RoleAdmin); err != nil {
		h.logger.Error("session: elevating user to admin", "error", err.Error())
		h.sendError(ctx, s, "internal error")
		return
	}

	user, err := h.store.GetUser(ctx, *userID)
	if err != nil {
		h.logger.Error("session: reloading user after admin elevation", "error", err.Error())
		h.sendError(ctx, s, "internal error")
		return
	}
	h.conns.BroadcastToAuthenticated(ctx, "user_updated", user)
}
