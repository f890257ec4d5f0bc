// Package moderation implements the kick/ban command surface: privilege and
// self-target checks, message purge ordering, ban-rule persistence, and the
// pending-enforcement drain run at a target's next successful
// authentication. It never touches the transport or the connection
// manager directly — the session/signaling layer decides who to notify and
// close, this package decides whether a command is allowed and what to
// record.
package moderation

import (
	"context"
	"errors"
	"fmt"

	"github.com/roguecord/hub/internal/dal"
	"github.com/roguecord/hub/internal/models"
)

// ErrNotPrivileged is returned when the caller's role cannot issue
// kick_member/ban_member.
var ErrNotPrivileged = errors.New("moderation: caller role is not a moderator")

// ErrSelfTarget is returned when a caller targets their own account.
var ErrSelfTarget = errors.New("moderation: cannot target yourself")

// ErrBanNeedsTarget is returned when ban_member requests blacklistIp without
// a known target address, or requests neither blacklist flag.
var ErrBanNeedsTarget = errors.New("moderation: ban requires blacklistIdentity or a known blacklistIp target")

// Engine wraps the DAL's moderation primitives with the command's business
// rules.
type Engine struct {
	store *dal.Store
}

// New builds an Engine over the given store.
func New(store *dal.Store) *Engine {
	return &Engine{store: store}
}

func authorize(caller *models.User, targetID models.ULID) error {
	if !caller.Role.IsModerator() {
		return ErrNotPrivileged
	}
	if caller.ID == targetID {
		return ErrSelfTarget
	}
	return nil
}

// Kick validates the caller's privilege, purges the target's messages per
// deleteMode (before any notification or close happens, so the target
// cannot race another message in), and records a ModerationAction. If
// targetOnline, the record is marked enforced immediately; otherwise it
// remains pending until DrainPending runs at the target's next auth.
func (e *Engine) Kick(ctx context.Context, caller *models.User, targetID models.ULID, reason *string, deleteMode models.DeleteMode, deleteHours *int, targetOnline bool) (*models.ModerationAction, error) {
	if err := authorize(caller, targetID); err != nil {
		return nil, err
	}

	hours := 0
	if deleteHours != nil {
		hours = *deleteHours
	}
	if err := e.store.DeleteMessagesByUser(ctx, targetID, deleteMode, hours); err != nil {
		return nil, fmt.Errorf("moderation: purging target messages: %w", err)
	}

	action, err := e.store.CreateModerationAction(ctx, targetID, caller.ID, models.ActionKick,
		reason, deleteMode, deleteHours, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("moderation: recording kick: %w", err)
	}

	if targetOnline {
		if err := e.store.MarkEnforced(ctx, action.ID); err != nil {
			return nil, fmt.Errorf("moderation: marking kick enforced: %w", err)
		}
		action.Enforced = true
	}
	return action, nil
}

// Ban performs everything Kick does, additionally persisting a BanRule that
// gates future authentications. At least one of blacklistIdentity or
// blacklistIP (with a known targetIP) must be set.
func (e *Engine) Ban(ctx context.Context, caller *models.User, target *models.User, reason *string, deleteMode models.DeleteMode, deleteHours *int, blacklistIdentity, blacklistIP bool, targetIP *string, targetOnline bool) (*models.ModerationAction, error) {
	if err := authorize(caller, target.ID); err != nil {
		return nil, err
	}
	if !blacklistIdentity && !(blacklistIP && targetIP != nil && *targetIP != "") {
		return nil, ErrBanNeedsTarget
	}

	hours := 0
	if deleteHours != nil {
		hours = *deleteHours
	}
	if err := e.store.DeleteMessagesByUser(ctx, target.ID, deleteMode, hours); err != nil {
		return nil, fmt.Errorf("moderation: purging target messages: %w", err)
	}

	publicKey := &target.PublicKey
	if _, err := e.store.CreateBanRule(ctx, &target.ID, publicKey, targetIP, reason, blacklistIdentity, blacklistIP); err != nil {
		return nil, fmt.Errorf("moderation: recording ban rule: %w", err)
	}

	action, err := e.store.CreateModerationAction(ctx, target.ID, caller.ID, models.ActionBan,
		reason, deleteMode, deleteHours, blacklistIdentity, blacklistIP, targetIP)
	if err != nil {
		return nil, fmt.Errorf("moderation: recording ban: %w", err)
	}

	if targetOnline {
		if err := e.store.MarkEnforced(ctx, action.ID); err != nil {
			return nil, fmt.Errorf("moderation: marking ban enforced: %w", err)
		}
		action.Enforced = true
	}
	return action, nil
}

// EvaluateBan checks whether (userID, publicKey, ip) matches an active ban
// rule, returning nil if none matched. Used both at connect time (userID
// unknown, publicKey known) and at auth time (all three known).
func (e *Engine) EvaluateBan(ctx context.Context, userID *models.ULID, publicKey, ip string) (*models.BanRule, error) {
	rule, err := e.store.MatchBanRule(ctx, userID, publicKey, ip)
	if err != nil {
		if errors.Is(err, dal.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("moderation: evaluating ban rules: %w", err)
	}
	return rule, nil
}

// DrainPending marks every not-yet-enforced moderation action against
// userID as enforced and returns them, so the auth handler can emit
// moderation_action_enforced for each before closing the fresh session.
func (e *Engine) DrainPending(ctx context.Context, userID models.ULID) ([]models.ModerationAction, error) {
	pending, err := e.store.PendingActionsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("moderation: listing pending actions: %w", err)
	}
	for i := range pending {
		if err := e.store.MarkEnforced(ctx, pending[i].ID); err != nil {
			return nil, fmt.Errorf("moderation: marking pending action enforced: %w", err)
		}
		pending[i].Enforced = true
	}
	return pending, nil
}
