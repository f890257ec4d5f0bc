package dal

import (
	"context"
	"time"

	"github.com/roguecord/hub/internal/models"
)

// CreateModerationAction writes a new kick/ban record. enforced starts false; MarkEnforced flips it once.
func (s *Store) CreateModerationAction(ctx context.Context, targetUserID, moderatorUserID models.ULID, actionType models.ModerationActionType, reason *string, deleteMode models.DeleteMode, deleteHours *int, blacklistIdentity, blacklistIP bool, targetIP *string) (*models.ModerationAction, error) {
	id := models.NewULID()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO moderation_actions
			(id, target_user_id, moderator_user_id, action_type, reason, delete_mode, delete_hours,
			 blacklist_identity, blacklist_ip, target_ip, enforced, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, false, $11)
	`, id, targetUserID, moderatorUserID, actionType, reason, deleteMode, deleteHours,
		blacklistIdentity, blacklistIP, targetIP, now)
	if err != nil {
		return nil, wrapErr("CreateModerationAction", err)
	}

	return &models.ModerationAction{
		ID: id, TargetUserID: targetUserID, ModeratorUserID: moderatorUserID, ActionType: actionType,
		Reason: reason, DeleteMode: deleteMode, DeleteHours: deleteHours,
		BlacklistIdentity: blacklistIdentity, BlacklistIP: blacklistIP, TargetIP: targetIP,
		Enforced: false, CreatedAt: now,
	}, nil
}

// PendingActionsForUser returns every not-yet-enforced moderation action
// targeting a user, used at successful auth to drain pending enforcement
//.
func (s *Store) PendingActionsForUser(ctx context.Context, userID models.ULID) ([]models.ModerationAction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, target_user_id, moderator_user_id, action_type, reason, delete_mode, delete_hours,
		       blacklist_identity, blacklist_ip, target_ip, enforced, created_at, enforced_at
		FROM moderation_actions
		WHERE target_user_id = $1 AND enforced = false
		ORDER BY created_at ASC
	`, userID)
	if err != nil {
		return nil, wrapErr("PendingActionsForUser", err)
	}
	defer rows.Close()

	var out []models.ModerationAction
	for rows.Next() {
		var a models.ModerationAction
		if err := rows.Scan(&a.ID, &a.TargetUserID, &a.ModeratorUserID, &a.ActionType, &a.Reason,
			&a.DeleteMode, &a.DeleteHours, &a.BlacklistIdentity, &a.BlacklistIP, &a.TargetIP,
			&a.Enforced, &a.CreatedAt, &a.EnforcedAt); err != nil {
			return nil, wrapErr("PendingActionsForUser.scan", err)
		}
		out = append(out, a)
	}
	return out, wrapErr("PendingActionsForUser.rows", rows.Err())
}

// MarkEnforced flips the write-once enforced bit and stamps enforcedAt
//.
func (s *Store) MarkEnforced(ctx context.Context, actionID models.ULID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE moderation_actions SET enforced = true, enforced_at = now()
		WHERE id = $1 AND enforced = false
	`, actionID)
	return wrapErr("MarkEnforced", err)
}
