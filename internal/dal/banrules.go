package dal

import (
	"context"

	"github.com/roguecord/hub/internal/models"
)

// CreateBanRule writes a persistent ban record.
func (s *Store) CreateBanRule(ctx context.Context, targetUserID *models.ULID, targetPublicKey, targetIP, reason *string, blacklistIdentity, blacklistIP bool) (*models.BanRule, error) {
	id := models.NewULID()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ban_rules (id, target_user_id, target_public_key, target_ip, blacklist_identity, blacklist_ip, reason, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, true, now())
	`, id, targetUserID, targetPublicKey, targetIP, blacklistIdentity, blacklistIP, reason)
	if err != nil {
		return nil, wrapErr("CreateBanRule", err)
	}
	return &models.BanRule{
		ID: id, TargetUserID: targetUserID, TargetPublicKey: targetPublicKey, TargetIP: targetIP,
		BlacklistIdentity: blacklistIdentity, BlacklistIP: blacklistIP, Reason: reason, Active: true,
	}, nil
}

// MatchBanRule evaluates active ban rules against an identity/network tuple:
//
//	active=true AND ((blacklistIdentity AND (userId match OR publicKey match))
//	                  OR (blacklistIp AND ip match))
//
// returning the most recently created match, or an error wrapping
// ErrNotFound if none matched.
func (s *Store) MatchBanRule(ctx context.Context, userID *models.ULID, publicKey, ip string) (*models.BanRule, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, target_user_id, target_public_key, target_ip, blacklist_identity, blacklist_ip, reason, active, created_at, revoked_at
		FROM ban_rules
		WHERE active = true
		  AND (
		        (blacklist_identity AND (
		            (target_user_id IS NOT NULL AND target_user_id = $1) OR
		            (target_public_key IS NOT NULL AND target_public_key = $2)
		        ))
		        OR
		        (blacklist_ip AND target_ip IS NOT NULL AND target_ip = $3 AND $3 <> '')
		      )
		ORDER BY created_at DESC
		LIMIT 1
	`, userID, publicKey, ip)

	var b models.BanRule
	if err := row.Scan(&b.ID, &b.TargetUserID, &b.TargetPublicKey, &b.TargetIP, &b.BlacklistIdentity,
		&b.BlacklistIP, &b.Reason, &b.Active, &b.CreatedAt, &b.RevokedAt); err != nil {
		return nil, wrapErr("MatchBanRule", err)
	}
	return &b, nil
}
