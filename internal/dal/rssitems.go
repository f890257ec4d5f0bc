package dal

import (
	"context"

	"github.com/roguecord/hub/internal/models"
)

// ReserveRssItem attempts to insert a dedupe reservation row with
// messageId=null. Returns false if a row with the same (channelId, itemKey)
// already exists — the reservation failed and the item is a duplicate.
// ON CONFLICT DO NOTHING gives atomic insert-or-ignore semantics.
func (s *Store) ReserveRssItem(ctx context.Context, channelID models.ULID, itemKey string, contentFingerprint *string) (reserved bool, err error) {
	tag, execErr := s.pool.Exec(ctx, `
		INSERT INTO rss_channel_items (channel_id, item_key, content_fingerprint, message_id, created_at)
		VALUES ($1, $2, $3, NULL, now())
		ON CONFLICT (channel_id, item_key) DO NOTHING
	`, channelID, itemKey, contentFingerprint)
	if execErr != nil {
		return false, wrapErr("ReserveRssItem", execErr)
	}
	return tag.RowsAffected() > 0, nil
}

// PublishRssItem patches a reservation with the newly created message id on
// successful publish.
func (s *Store) PublishRssItem(ctx context.Context, channelID models.ULID, itemKey string, messageID models.ULID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE rss_channel_items SET message_id = $1 WHERE channel_id = $2 AND item_key = $3
	`, messageID, channelID, itemKey)
	return wrapErr("PublishRssItem", err)
}

// ReleaseRssItem removes a reservation after a failed publish, freeing the
// itemKey for a future poll to retry.
func (s *Store) ReleaseRssItem(ctx context.Context, channelID models.ULID, itemKey string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM rss_channel_items WHERE channel_id = $1 AND item_key = $2 AND message_id IS NULL
	`, channelID, itemKey)
	return wrapErr("ReleaseRssItem", err)
}

// CountRssItems reports how many dedupe rows exist for a channel, used by
// tests exercising RSS dedupe.
func (s *Store) CountRssItems(ctx context.Context, channelID models.ULID) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM rss_channel_items WHERE channel_id = $1`, channelID).Scan(&n)
	return n, wrapErr("CountRssItems", err)
}
