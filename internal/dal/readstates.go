package dal

import (
	"context"
	"time"

	"github.com/roguecord/hub/internal/models"
)

// BackfillReadStates seeds a new user's read cursor for every existing
// channel to that channel's current tail message, so existing history does
// not appear unread.
func (s *Store) BackfillReadStates(ctx context.Context, userID models.ULID) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO channel_read_states (user_id, channel_id, last_read_message_id, last_read_created_at, updated_at)
		SELECT $1, c.id, latest.id, latest.created_at, now()
		FROM channels c
		CROSS JOIN LATERAL (
			SELECT id, created_at FROM messages m
			WHERE m.channel_id = c.id
			ORDER BY m.created_at DESC, m.id DESC LIMIT 1
		) latest
		ON CONFLICT (user_id, channel_id) DO NOTHING
	`, userID)
	return wrapErr("BackfillReadStates", err)
}

// GetReadState returns a user's read cursor for a channel, or an error
// wrapping ErrNotFound if no row exists yet.
func (s *Store) GetReadState(ctx context.Context, userID, channelID models.ULID) (*models.ChannelReadState, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT user_id, channel_id, last_read_message_id, last_read_created_at, updated_at
		FROM channel_read_states WHERE user_id = $1 AND channel_id = $2
	`, userID, channelID)

	var rs models.ChannelReadState
	if err := row.Scan(&rs.UserID, &rs.ChannelID, &rs.LastReadMessageID, &rs.LastReadCreatedAt, &rs.UpdatedAt); err != nil {
		return nil, wrapErr("GetReadState", err)
	}
	return &rs, nil
}

// MarkRead advances a user's read cursor monotonically: the write only
// takes effect if the new (createdAt, id) pair is >= the stored one
// (createdAt wins ties broken by id). Marking read with an older cursor is
// a no-op.
func (s *Store) MarkRead(ctx context.Context, userID, channelID models.ULID, lastReadMessageID models.ULID, lastReadCreatedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO channel_read_states (user_id, channel_id, last_read_message_id, last_read_created_at, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (user_id, channel_id) DO UPDATE SET
			last_read_message_id = EXCLUDED.last_read_message_id,
			last_read_created_at = EXCLUDED.last_read_created_at,
			updated_at = now()
		WHERE (channel_read_states.last_read_created_at, channel_read_states.last_read_message_id)
		      <= (EXCLUDED.last_read_created_at, EXCLUDED.last_read_message_id)
		      OR channel_read_states.last_read_created_at IS NULL
	`, userID, channelID, lastReadMessageID, lastReadCreatedAt)
	return wrapErr("MarkRead", err)
}

// UnreadChannel reports whether a channel has unread content for a user:
// the latest message exists and either no read state exists yet or the
// latest message is newer than the stored cursor.
type UnreadChannel struct {
	ChannelID models.ULID
	Unread    bool
}

// ListUnreadStates computes unread flags for every text/rss channel for one
// user in a single query, used to answer get_channels.
func (s *Store) ListUnreadStates(ctx context.Context, userID models.ULID) ([]UnreadChannel, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id,
		       (latest.id IS NOT NULL AND (rs.last_read_created_at IS NULL OR
		            (latest.created_at, latest.id) > (rs.last_read_created_at, rs.last_read_message_id))) AS unread
		FROM channels c
		LEFT JOIN LATERAL (
			SELECT id, created_at FROM messages m
			WHERE m.channel_id = c.id
			ORDER BY m.created_at DESC, m.id DESC LIMIT 1
		) latest ON true
		LEFT JOIN channel_read_states rs ON rs.user_id = $1 AND rs.channel_id = c.id
		WHERE c.type IN ('text', 'rss')
	`, userID)
	if err != nil {
		return nil, wrapErr("ListUnreadStates", err)
	}
	defer rows.Close()

	var out []UnreadChannel
	for rows.Next() {
		var u UnreadChannel
		if err := rows.Scan(&u.ChannelID, &u.Unread); err != nil {
			return nil, wrapErr("ListUnreadStates.scan", err)
		}
		out = append(out, u)
	}
	return out, wrapErr("ListUnreadStates.rows", rows.Err())
}
