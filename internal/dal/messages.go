package dal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/roguecord/hub/internal/models"
)

// PageSize is the constant page size for get_messages.
const PageSize = 25

// CreateMessage appends a message and returns the persisted row.
func (s *Store) CreateMessage(ctx context.Context, channelID, userID models.ULID, content string, embeds []models.Embed) (*models.Message, error) {
	id := models.NewULID()
	now := time.Now().UTC()

	var embedsJSON []byte
	if len(embeds) > 0 {
		var err error
		embedsJSON, err = json.Marshal(embeds)
		if err != nil {
			return nil, wrapErr("CreateMessage.marshal", err)
		}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, channel_id, user_id, content, embeds, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, channelID, userID, content, embedsJSON, now)
	if err != nil {
		return nil, wrapErr("CreateMessage", err)
	}

	return &models.Message{ID: id, ChannelID: channelID, UserID: userID, Content: content, Embeds: embeds, CreatedAt: now}, nil
}

// GetMessages implements a paginated reverse-chronological fetch: messages
// ordered by (createdAt DESC, id DESC), selecting rows strictly
// before the given cursor. It over-fetches by one row to compute hasMore,
// returning at most PageSize rows reversed into chronological order.
func (s *Store) GetMessages(ctx context.Context, channelID models.ULID, beforeCreatedAt *time.Time, beforeID *models.ULID) (msgs []models.Message, hasMore bool, err error) {
	var rows interface {
		Next() bool
		Scan(...any) error
		Close()
		Err() error
	}

	if beforeCreatedAt != nil && beforeID != nil {
		rows, err = s.pool.Query(ctx, `
			SELECT id, channel_id, user_id, content, embeds, created_at
			FROM messages
			WHERE channel_id = $1 AND (created_at, id) < ($2, $3)
			ORDER BY created_at DESC, id DESC
			LIMIT $4
		`, channelID, *beforeCreatedAt, *beforeID, PageSize+1)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT id, channel_id, user_id, content, embeds, created_at
			FROM messages
			WHERE channel_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		`, channelID, PageSize+1)
	}
	if err != nil {
		return nil, false, wrapErr("GetMessages", err)
	}
	defer rows.Close()

	var fetched []models.Message
	for rows.Next() {
		var m models.Message
		var embedsJSON []byte
		if err := rows.Scan(&m.ID, &m.ChannelID, &m.UserID, &m.Content, &embedsJSON, &m.CreatedAt); err != nil {
			return nil, false, wrapErr("GetMessages.scan", err)
		}
		if len(embedsJSON) > 0 {
			_ = json.Unmarshal(embedsJSON, &m.Embeds)
		}
		fetched = append(fetched, m)
	}
	if err := rows.Err(); err != nil {
		return nil, false, wrapErr("GetMessages.rows", err)
	}

	hasMore = len(fetched) > PageSize
	if hasMore {
		fetched = fetched[:PageSize]
	}

	// fetched is newest-first; reverse to chronological order for the client.
	msgs = make([]models.Message, len(fetched))
	for i, m := range fetched {
		msgs[len(fetched)-1-i] = m
	}
	return msgs, hasMore, nil
}

// LatestMessage returns the most recent message in a channel, or an error
// wrapping ErrNotFound if the channel has none.
func (s *Store) LatestMessage(ctx context.Context, channelID models.ULID) (*models.Message, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, channel_id, user_id, content, embeds, created_at
		FROM messages WHERE channel_id = $1
		ORDER BY created_at DESC, id DESC LIMIT 1
	`, channelID)

	var m models.Message
	var embedsJSON []byte
	if err := row.Scan(&m.ID, &m.ChannelID, &m.UserID, &m.Content, &embedsJSON, &m.CreatedAt); err != nil {
		return nil, wrapErr("LatestMessage", err)
	}
	if len(embedsJSON) > 0 {
		_ = json.Unmarshal(embedsJSON, &m.Embeds)
	}
	return &m, nil
}

// DeleteMessagesByUser purges a user's messages according to a moderation
// delete mode. mode="none" is a no-op; "hours" deletes messages
// newer than now-hours; "all" deletes every message by the user. The cutoff
// is computed inside the engine.
func (s *Store) DeleteMessagesByUser(ctx context.Context, userID models.ULID, mode models.DeleteMode, hours int) error {
	switch mode {
	case models.DeleteNone:
		return nil
	case models.DeleteAll:
		_, err := s.pool.Exec(ctx, `DELETE FROM messages WHERE user_id = $1`, userID)
		return wrapErr("DeleteMessagesByUser.all", err)
	case models.DeleteHours:
		_, err := s.pool.Exec(ctx, `
			DELETE FROM messages WHERE user_id = $1 AND created_at >= now() - ($2 || ' hours')::interval
		`, userID, hours)
		return wrapErr("DeleteMessagesByUser.hours", err)
	default:
		return nil
	}
}
