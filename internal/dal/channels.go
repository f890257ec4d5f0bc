package dal

import (
	"context"

	"github.com/roguecord/hub/internal/models"
)

// ListChannels returns every channel ordered by position ascending, ties
// broken by id.
func (s *Store) ListChannels(ctx context.Context) ([]models.Channel, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, category_id, name, type, position, feed_url
		FROM channels ORDER BY position ASC, id ASC
	`)
	if err != nil {
		return nil, wrapErr("ListChannels", err)
	}
	defer rows.Close()

	var out []models.Channel
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, wrapErr("ListChannels.rows", rows.Err())
}

func scanChannel(row rowScanner) (*models.Channel, error) {
	var c models.Channel
	if err := row.Scan(&c.ID, &c.CategoryID, &c.Name, &c.Type, &c.Position, &c.FeedURL); err != nil {
		return nil, wrapErr("scanChannel", err)
	}
	return &c, nil
}

// GetChannel looks a channel up by id.
func (s *Store) GetChannel(ctx context.Context, id models.ULID) (*models.Channel, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, category_id, name, type, position, feed_url FROM channels WHERE id = $1
	`, id)
	return scanChannel(row)
}

// CreateChannel inserts a new channel. Position is
// appended after the current maximum within the category.
func (s *Store) CreateChannel(ctx context.Context, categoryID *models.ULID, name string, typ models.ChannelType, feedURL *string) (*models.Channel, error) {
	id := models.NewULID()

	var maxPos int
	if err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(position), -1) FROM channels WHERE category_id IS NOT DISTINCT FROM $1
	`, categoryID).Scan(&maxPos); err != nil {
		return nil, wrapErr("CreateChannel.maxpos", err)
	}
	position := maxPos + 1

	_, err := s.pool.Exec(ctx, `
		INSERT INTO channels (id, category_id, name, type, position, feed_url)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, categoryID, name, typ, position, feedURL)
	if err != nil {
		return nil, wrapErr("CreateChannel.insert", err)
	}

	return &models.Channel{ID: id, CategoryID: categoryID, Name: name, Type: typ, Position: position, FeedURL: feedURL}, nil
}

// DeleteChannel removes a channel; cascades (messages, read-states, folder
// files, RSS items) are enforced by the migration's FK ON DELETE CASCADE
//. Voice-room teardown is the caller's responsibility
// since voice rooms are in-memory, owned by internal/voice.
func (s *Store) DeleteChannel(ctx context.Context, id models.ULID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM channels WHERE id = $1`, id)
	if err != nil {
		return wrapErr("DeleteChannel", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ChannelCount reports how many channels exist; used alongside
// CategoryCount to detect the empty-server bootstrap case.
func (s *Store) ChannelCount(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM channels`).Scan(&n)
	return n, wrapErr("ChannelCount", err)
}
