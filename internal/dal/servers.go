package dal

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/roguecord/hub/internal/models"
)

// EnsureServer returns the singleton server row, creating it with the given
// defaults if no row exists yet.
func (s *Store) EnsureServer(ctx context.Context, defaultName, defaultTitle string) (*models.Server, error) {
	srv, err := s.GetServer(ctx)
	if err == nil {
		return srv, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, wrapErr("EnsureServer.get", err)
	}

	id := models.NewULID()
	now := time.Now().UTC()
	_, execErr := s.pool.Exec(ctx, `
		INSERT INTO servers (id, name, title, storage_type, storage_updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, id, defaultName, defaultTitle, models.StorageLocalDir, now)
	if execErr != nil {
		return nil, wrapErr("EnsureServer.insert", execErr)
	}

	return s.GetServer(ctx)
}

// GetServer returns the singleton server row.
func (s *Store) GetServer(ctx context.Context) (*models.Server, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, title, rules_channel_id, welcome_channel_id, icon_ref,
		       storage_type, s3_config, storage_last_error, storage_updated_at
		FROM servers
		LIMIT 1
	`)

	var srv models.Server
	var s3cfg []byte
	if err := row.Scan(&srv.ID, &srv.Name, &srv.Title, &srv.RulesChannelID, &srv.WelcomeChannelID,
		&srv.IconRef, &srv.StorageType, &s3cfg, &srv.StorageLastError, &srv.StorageUpdatedAt); err != nil {
		return nil, wrapErr("GetServer", err)
	}
	if len(s3cfg) > 0 {
		var cfg models.S3Config
		if err := json.Unmarshal(s3cfg, &cfg); err == nil {
			srv.S3Config = &cfg
		}
	}
	return &srv, nil
}

// UpdateSettings patches title, rules/welcome channel pointers, and icon ref
// for the singleton server row.
func (s *Store) UpdateSettings(ctx context.Context, title string, rulesChannelID, welcomeChannelID *models.ULID, iconRef *string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE servers
		SET title = $1, rules_channel_id = $2, welcome_channel_id = $3, icon_ref = $4
	`, title, rulesChannelID, welcomeChannelID, iconRef)
	return wrapErr("UpdateSettings", err)
}

// SetWelcomeChannel sets the welcome channel, used when the first channel in
// an empty server is auto-created.
func (s *Store) SetWelcomeChannel(ctx context.Context, channelID models.ULID) error {
	_, err := s.pool.Exec(ctx, `UPDATE servers SET welcome_channel_id = $1`, channelID)
	return wrapErr("SetWelcomeChannel", err)
}

// SetStorageConfig atomically persists a new storage type/config, clearing
// storageLastError on success.
func (s *Store) SetStorageConfig(ctx context.Context, storageType models.StorageType, cfg *models.S3Config) error {
	var raw []byte
	if cfg != nil {
		var err error
		raw, err = json.Marshal(cfg)
		if err != nil {
			return wrapErr("SetStorageConfig.marshal", err)
		}
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE servers
		SET storage_type = $1, s3_config = $2, storage_last_error = NULL, storage_updated_at = now()
	`, storageType, raw)
	return wrapErr("SetStorageConfig", err)
}

// SetStorageError records a validation failure without changing the active
// provider.
func (s *Store) SetStorageError(ctx context.Context, reason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE servers SET storage_last_error = $1, storage_updated_at = now()
	`, reason)
	return wrapErr("SetStorageError", err)
}

// SetIconRef updates the server's icon reference (local path or s3: marker).
func (s *Store) SetIconRef(ctx context.Context, ref *string) error {
	_, err := s.pool.Exec(ctx, `UPDATE servers SET icon_ref = $1`, ref)
	return wrapErr("SetIconRef", err)
}
