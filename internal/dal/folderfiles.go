package dal

import (
	"context"
	"time"

	"github.com/roguecord/hub/internal/models"
)

// ListFolderFiles returns every file uploaded to a folder channel, newest
// first.
func (s *Store) ListFolderFiles(ctx context.Context, channelID models.ULID) ([]models.FolderFile, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, channel_id, original_name, storage_name, storage_provider, storage_key,
		       mime_type, size_bytes, uploader_user_id, migrated_at, created_at, updated_at
		FROM folder_channel_files WHERE channel_id = $1 ORDER BY created_at DESC
	`, channelID)
	if err != nil {
		return nil, wrapErr("ListFolderFiles", err)
	}
	defer rows.Close()

	var out []models.FolderFile
	for rows.Next() {
		f, err := scanFolderFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, wrapErr("ListFolderFiles.rows", rows.Err())
}

func scanFolderFile(row rowScanner) (*models.FolderFile, error) {
	var f models.FolderFile
	if err := row.Scan(&f.ID, &f.ChannelID, &f.OriginalName, &f.StorageName, &f.StorageProvider, &f.StorageKey,
		&f.MimeType, &f.SizeBytes, &f.UploaderUserID, &f.MigratedAt, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, wrapErr("scanFolderFile", err)
	}
	return &f, nil
}

// GetFolderFile looks up one file by id.
func (s *Store) GetFolderFile(ctx context.Context, id models.ULID) (*models.FolderFile, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, channel_id, original_name, storage_name, storage_provider, storage_key,
		       mime_type, size_bytes, uploader_user_id, migrated_at, created_at, updated_at
		FROM folder_channel_files WHERE id = $1
	`, id)
	return scanFolderFile(row)
}

// CreateFolderFile inserts a new folder file row.
func (s *Store) CreateFolderFile(ctx context.Context, channelID models.ULID, originalName, storageName string, provider models.StorageType, storageKey, mimeType *string, sizeBytes int64, uploaderID models.ULID) (*models.FolderFile, error) {
	id := models.NewULID()
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO folder_channel_files
			(id, channel_id, original_name, storage_name, storage_provider, storage_key,
			 mime_type, size_bytes, uploader_user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
	`, id, channelID, originalName, storageName, provider, storageKey, mimeType, sizeBytes, uploaderID, now)
	if err != nil {
		return nil, wrapErr("CreateFolderFile", err)
	}
	return &models.FolderFile{
		ID: id, ChannelID: channelID, OriginalName: originalName, StorageName: storageName,
		StorageProvider: provider, StorageKey: storageKey, MimeType: mimeType, SizeBytes: sizeBytes,
		UploaderUserID: uploaderID, CreatedAt: now, UpdatedAt: now,
	}, nil
}

// DeleteFolderFile removes a file's row; the caller is responsible for
// deleting the underlying bytes first via internal/storage.
func (s *Store) DeleteFolderFile(ctx context.Context, id models.ULID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM folder_channel_files WHERE id = $1`, id)
	if err != nil {
		return wrapErr("DeleteFolderFile", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListFilesByProvider returns every folder file currently bound to the given
// storage provider, used to drive background migration.
func (s *Store) ListFilesByProvider(ctx context.Context, provider models.StorageType) ([]models.FolderFile, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, channel_id, original_name, storage_name, storage_provider, storage_key,
		       mime_type, size_bytes, uploader_user_id, migrated_at, created_at, updated_at
		FROM folder_channel_files WHERE storage_provider = $1
	`, provider)
	if err != nil {
		return nil, wrapErr("ListFilesByProvider", err)
	}
	defer rows.Close()

	var out []models.FolderFile
	for rows.Next() {
		f, err := scanFolderFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, wrapErr("ListFilesByProvider.rows", rows.Err())
}

// MigrateFileProvider flips a file's provider/key pair after a successful
// background upload and stamps migratedAt.
func (s *Store) MigrateFileProvider(ctx context.Context, id models.ULID, newProvider models.StorageType, newKey *string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE folder_channel_files
		SET storage_provider = $1, storage_key = $2, migrated_at = now(), updated_at = now()
		WHERE id = $3
	`, newProvider, newKey, id)
	return wrapErr("MigrateFileProvider", err)
}
