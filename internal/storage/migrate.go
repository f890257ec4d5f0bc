package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roguecord/hub/internal/dal"
	"github.com/roguecord/hub/internal/models"
)

// Migrator drives the background copy of every existing folder file from
// an old provider to a new one: each file is read, uploaded under its
// computed key, and its row flipped, all without interrupting serving.
type Migrator struct {
	store  *dal.Store
	logger *slog.Logger
}

func NewMigrator(store *dal.Store, logger *slog.Logger) *Migrator {
	return &Migrator{store: store, logger: logger}
}

// MigrateAll copies every file currently on from (source provider, looked
// up by its models.StorageType) onto to (destination provider), updating
// each row on success. Failures are logged and recorded via onError but do
// not abort the remaining files.
func (m *Migrator) MigrateAll(ctx context.Context, fromType models.StorageType, from Provider, toType models.StorageType, to Provider, prefix string, onError func(reason string)) {
	files, err := m.store.ListFilesByProvider(ctx, fromType)
	if err != nil {
		onError(fmt.Sprintf("listing files for provider %s: %v", fromType, err))
		return
	}

	for _, f := range files {
		if err := m.migrateOne(ctx, f, from, to, toType, prefix); err != nil {
			m.logger.Warn("storage migration failed for file",
				slog.String("file_id", f.ID.String()),
				slog.String("error", err.Error()))
			onError(fmt.Sprintf("migrating file %s: %v", f.ID, err))
			continue
		}
	}
}

func (m *Migrator) migrateOne(ctx context.Context, f models.FolderFile, from, to Provider, toType models.StorageType, prefix string) error {
	oldKey := KeyForFolderFile(prefix, f.ChannelID, f.StorageName)

	rc, err := from.Get(ctx, oldKey)
	if err != nil {
		return fmt.Errorf("reading source bytes: %w", err)
	}
	defer rc.Close()

	newKey := KeyForFolderFile(prefix, f.ChannelID, f.StorageName)
	mime := ""
	if f.MimeType != nil {
		mime = *f.MimeType
	}
	if err := to.Put(ctx, newKey, rc, f.SizeBytes, mime); err != nil {
		return fmt.Errorf("uploading to destination: %w", err)
	}

	if err := m.store.MigrateFileProvider(ctx, f.ID, toType, &newKey); err != nil {
		return fmt.Errorf("updating row: %w", err)
	}

	if err := from.Delete(ctx, oldKey); err != nil {
		m.logger.Warn("migrated file but failed to delete source copy",
			slog.String("file_id", f.ID.String()), slog.String("error", err.Error()))
	}

	return nil
}
