package session

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roguecord/hub/internal/connmgr"
	"github.com/roguecord/hub/internal/models"
	"github.com/roguecord/hub/internal/storage"
)

func (h *Handler) handleGetServer(ctx context.Context, s *connmgr.Session) {
	if s.UserID() == nil {
		h.sendError(ctx, s, "authentication required")
		return
	}
	server, err := h.store.GetServer(ctx)
	if err != nil {
		h.logger.Error("session: loading server", "error", err.Error())
		h.sendError(ctx, s, "internal error")
		return
	}
	h.send(ctx, s, "server", server)
}

type storageSettingsPayload struct {
	Type     string          `json:"type"`
	S3Config *models.S3Config `json:"s3Config,omitempty"`
}

type updateServerSettingsPayload struct {
	Title             *string                 `json:"title,omitempty"`
	RulesChannelID    *string                 `json:"rulesChannelId,omitempty"`
	WelcomeChannelID  *string                 `json:"welcomeChannelId,omitempty"`
	IconDataURL       *string                 `json:"iconDataUrl,omitempty"`
	RemoveIcon        bool                    `json:"removeIcon,omitempty"`
	Storage           *storageSettingsPayload `json:"storage,omitempty"`
}

type storageTestResultPayload struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

// handleUpdateServerSettings implements update_server_settings: title and
// channel-pointer edits, icon upload/removal, and an optional storage
// provider switch validated before it is committed.
func (h *Handler) handleUpdateServerSettings(ctx context.Context, s *connmgr.Session, raw json.RawMessage) {
	if _, ok := h.requireAdmin(ctx, s); !ok {
		return
	}
	var req updateServerSettingsPayload
	if err := json.Unmarshal(raw, &req); err != nil {
		h.logDecodeError("update_server_settings", err)
		h.sendError(ctx, s, "malformed update_server_settings")
		return
	}

	server, err := h.store.GetServer(ctx)
	if err != nil {
		h.logger.Error("session: loading server for settings update", "error", err.Error())
		h.sendError(ctx, s, "internal error")
		return
	}

	title := server.Title
	if req.Title != nil {
		title = *req.Title
	}
	rulesChannelID := server.RulesChannelID
	if req.RulesChannelID != nil {
		id, err := models.ParseULID(*req.RulesChannelID)
		if err != nil {
			h.sendError(ctx, s, "invalid rulesChannelId")
			return
		}
		rulesChannelID = &id
	}
	welcomeChannelID := server.WelcomeChannelID
	if req.WelcomeChannelID != nil {
		id, err := models.ParseULID(*req.WelcomeChannelID)
		if err != nil {
			h.sendError(ctx, s, "invalid welcomeChannelId")
			return
		}
		welcomeChannelID = &id
	}

	iconRef := server.IconRef
	if req.RemoveIcon {
		if server.IconRef != nil {
			h.deleteIconBytes(ctx, server.ID.String(), *server.IconRef)
		}
		iconRef = nil
	} else if req.IconDataURL != nil {
		ref, err := h.storeIconDataURL(ctx, server.ID.String(), *req.IconDataURL)
		if err != nil {
			h.sendError(ctx, s, err.Error())
			return
		}
		if server.IconRef != nil {
			h.deleteIconBytes(ctx, server.ID.String(), *server.IconRef)
		}
		iconRef = &ref
	}

	if err := h.store.UpdateSettings(ctx, title, rulesChannelID, welcomeChannelID, iconRef); err != nil {
		h.logger.Error("session: updating server settings", "error", err.Error())
		h.sendError(ctx, s, "internal error")
		return
	}

	if req.Storage != nil {
		h.applyStorageSettings(ctx, s, server.ID.String(), *req.Storage)
	}

	updated, err := h.store.GetServer(ctx)
	if err != nil {
		h.logger.Error("session: reloading server after settings update", "error", err.Error())
		h.sendError(ctx, s, "internal error")
		return
	}
	h.conns.BroadcastToAuthenticated(ctx, "server_settings_updated", updated)
}

// storeIconDataURL decodes a "data:<mime>;base64,<data>" URL, validates the
// extension, and uploads it under the server's icon key, returning the
// storage name to persist as iconRef.
func (h *Handler) storeIconDataURL(ctx context.Context, serverID, dataURL string) (string, error) {
	if err := storage.ValidateServerID(serverID); err != nil {
		return "", err
	}
	mime, data, err := parseDataURL(dataURL)
	if err != nil {
		return "", err
	}
	ext, err := storage.NormalizeIconExt(strings.TrimPrefix(mime, "image/"))
	if err != nil {
		return "", err
	}
	storageName := fmt.Sprintf("icon.%s", ext)
	key := storage.KeyForServerIcon(h.cfg.StoragePrefix, serverID, storageName)
	if err := h.storage.Put(ctx, key, bytes.NewReader(data), int64(len(data)), mime); err != nil {
		return "", fmt.Errorf("uploading icon: %w", err)
	}
	return storageName, nil
}

func (h *Handler) deleteIconBytes(ctx context.Context, serverID, storageName string) {
	key := storage.KeyForServerIcon(h.cfg.StoragePrefix, serverID, storageName)
	if err := h.storage.Delete(ctx, key); err != nil {
		h.logger.Error("session: deleting old server icon", "error", err.Error())
	}
}

// parseDataURL extracts the mime type and raw bytes from a
// "data:<mime>;base64,<payload>" string.
func parseDataURL(dataURL string) (mime string, data []byte, err error) {
	const prefix = "data:"
	if !strings.HasPrefix(dataURL, prefix) {
		return "", nil, fmt.Errorf("iconDataUrl must be a data: URL")
	}
	rest := dataURL[len(prefix):]
	comma := strings.IndexByte(rest, ',')
	if comma < 0 {
		return "", nil, fmt.Errorf("malformed data URL")
	}
	meta, payload := rest[:comma], rest[comma+1:]
	if !strings.HasSuffix(meta, ";base64") {
		return "", nil, fmt.Errorf("iconDataUrl must be base64-encoded")
	}
	mime = strings.TrimSuffix(meta, ";base64")
	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decoding icon data: %w", err)
	}
	return mime, data, nil
}

// applyStorageSettings validates and swaps the active storage provider,
// reporting the outcome back to the caller and kicking off a background
// migration of existing folder files to the newly active provider.
func (h *Handler) applyStorageSettings(ctx context.Context, s *connmgr.Session, serverID string, req storageSettingsPayload) {
	oldType, oldProvider := h.storage.Current()

	switch models.StorageType(req.Type) {
	case models.StorageLocalDir:
		local, err := storage.NewLocalProvider(h.cfg.DataDir)
		if err != nil {
			h.recordStorageFailure(ctx, s, err)
			return
		}
		h.storage.Swap(models.StorageLocalDir, local)
		if err := h.store.SetStorageConfig(ctx, models.StorageLocalDir, nil); err != nil {
			h.logger.Error("session: persisting local storage config", "error", err.Error())
		}
		h.send(ctx, s, "server_storage_test_result", storageTestResultPayload{Success: true})
		h.migrateStorageInBackground(oldType, oldProvider, models.StorageLocalDir, local)

	case models.StorageRemoteObject:
		if req.S3Config == nil {
			h.sendError(ctx, s, "s3Config is required for remote_object_store")
			return
		}
		remote, err := storage.Validate(ctx, *req.S3Config)
		if err != nil {
			h.recordStorageFailure(ctx, s, err)
			return
		}
		sanitized, _ := storage.SanitizeConfig(*req.S3Config)
		h.storage.Swap(models.StorageRemoteObject, remote)
		if err := h.store.SetStorageConfig(ctx, models.StorageRemoteObject, &sanitized); err != nil {
			h.logger.Error("session: persisting remote storage config", "error", err.Error())
		}
		h.send(ctx, s, "server_storage_test_result", storageTestResultPayload{Success: true})
		h.migrateStorageInBackground(oldType, oldProvider, models.StorageRemoteObject, remote)

	default:
		h.sendError(ctx, s, "unknown storage type")
	}
}

func (h *Handler) recordStorageFailure(ctx context.Context, s *connmgr.Session, err error) {
	h.logger.Warn("session: storage validation failed", "error", err.Error())
	if setErr := h.store.SetStorageError(ctx, err.Error()); setErr != nil {
		h.logger.Error("session: recording storage error", "error", setErr.Error())
	}
	h.send(ctx, s, "server_storage_test_result", storageTestResultPayload{Success: false, Reason: err.Error()})
}

func (h *Handler) migrateStorageInBackground(fromType models.StorageType, from storage.Provider, toType models.StorageType, to storage.Provider) {
	if fromType == toType {
		return
	}
	migrator := storage.NewMigrator(h.store, h.logger)
	go migrator.MigrateAll(context.Background(), fromType, from, toType, to, h.cfg.StoragePrefix, func(reason string) {
		h.logger.Warn("session: storage migration reported an error", "reason", reason)
	})
}
