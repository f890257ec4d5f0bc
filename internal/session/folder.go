package session

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"

	"github.com/roguecord/hub/internal/connmgr"
	"github.com/roguecord/hub/internal/models"
	"github.com/roguecord/hub/internal/storage"
)

// maxUploadBytes bounds a single folder_upload_file frame.
const maxUploadBytes = 25 << 20

func (h *Handler) requireFolderChannel(ctx context.Context, s *connmgr.Session, channelIDStr string) (models.ULID, bool) {
	channelID, err := models.ParseULID(channelIDStr)
	if err != nil {
		h.sendError(ctx, s, "invalid channelId")
		return models.ULID{}, false
	}
	channel, err := h.store.GetChannel(ctx, channelID)
	if err != nil || channel.Type != models.ChannelFolder {
		h.sendError(ctx, s, "not a folder channel")
		return models.ULID{}, false
	}
	return channelID, true
}

func (h *Handler) handleFolderListFiles(ctx context.Context, s *connmgr.Session, raw json.RawMessage) {
	var req channelIDPayload
	if err := json.Unmarshal(raw, &req); err != nil {
		h.logDecodeError("folder_list_files", err)
		h.sendError(ctx, s, "malformed folder_list_files")
		return
	}
	channelID, ok := h.requireFolderChannel(ctx, s, req.ChannelID)
	if !ok {
		return
	}

	files, err := h.store.ListFolderFiles(ctx, channelID)
	if err != nil {
		h.logger.Error("session: listing folder files", "error", err.Error())
		h.sendError(ctx, s, "internal error")
		return
	}
	h.send(ctx, s, "folder_files_list", files)
}

type folderUploadFilePayload struct {
	ChannelID  string  `json:"channelId"`
	FileName   string  `json:"fileName"`
	MimeType   *string `json:"mimeType,omitempty"`
	DataBase64 string  `json:"dataBase64"`
}

func (h *Handler) handleFolderUploadFile(ctx context.Context, s *connmgr.Session, raw json.RawMessage) {
	userID := s.UserID()
	if userID == nil {
		h.sendError(ctx, s, "authentication required")
		return
	}
	var req folderUploadFilePayload
	if err := json.Unmarshal(raw, &req); err != nil {
		h.logDecodeError("folder_upload_file", err)
		h.sendError(ctx, s, "malformed folder_upload_file")
		return
	}
	channelID, ok := h.requireFolderChannel(ctx, s, req.ChannelID)
	if !ok {
		return
	}

	data, err := base64.StdEncoding.DecodeString(req.DataBase64)
	if err != nil {
		h.sendError(ctx, s, "invalid base64 file data")
		return
	}
	if len(data) > maxUploadBytes {
		h.sendError(ctx, s, "file exceeds the 25 MiB upload limit")
		return
	}

	storageName, err := storage.SanitizeFilename(req.FileName)
	if err != nil {
		h.sendError(ctx, s, err.Error())
		return
	}

	mime := ""
	if req.MimeType != nil {
		mime = *req.MimeType
	}
	key := storage.KeyForFolderFile(h.cfg.StoragePrefix, channelID, storageName)
	if err := h.storage.Put(ctx, key, bytes.NewReader(data), int64(len(data)), mime); err != nil {
		h.logger.Error("session: uploading folder file", "error", err.Error())
		h.sendError(ctx, s, "upload failed")
		return
	}

	provider, _ := h.storage.Current()
	var storageKey *string
	if provider == models.StorageRemoteObject {
		storageKey = &key
	}

	file, err := h.store.CreateFolderFile(ctx, channelID, req.FileName, storageName, provider, storageKey, req.MimeType, int64(len(data)), *userID)
	if err != nil {
		h.logger.Error("session: recording folder file", "error", err.Error())
		h.sendError(ctx, s, "internal error")
		return
	}

	h.send(ctx, s, "folder_upload_success", file)
	h.conns.BroadcastToAuthenticated(ctx, "folder_file_uploaded", file)
}

type folderFileIDPayload struct {
	ChannelID string `json:"channelId"`
	FileID    string `json:"fileId"`
}

type folderFileDownloadPayload struct {
	FileID     string `json:"fileId"`
	FileName   string `json:"fileName"`
	MimeType   string `json:"mimeType,omitempty"`
	DataBase64 string `json:"dataBase64"`
}

func (h *Handler) handleFolderDownloadFile(ctx context.Context, s *connmgr.Session, raw json.RawMessage) {
	var req folderFileIDPayload
	if err := json.Unmarshal(raw, &req); err != nil {
		h.logDecodeError("folder_download_file", err)
		h.sendError(ctx, s, "malformed folder_download_file")
		return
	}
	if _, ok := h.requireFolderChannel(ctx, s, req.ChannelID); !ok {
		return
	}
	fileID, err := models.ParseULID(req.FileID)
	if err != nil {
		h.sendError(ctx, s, "invalid fileId")
		return
	}

	file, err := h.store.GetFolderFile(ctx, fileID)
	if err != nil {
		h.sendError(ctx, s, "file not found")
		return
	}

	key := storage.KeyForFolderFile(h.cfg.StoragePrefix, file.ChannelID, file.StorageName)
	rc, err := h.storage.Get(ctx, key)
	if err != nil {
		h.logger.Error("session: reading folder file", "error", err.Error())
		h.sendError(ctx, s, "download failed")
		return
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		h.logger.Error("session: reading folder file bytes", "error", err.Error())
		h.sendError(ctx, s, "download failed")
		return
	}

	mime := ""
	if file.MimeType != nil {
		mime = *file.MimeType
	}
	h.send(ctx, s, "folder_file_download", folderFileDownloadPayload{
		FileID: fileID.String(), FileName: file.OriginalName, MimeType: mime,
		DataBase64: base64.StdEncoding.EncodeToString(data),
	})
}

func (h *Handler) handleFolderDeleteFile(ctx context.Context, s *connmgr.Session, raw json.RawMessage) {
	if _, ok := h.requireAdmin(ctx, s); !ok {
		return
	}
	var req folderFileIDPayload
	if err := json.Unmarshal(raw, &req); err != nil {
		h.logDecodeError("folder_delete_file", err)
		h.sendError(ctx, s, "malformed folder_delete_file")
		return
	}
	if _, ok := h.requireFolderChannel(ctx, s, req.ChannelID); !ok {
		return
	}
	fileID, err := models.ParseULID(req.FileID)
	if err != nil {
		h.sendError(ctx, s, "invalid fileId")
		return
	}

	file, err := h.store.GetFolderFile(ctx, fileID)
	if err != nil {
		h.sendError(ctx, s, "file not found")
		return
	}

	key := storage.KeyForFolderFile(h.cfg.StoragePrefix, file.ChannelID, file.StorageName)
	if err := h.storage.Delete(ctx, key); err != nil {
		h.logger.Error("session: deleting folder file bytes", "error", err.Error())
	}
	if err := h.store.DeleteFolderFile(ctx, fileID); err != nil {
		h.logger.Error("session: deleting folder file row", "error", err.Error())
		h.sendError(ctx, s, "internal error")
		return
	}

	h.send(ctx, s, "folder_delete_success", folderFileIDPayload{ChannelID: req.ChannelID, FileID: fileID.String()})
	h.conns.BroadcastToAuthenticated(ctx, "folder_file_deleted", folderFileIDPayload{ChannelID: req.ChannelID, FileID: fileID.String()})
}

// deleteFolderBytes removes every file's underlying bytes for a folder
// channel being deleted outright. Row deletion happens separately via the
// migration's ON DELETE CASCADE.
func (h *Handler) deleteFolderBytes(ctx context.Context, channelID models.ULID) {
	files, err := h.store.ListFolderFiles(ctx, channelID)
	if err != nil {
		h.logger.Error("session: listing folder files for channel deletion", "error", err.Error())
		return
	}
	for _, f := range files {
		key := storage.KeyForFolderFile(h.cfg.StoragePrefix, channelID, f.StorageName)
		if err := h.storage.Delete(ctx, key); err != nil {
			h.logger.Error("session: deleting folder file bytes during channel deletion",
				"error", err.Error(), "file_id", f.ID.String())
		}
	}
}
