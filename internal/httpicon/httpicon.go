// Package httpicon serves the server's icon over plain HTTP, outside the
// websocket protocol, so it can be used directly in an <img> tag. It never
// accepts a caller-supplied storage key: every request is checked against
// the server row's current iconRef before any byte leaves the backend.
package httpicon

import (
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/roguecord/hub/internal/dal"
	"github.com/roguecord/hub/internal/middleware"
	"github.com/roguecord/hub/internal/storage"
)

// contentTypes maps the normalized icon extensions internal/storage accepts
// to their MIME type.
var contentTypes = map[string]string{
	"png": "image/png", "jpg": "image/jpeg", "webp": "image/webp", "gif": "image/gif",
}

// cacheControl is applied to every successful icon response; icons change
// rarely, so a short public cache saves a GetServer round trip per page
// load. Icons are not content-addressed: the storage name is icon.<ext>, so
// a replacement with the same extension can be served stale until the
// cache entry expires.
const cacheControl = "public, max-age=300"

// Handler wires the icon routes to the shared storage Manager and server
// row, independent of the websocket session handler.
type Handler struct {
	store         *dal.Store
	storageMgr    *storage.Manager
	storagePrefix string
	logger        *slog.Logger
}

// New builds the icon HTTP handler.
func New(store *dal.Store, storageMgr *storage.Manager, storagePrefix string, logger *slog.Logger) *Handler {
	return &Handler{store: store, storageMgr: storageMgr, storagePrefix: storagePrefix, logger: logger}
}

// Routes mounts the icon endpoints onto r: a local-style path keyed by
// server id and storage name, and a remote-style path keyed by the raw,
// URL-encoded storage key, mirroring how KeyForServerIcon derives each.
func (h *Handler) Routes(r chi.Router) {
	r.Use(middleware.CorrelationID)
	r.Use(middleware.RequestLogging(h.logger))
	r.Use(middleware.SecurityHeaders)

	r.Get("/server-icons/{serverId}/{storageName}", h.serveLocal)
	r.Get("/server-icons/s3/{encodedKey}", h.serveRemote)
}

func (h *Handler) serveLocal(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "serverId")
	storageName := chi.URLParam(r, "storageName")

	if err := storage.ValidateServerID(serverID); err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	server, err := h.store.GetServer(r.Context())
	if err != nil || server.ID.String() != serverID || server.IconRef == nil || *server.IconRef != storageName {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	key := storage.KeyForServerIcon(h.storagePrefix, serverID, storageName)
	h.stream(w, r, key, storageName)
}

func (h *Handler) serveRemote(w http.ResponseWriter, r *http.Request) {
	encodedKey := chi.URLParam(r, "encodedKey")
	key, err := url.QueryUnescape(encodedKey)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	server, err := h.store.GetServer(r.Context())
	if err != nil || server.IconRef == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	expectedKey := storage.KeyForServerIcon(h.storagePrefix, server.ID.String(), *server.IconRef)
	if key != expectedKey {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	h.stream(w, r, key, *server.IconRef)
}

// mimeForStorageName maps a stored icon's extension to its Content-Type,
// falling back to application/octet-stream for anything unrecognized.
func mimeForStorageName(storageName string) string {
	dot := strings.LastIndex(storageName, ".")
	if dot < 0 {
		return "application/octet-stream"
	}
	if mime, ok := contentTypes[storageName[dot+1:]]; ok {
		return mime
	}
	return "application/octet-stream"
}

func (h *Handler) stream(w http.ResponseWriter, r *http.Request, key, storageName string) {
	rc, err := h.storageMgr.Get(r.Context(), key)
	if err != nil {
		h.logger.Warn("httpicon: fetching icon bytes", slog.String("key", key), slog.String("error", err.Error()))
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", mimeForStorageName(storageName))
	w.Header().Set("Cache-Control", cacheControl)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("httpicon: streaming icon bytes", slog.String("error", err.Error()))
	}
}
