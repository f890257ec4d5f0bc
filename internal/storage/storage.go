// Package storage implements a pluggable object storage backend: local_dir
// or remote_object_store via an S3-compatible client, selected by the
// server row's storageType, with key derivation for folder files and
// server icons and background migration when the provider is switched.
package storage

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"

	"github.com/roguecord/hub/internal/models"
)

// Provider is the storage interface every backend implements. Keys are already-derived, prefix-qualified paths; callers
// use KeyForFolderFile/KeyForServerIcon to build them.
type Provider interface {
	Put(ctx context.Context, key string, data io.Reader, size int64, mime string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
	Head(ctx context.Context) error
}

// safeIDPattern gates any user-visible id reaching the filesystem.
var safeIDPattern = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

// rejectedExtensions blocks upload of executable-like files.
var rejectedExtensions = map[string]bool{
	".exe": true, ".dll": true, ".so": true, ".dylib": true,
	".sh": true, ".bat": true, ".cmd": true, ".com": true,
	".msi": true, ".scr": true, ".ps1": true, ".jar": true,
}

// iconExtensions is the allowed set of server icon extensions, with jpeg
// normalized to jpg.
var iconExtensions = map[string]string{
	"png": "png", "jpg": "jpg", "jpeg": "jpg", "webp": "webp", "gif": "gif",
}

// NormalizeIconExt validates and normalizes a user-supplied icon extension.
func NormalizeIconExt(ext string) (string, error) {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	norm, ok := iconExtensions[ext]
	if !ok {
		return "", fmt.Errorf("storage: unsupported icon extension %q", ext)
	}
	return norm, nil
}

// SanitizeFilename replaces path separators with underscores, strips control
// characters from a user-supplied filename, and rejects executable-like
// extensions.
func SanitizeFilename(name string) (string, error) {
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	var b strings.Builder
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	clean := strings.TrimSpace(b.String())
	if clean == "" {
		return "", fmt.Errorf("storage: empty filename after sanitization")
	}
	lower := strings.ToLower(clean)
	for ext := range rejectedExtensions {
		if strings.HasSuffix(lower, ext) {
			return "", fmt.Errorf("storage: rejected executable-like extension on %q", name)
		}
	}
	return clean, nil
}

// ValidateServerID checks a server id against the safe-id regex before it
// is embedded in a filesystem path.
func ValidateServerID(id string) error {
	if !safeIDPattern.MatchString(id) {
		return fmt.Errorf("storage: invalid server id %q", id)
	}
	return nil
}

// KeyForFolderFile derives the storage key for a folder channel upload:
// "<prefix?>/channels/<channelId>/<storageName>".
func KeyForFolderFile(prefix string, channelID models.ULID, storageName string) string {
	return joinKey(prefix, "channels", channelID.String(), storageName)
}

// KeyForServerIcon derives the storage key for a server icon:
// "<prefix?>/channels/server-icons/<serverId>/<storageName>".
func KeyForServerIcon(prefix, serverID, storageName string) string {
	return joinKey(prefix, "channels", "server-icons", serverID, storageName)
}

func joinKey(parts ...string) string {
	var nonEmpty []string
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, "/")
}

// Manager owns the currently active Provider and supports swapping it out
// atomically when the server's storageType changes. Reads take the current provider under a read lock so an
// in-flight migration never blocks ordinary traffic.
type Manager struct {
	mu       sync.RWMutex
	active   Provider
	provType models.StorageType
}

// NewManager wraps an initial provider.
func NewManager(provType models.StorageType, p Provider) *Manager {
	return &Manager{active: p, provType: provType}
}

// Current returns the active provider and its type.
func (m *Manager) Current() (models.StorageType, Provider) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.provType, m.active
}

// Swap installs a new active provider, used after validation succeeds
//.
func (m *Manager) Swap(provType models.StorageType, p Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.provType = provType
	m.active = p
}

// Put, Get, Delete, List, and Head route through the currently active
// provider so callers never need to know which backend is live.
func (m *Manager) Put(ctx context.Context, key string, data io.Reader, size int64, mime string) error {
	_, p := m.Current()
	return p.Put(ctx, key, data, size, mime)
}

func (m *Manager) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	_, p := m.Current()
	return p.Get(ctx, key)
}

func (m *Manager) Delete(ctx context.Context, key string) error {
	_, p := m.Current()
	return p.Delete(ctx, key)
}

func (m *Manager) List(ctx context.Context, prefix string) ([]string, error) {
	_, p := m.Current()
	return p.List(ctx, prefix)
}

func (m *Manager) Head(ctx context.Context) error {
	_, p := m.Current()
	return p.Head(ctx)
}
