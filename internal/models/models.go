// Package models defines the hub's entity types:
// Server, User, Category, Channel, Message, ChannelReadState,
// ModerationAction, BanRule, FolderFile, and RssItem. The in-memory voice
// Room/Peer types live in internal/voice, not here. Types carry JSON tags
// for envelope serialization and match the schema in internal/database's
// migrations exactly.
package models

import (
	"time"
)

// Role is a user's privilege level: four user-facing roles (user, mod,
// admin, owner) plus the two synthetic identities, bot and system. There is no custom role hierarchy.
type Role string

const (
	RoleUser  Role = "user"
	RoleMod   Role = "mod"
	RoleAdmin Role = "admin"
	RoleOwner Role = "owner"
	RoleBot   Role = "bot"
	RoleSystem Role = "system"
)

// IsPrivileged reports whether the role may author messages in rss channels.
// Moderation commands are gated by IsModerator, which excludes bot and system.
func (r Role) IsPrivileged() bool {
	switch r {
	case RoleAdmin, RoleOwner, RoleMod, RoleBot, RoleSystem:
		return true
	default:
		return false
	}
}

// IsModerator reports whether the role may issue kick_member/ban_member.
func (r Role) IsModerator() bool {
	switch r {
	case RoleAdmin, RoleOwner, RoleMod:
		return true
	default:
		return false
	}
}

// StorageType selects the active object storage backend.
type StorageType string

const (
	StorageLocalDir     StorageType = "local_dir"
	StorageRemoteObject StorageType = "remote_object_store"
)

// ChannelType discriminates the four channel kinds.
type ChannelType string

const (
	ChannelText   ChannelType = "text"
	ChannelVoice  ChannelType = "voice"
	ChannelRSS    ChannelType = "rss"
	ChannelFolder ChannelType = "folder"
)

// ModerationActionType is kick or ban.
type ModerationActionType string

const (
	ActionKick ModerationActionType = "kick"
	ActionBan  ModerationActionType = "ban"
)

// DeleteMode controls message purging on kick/ban.
type DeleteMode string

const (
	DeleteNone  DeleteMode = "none"
	DeleteHours DeleteMode = "hours"
	DeleteAll   DeleteMode = "all"
)

// S3Config is the server's remote object store configuration, stored
// as a JSON column on the server row. SecretKey is never echoed back to
// clients; it carries json:"-" and is written/read only by the DAL.
type S3Config struct {
	Endpoint  string `json:"endpoint"`
	Bucket    string `json:"bucket"`
	Region    string `json:"region"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"-"`
	UseSSL    bool   `json:"use_ssl"`
	Prefix    string `json:"prefix,omitempty"`
}

// Server is the hub's singleton settings row.
type Server struct {
	ID                ULID        `json:"id"`
	Name              string      `json:"name"`
	Title             string      `json:"title"`
	RulesChannelID    *ULID       `json:"rulesChannelId,omitempty"`
	WelcomeChannelID  *ULID       `json:"welcomeChannelId,omitempty"`
	IconRef           *string     `json:"iconRef,omitempty"`
	StorageType       StorageType `json:"storageType"`
	S3Config          *S3Config   `json:"s3Config,omitempty"`
	StorageLastError  *string     `json:"storageLastError,omitempty"`
	StorageUpdatedAt  time.Time   `json:"storageUpdatedAt"`
}

// User is an authenticated identity bound to a stable ECDSA public key
//.
type User struct {
	ID        ULID      `json:"id"`
	Username  string    `json:"username"`
	PublicKey string    `json:"publicKey"`
	AvatarURL *string   `json:"avatarUrl,omitempty"`
	LastIP    *string   `json:"lastIp,omitempty"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

// Category groups channels in display order.
type Category struct {
	ID       ULID   `json:"id"`
	Name     string `json:"name"`
	Position int    `json:"position"`
}

// Channel is a text, voice, rss, or folder channel.
type Channel struct {
	ID         ULID        `json:"id"`
	CategoryID *ULID       `json:"categoryId,omitempty"`
	Name       string      `json:"name"`
	Type       ChannelType `json:"type"`
	Position   int         `json:"position"`
	FeedURL    *string     `json:"feedUrl,omitempty"`
}

// Embed is a derived, non-authoritative rendering hint attached to a
// message at send time (SPEC_FULL.md supplemental feature).
type Embed struct {
	Kind        string `json:"kind"` // "youtube" | "twitch" | "link"
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
	EmbedURL    string `json:"embedUrl,omitempty"`
	Host        string `json:"host,omitempty"`
	Path        string `json:"path,omitempty"`
}

// Message is an appended, (mostly) immutable chat message.
type Message struct {
	ID        ULID      `json:"id"`
	ChannelID ULID      `json:"channelId"`
	UserID    ULID      `json:"userId"`
	Content   string    `json:"content"`
	Embeds    []Embed   `json:"embeds,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// ChannelReadState is a user's read cursor for one channel.
type ChannelReadState struct {
	UserID            ULID       `json:"userId"`
	ChannelID         ULID       `json:"channelId"`
	LastReadMessageID *ULID      `json:"lastReadMessageId,omitempty"`
	LastReadCreatedAt *time.Time `json:"lastReadCreatedAt,omitempty"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// ModerationAction is a one-shot kick/ban record, possibly pending
// enforcement until the target's next successful auth.
type ModerationAction struct {
	ID                ULID                 `json:"id"`
	TargetUserID      ULID                 `json:"targetUserId"`
	ModeratorUserID   ULID                 `json:"moderatorUserId"`
	ActionType        ModerationActionType `json:"actionType"`
	Reason            *string              `json:"reason,omitempty"`
	DeleteMode        DeleteMode           `json:"deleteMode"`
	DeleteHours       *int                 `json:"deleteHours,omitempty"`
	BlacklistIdentity bool                 `json:"blacklistIdentity"`
	BlacklistIP       bool                 `json:"blacklistIp"`
	TargetIP          *string              `json:"targetIp,omitempty"`
	Enforced          bool                 `json:"enforced"`
	CreatedAt         time.Time            `json:"createdAt"`
	EnforcedAt        *time.Time           `json:"enforcedAt,omitempty"`
}

// BanRule is a persistent record gating future authentications.
type BanRule struct {
	ID                ULID      `json:"id"`
	TargetUserID      *ULID     `json:"targetUserId,omitempty"`
	TargetPublicKey   *string   `json:"targetPublicKey,omitempty"`
	TargetIP          *string   `json:"targetIp,omitempty"`
	BlacklistIdentity bool      `json:"blacklistIdentity"`
	BlacklistIP       bool      `json:"blacklistIp"`
	Reason            *string   `json:"reason,omitempty"`
	Active            bool      `json:"active"`
	CreatedAt         time.Time `json:"createdAt"`
	RevokedAt         *time.Time `json:"revokedAt,omitempty"`
}

// FolderFile is one uploaded file in a folder channel.
type FolderFile struct {
	ID              ULID       `json:"id"`
	ChannelID       ULID       `json:"channelId"`
	OriginalName    string     `json:"originalName"`
	StorageName     string     `json:"storageName"`
	StorageProvider StorageType `json:"storageProvider"`
	StorageKey      *string    `json:"storageKey,omitempty"`
	MimeType        *string    `json:"mimeType,omitempty"`
	SizeBytes       int64      `json:"sizeBytes"`
	UploaderUserID  ULID       `json:"uploaderUserId"`
	MigratedAt      *time.Time `json:"migratedAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// RssItem is a dedupe reservation for one parsed feed entry.
type RssItem struct {
	ChannelID         ULID      `json:"channelId"`
	ItemKey           string    `json:"itemKey"`
	ContentFingerprint *string  `json:"contentFingerprint,omitempty"`
	MessageID         *ULID     `json:"messageId,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}
