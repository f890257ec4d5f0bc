package storage

import (
	"strings"
	"testing"

	"github.com/roguecord/hub/internal/models"
)

func TestNormalizeIconExt(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"png", "png", false},
		{".PNG", "png", false},
		{"jpg", "jpg", false},
		{"jpeg", "jpg", false},
		{"JPEG", "jpg", false},
		{"webp", "webp", false},
		{"gif", "gif", false},
		{"bmp", "", true},
		{"", "", true},
	}
	for _, c := range cases {
		got, err := NormalizeIconExt(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("NormalizeIconExt(%q): expected error", c.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("NormalizeIconExt(%q): unexpected error: %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("NormalizeIconExt(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"photo.png", "photo.png", false},
		{"../../etc/passwd", ".._.._etc_passwd", false},
		{"a\x00b.png", "ab.png", false},
		{"malware.exe", "", true},
		{"script.SH", "", true},
		{"   ", "", true},
	}
	for _, c := range cases {
		got, err := SanitizeFilename(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("SanitizeFilename(%q): expected error, got %q", c.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("SanitizeFilename(%q): unexpected error: %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestValidateServerID(t *testing.T) {
	if err := ValidateServerID("abc-123"); err != nil {
		t.Errorf("expected valid id to pass: %v", err)
	}
	if err := ValidateServerID("../escape"); err == nil {
		t.Error("expected path-traversal id to fail")
	}
	if err := ValidateServerID("has space"); err == nil {
		t.Error("expected id with space to fail")
	}
}

func TestKeyForFolderFile(t *testing.T) {
	channelID := models.NewULID()
	got := KeyForFolderFile("uploads", channelID, "photo.png")
	want := "uploads/channels/" + channelID.String() + "/photo.png"
	if got != want {
		t.Errorf("KeyForFolderFile = %q, want %q", got, want)
	}

	gotNoPrefix := KeyForFolderFile("", channelID, "photo.png")
	if strings.HasPrefix(gotNoPrefix, "/") {
		t.Errorf("empty prefix should not leave a leading slash: %q", gotNoPrefix)
	}
}

func TestKeyForServerIcon(t *testing.T) {
	got := KeyForServerIcon("", "srv1", "icon.png")
	want := "channels/server-icons/srv1/icon.png"
	if got != want {
		t.Errorf("KeyForServerIcon = %q, want %q", got, want)
	}
}

func TestSanitizeConfig(t *testing.T) {
	_, err := SanitizeConfig(models.S3Config{})
	if err == nil {
		t.Error("expected error on empty config")
	}

	cfg, err := SanitizeConfig(models.S3Config{
		Endpoint: "mybucket.fsn1.your-objectstorage.com", Bucket: "", Region: "",
		AccessKey: "ak", SecretKey: "sk", Prefix: "/uploads/",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bucket != "mybucket" {
		t.Errorf("bucket = %q, want parsed %q", cfg.Bucket, "mybucket")
	}
	if cfg.Region != "fsn1" {
		t.Errorf("region = %q, want parsed %q", cfg.Region, "fsn1")
	}
	if cfg.Prefix != "uploads" {
		t.Errorf("prefix = %q, want trimmed %q", cfg.Prefix, "uploads")
	}
}

func TestHetznerEndpointRegex(t *testing.T) {
	if !hetznerEndpoint.MatchString("mybucket.fsn1.your-objectstorage.com") {
		t.Error("expected hetzner endpoint to match")
	}
	if hetznerEndpoint.MatchString("s3.amazonaws.com") {
		t.Error("expected non-hetzner endpoint to not match")
	}
}
