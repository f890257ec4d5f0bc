package storage

import (
	"bytes"
	"context"
	"io"
	"testing"
)

func TestLocalProvider_PutGetDelete(t *testing.T) {
	dir := t.TempDir()
	p, err := NewLocalProvider(dir)
	if err != nil {
		t.Fatalf("NewLocalProvider: %v", err)
	}
	ctx := context.Background()

	content := []byte("hello world")
	if err := p.Put(ctx, "channels/abc/photo.png", bytes.NewReader(content), int64(len(content)), "image/png"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	rc, err := p.Get(ctx, "channels/abc/photo.png")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("reading: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("got %q, want %q", got, content)
	}

	if err := p.Delete(ctx, "channels/abc/photo.png"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := p.Get(ctx, "channels/abc/photo.png"); err == nil {
		t.Error("expected error reading deleted file")
	}
}

func TestLocalProvider_RejectsEscape(t *testing.T) {
	dir := t.TempDir()
	p, err := NewLocalProvider(dir)
	if err != nil {
		t.Fatalf("NewLocalProvider: %v", err)
	}
	ctx := context.Background()

	if err := p.Put(ctx, "../../etc/passwd", bytes.NewReader([]byte("x")), 1, "text/plain"); err == nil {
		t.Error("expected path-traversal key to be rejected")
	}
}

func TestLocalProvider_List(t *testing.T) {
	dir := t.TempDir()
	p, err := NewLocalProvider(dir)
	if err != nil {
		t.Fatalf("NewLocalProvider: %v", err)
	}
	ctx := context.Background()

	for _, key := range []string{"channels/a/1.png", "channels/a/2.png", "channels/b/3.png"} {
		if err := p.Put(ctx, key, bytes.NewReader([]byte("x")), 1, "text/plain"); err != nil {
			t.Fatalf("Put(%q): %v", key, err)
		}
	}

	keys, err := p.List(ctx, "channels/a")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("List(channels/a) returned %d keys, want 2: %v", len(keys), keys)
	}
}

func TestLocalProvider_Head(t *testing.T) {
	dir := t.TempDir()
	p, err := NewLocalProvider(dir)
	if err != nil {
		t.Fatalf("NewLocalProvider: %v", err)
	}
	if err := p.Head(context.Background()); err != nil {
		t.Errorf("Head: %v", err)
	}
}
