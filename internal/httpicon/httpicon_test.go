package httpicon

import (
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestMimeForStorageName(t *testing.T) {
	cases := map[string]string{
		"icon.png":  "image/png",
		"icon.jpg":  "image/jpeg",
		"icon.webp": "image/webp",
		"icon.gif":  "image/gif",
		"icon.bmp":  "application/octet-stream",
		"noext":     "application/octet-stream",
	}
	for name, want := range cases {
		if got := mimeForStorageName(name); got != want {
			t.Errorf("mimeForStorageName(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestServeLocal_RejectsUnsafeServerID(t *testing.T) {
	h := New(nil, nil, "", slog.Default())
	r := chi.NewRouter()
	h.Routes(r)

	req := httptest.NewRequest("GET", "/server-icons/bad@id/safe.png", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != 404 {
		t.Errorf("expected 404 for an unsafe server id, got %d", rec.Code)
	}
}
