package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	pkgerrors "github.com/malascope/malascope-backend/internal/pkg/errors"
	"github.com/malascope/malascope-backend/internal/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}
	return log
}

func TestLocalStoreRoundTrip(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), testLogger(t))
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	ctx := context.Background()

	payload := []byte("not really a png")
	if err := store.Save(ctx, "patches/abc/0.png", bytes.NewReader(payload)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	r, err := store.Open(ctx, "patches/abc/0.png")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got, err := io.ReadAll(r)
	r.Close()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch: %q", got)
	}

	if err := store.Delete(ctx, "patches/abc/0.png"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Open(ctx, "patches/abc/0.png"); !errors.Is(err, pkgerrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}

	// Deleting a missing object is not an error.
	if err := store.Delete(ctx, "patches/abc/0.png"); err != nil {
		t.Fatalf("Delete missing: %v", err)
	}
}

func TestLocalStoreRejectsEscapingKeys(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), testLogger(t))
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	ctx := context.Background()

	for _, key := range []string{"../outside.png", "/etc/passwd", "a/../../b"} {
		if err := store.Save(ctx, key, bytes.NewReader(nil)); err == nil {
			t.Fatalf("expected error for key %q", key)
		}
	}
}

func TestContentTypeForKey(t *testing.T) {
	cases := map[string]string{
		"patches/0.png":  "image/png",
		"images/a.JPG":   "image/jpeg",
		"images/a.tiff":  "image/tiff",
		"overlays/x.unk": "",
	}
	for key, want := range cases {
		if got := contentTypeForKey(key); got != want {
			t.Fatalf("contentTypeForKey(%q) = %q, want %q", key, got, want)
		}
	}
}
