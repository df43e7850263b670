package storage

import (
	"context"
	"io"
	"strings"
	"testing"
)

func TestFileStorePutOpenDelete(t *testing.T) {
	fs, err := NewFileStore(t.TempDir(), "http://localhost:8080/files")
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	ctx := context.Background()
	key := TaskImageKey("task-1", "../../etc/photo.png")
	if key != "tasks/task-1/photo.png" {
		t.Fatalf("unexpected key %q", key)
	}

	if err := fs.Put(ctx, key, strings.NewReader("png-bytes"), 9, ContentTypeFor(key)); err != nil {
		t.Fatalf("put: %v", err)
	}
	f, err := fs.Open(key)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	data, _ := io.ReadAll(f)
	_ = f.Close()
	if string(data) != "png-bytes" {
		t.Fatalf("unexpected content %q", data)
	}
	if got := fs.URL(key); got != "http://localhost:8080/files/tasks/task-1/photo.png" {
		t.Fatalf("unexpected url %q", got)
	}

	if err := fs.Delete(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := fs.Delete(ctx, key); err != nil {
		t.Fatalf("second delete should be a no-op: %v", err)
	}
}

func TestFileStoreRejectsEscapingKeys(t *testing.T) {
	fs, err := NewFileStore(t.TempDir(), "")
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	if err := fs.Put(context.Background(), "../outside", strings.NewReader("x"), 1, ""); err == nil {
		t.Fatalf("expected escaping key to be rejected")
	}
}

func TestKeysAndContentTypes(t *testing.T) {
	if got := AvatarKey("u1", ""); got != "avatars/u1/avatar" {
		t.Fatalf("unexpected avatar key %q", got)
	}
	if got := ContentTypeFor("a.PNG"); got != "image/png" {
		t.Fatalf("unexpected content type %q", got)
	}
	if got := ContentTypeFor("a.unknownext"); got != "application/octet-stream" {
		t.Fatalf("unexpected fallback %q", got)
	}
	if !IsImage("x.jpeg") || IsImage("x.pdf") {
		t.Fatalf("unexpected image detection")
	}
}
