package storage

import (
	"context"
	"errors"
	"testing"

	"storyforge/internal/domain"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(t.TempDir(), "http://assets/")
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	return store
}

func TestFileStoreWriteReadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	key, err := store.Write(ctx, "jobs/job-1/scene-01.png", []byte("frame"))
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if key != "jobs/job-1/scene-01.png" {
		t.Fatalf("key = %q, want the cleaned input key", key)
	}

	data, err := store.Read(ctx, key)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(data) != "frame" {
		t.Fatalf("data = %q, want %q", data, "frame")
	}
}

func TestFileStoreWriteIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Write(ctx, "jobs/job-1/scene-01.png", []byte("first")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if _, err := store.Write(ctx, "jobs/job-1/scene-01.png", []byte("second")); err != nil {
		t.Fatalf("second Write() error = %v", err)
	}

	data, _ := store.Read(ctx, "jobs/job-1/scene-01.png")
	if string(data) != "second" {
		t.Fatalf("data = %q, want the overwritten content", data)
	}
}

func TestFileStoreReadMissing(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Read(context.Background(), "jobs/nope.png"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Read() error = %v, want ErrNotFound", err)
	}
}

func TestFileStoreRejectsTraversal(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Write(context.Background(), "../escape.png", []byte("x")); err == nil {
		t.Fatal("expected traversal keys to be rejected")
	}
	if _, err := store.Write(context.Background(), "jobs/../../escape.png", []byte("x")); err == nil {
		t.Fatal("expected nested traversal keys to be rejected")
	}
}

func TestFileStoreURLAndKey(t *testing.T) {
	store := newTestStore(t)

	url := store.URL("jobs/job-1/scene-01.png")
	if want := "http://assets/jobs/job-1/scene-01.png"; url != want {
		t.Fatalf("URL() = %q, want %q", url, want)
	}

	key, ok := store.Key(url)
	if !ok || key != "jobs/job-1/scene-01.png" {
		t.Fatalf("Key() = %q, %v, want the original key", key, ok)
	}
	if _, ok := store.Key("http://elsewhere/asset.png"); ok {
		t.Fatal("Key() must reject foreign urls")
	}
}

func TestFileStoreRemoveAll(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, _ = store.Write(ctx, "jobs/job-1/scene-01.png", []byte("a"))
	_, _ = store.Write(ctx, "jobs/job-1/scene-02.png", []byte("b"))
	_, _ = store.Write(ctx, "jobs/job-2/scene-01.png", []byte("c"))

	if err := store.RemoveAll("jobs/job-1"); err != nil {
		t.Fatalf("RemoveAll() error = %v", err)
	}
	if _, err := store.Read(ctx, "jobs/job-1/scene-01.png"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Read() error = %v, want ErrNotFound after RemoveAll", err)
	}
	if _, err := store.Read(ctx, "jobs/job-2/scene-01.png"); err != nil {
		t.Fatalf("Read() error = %v, other prefixes must survive", err)
	}
}
