package state

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/user/imagereader/internal/types"
)

func TestArtifactStore(t *testing.T) {
	dir := t.TempDir()
	store := NewArtifactStore(dir)
	ctx := context.Background()

	sessionID := types.NewSessionID()
	runID := types.NewRunID()

	dataURL := "data:image/png;base64,iVBORw0KGgo="

	artifactID, err := store.Put(ctx, sessionID, runID, "image_reader", "image/png", dataURL)
	if err != nil {
		t.Fatal(err)
	}
	if artifactID == "" {
		t.Error("expected non-empty artifact ID")
	}

	raw, err := store.Get(ctx, artifactID)
	if err != nil {
		t.Fatal(err)
	}

	var retrieved string
	if err := json.Unmarshal(raw, &retrieved); err != nil {
		t.Fatal(err)
	}
	if retrieved != dataURL {
		t.Errorf("data mismatch: %q", retrieved)
	}

	meta, err := store.GetMeta(ctx, artifactID)
	if err != nil {
		t.Fatal(err)
	}
	if meta.Source != "image_reader" {
		t.Errorf("expected source image_reader, got %s", meta.Source)
	}
	if meta.MimeType != "image/png" {
		t.Errorf("expected mime image/png, got %s", meta.MimeType)
	}
}

func TestArtifactStoreNotFound(t *testing.T) {
	store := NewArtifactStore(t.TempDir())
	ctx := context.Background()

	if _, err := store.Get(ctx, types.NewArtifactID()); !errors.Is(err, ErrArtifactNotFound) {
		t.Errorf("expected ErrArtifactNotFound, got %v", err)
	}
	if _, err := store.GetMeta(ctx, "../escape"); !errors.Is(err, ErrArtifactNotFound) {
		t.Errorf("expected ErrArtifactNotFound for traversal ID, got %v", err)
	}
}

func TestArtifactStoreDedupesWithinSession(t *testing.T) {
	dir := t.TempDir()
	store := NewArtifactStore(dir)
	ctx := context.Background()
	sid := types.NewSessionID()
	dataURL := "data:image/gif;base64,R0lGODlhAQABAAAAACw="

	first, err := store.Put(ctx, sid, types.NewRunID(), "ImageReader", "image/gif", dataURL)
	if err != nil {
		t.Fatal(err)
	}
	second, err := store.Put(ctx, sid, types.NewRunID(), "ImageReader", "image/gif", dataURL)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("same image stored twice: %s, %s", first, second)
	}

	meta, err := store.GetMeta(ctx, first)
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := json.Marshal(dataURL)
	if meta.Size != int64(len(raw)) || len(meta.Digest) != 64 {
		t.Errorf("unexpected size/digest %d %q", meta.Size, meta.Digest)
	}

	other, err := store.Put(ctx, sid, types.NewRunID(), "ImageReader", "image/gif", dataURL+"AA")
	if err != nil {
		t.Fatal(err)
	}
	if other == first {
		t.Error("different data must get its own artifact")
	}

	// another session keeps its own copy
	elsewhere, err := store.Put(ctx, types.NewSessionID(), types.NewRunID(), "ImageReader", "image/gif", dataURL)
	if err != nil {
		t.Fatal(err)
	}
	if elsewhere == first {
		t.Error("artifacts are not shared across sessions")
	}
}

func TestArtifactStoreStaleRef(t *testing.T) {
	dir := t.TempDir()
	store := NewArtifactStore(dir)
	ctx := context.Background()
	sid := types.NewSessionID()

	id, err := store.Put(ctx, sid, types.NewRunID(), "ImageReader", "image/png", "data:image/png;base64,AAAA")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(dir, "sessions", string(sid), "artifacts", string(id)+".json")); err != nil {
		t.Fatal(err)
	}

	again, err := store.Put(ctx, sid, types.NewRunID(), "ImageReader", "image/png", "data:image/png;base64,AAAA")
	if err != nil {
		t.Fatal(err)
	}
	if again == id {
		t.Error("ref to a removed artifact must not be reused")
	}
	if _, err := store.Get(ctx, again); err != nil {
		t.Errorf("re-stored artifact unreadable: %v", err)
	}
}

func TestArtifactStoreRejectsGlobIDs(t *testing.T) {
	store := NewArtifactStore(t.TempDir())
	ctx := context.Background()
	id, err := store.Put(ctx, types.NewSessionID(), types.NewRunID(), "ImageReader", "", "x")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(ctx, "*"); !errors.Is(err, ErrArtifactNotFound) {
		t.Errorf("wildcard ID matched %s: %v", id, err)
	}
}
