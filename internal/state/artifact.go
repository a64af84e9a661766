package state

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/user/imagereader/internal/types"
)

// ErrArtifactNotFound is returned when no artifact file matches the ID.
var ErrArtifactNotFound = errors.New("artifact not found")

// artifactFile is the on-disk form: {"meta": ..., "data": ...}.
type artifactFile struct {
	Meta *types.ArtifactMeta `json:"meta"`
	Data json.RawMessage     `json:"data"`
}

// ArtifactStore keeps payloads too large for the event log, in practice
// inline images as data URLs. Layout per session:
//
//	sessions/<sid>/artifacts/<id>.json      meta and data
//	sessions/<sid>/artifacts/<digest>.ref   id of the artifact with that data
//
// Storing the same data twice in a session returns the first artifact, so
// asking about one local image repeatedly keeps a single copy.
type ArtifactStore struct {
	root string
	mu   sync.Mutex
}

// NewArtifactStore creates a file-backed ArtifactStore under root.
func NewArtifactStore(root string) *ArtifactStore {
	return &ArtifactStore{root: root}
}

func (a *ArtifactStore) dir(sessionID types.SessionID) string {
	return filepath.Join(a.root, "sessions", string(sessionID), "artifacts")
}

// Put stores data and returns its ID. When the session already holds an
// artifact with identical data, that artifact's ID is returned instead.
func (a *ArtifactStore) Put(_ context.Context, sessionID types.SessionID, runID types.RunID, source, mimeType string, data any) (types.ArtifactID, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal artifact data: %w", err)
	}
	sum := sha256.Sum256(raw)
	digest := hex.EncodeToString(sum[:])

	a.mu.Lock()
	defer a.mu.Unlock()

	dir := a.dir(sessionID)
	refPath := filepath.Join(dir, digest+".ref")
	if id, ok := a.lookupRef(refPath); ok {
		return id, nil
	}

	meta := &types.ArtifactMeta{
		ID:        types.NewArtifactID(),
		SessionID: sessionID,
		RunID:     runID,
		Source:    source,
		CreatedAt: time.Now(),
		MimeType:  mimeType,
		Size:      int64(len(raw)),
		Digest:    digest,
	}
	content, err := json.Marshal(&artifactFile{Meta: meta, Data: raw})
	if err != nil {
		return "", fmt.Errorf("marshal artifact: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create artifacts dir: %w", err)
	}
	if err := writeAtomic(filepath.Join(dir, string(meta.ID)+".json"), content); err != nil {
		return "", err
	}
	if err := writeAtomic(refPath, []byte(meta.ID)); err != nil {
		return "", err
	}
	return meta.ID, nil
}

// lookupRef returns the artifact a digest ref points at, if both exist.
func (a *ArtifactStore) lookupRef(refPath string) (types.ArtifactID, bool) {
	b, err := os.ReadFile(refPath)
	if err != nil {
		return "", false
	}
	id := types.ArtifactID(strings.TrimSpace(string(b)))
	if _, err := os.Stat(filepath.Join(filepath.Dir(refPath), string(id)+".json")); err != nil {
		return "", false
	}
	return id, true
}

// Get returns the stored JSON data of an artifact.
func (a *ArtifactStore) Get(_ context.Context, id types.ArtifactID) (json.RawMessage, error) {
	f, err := a.load(id)
	if err != nil {
		return nil, err
	}
	return f.Data, nil
}

// GetMeta returns the metadata of an artifact.
func (a *ArtifactStore) GetMeta(_ context.Context, id types.ArtifactID) (*types.ArtifactMeta, error) {
	f, err := a.load(id)
	if err != nil {
		return nil, err
	}
	return f.Meta, nil
}

// load finds an artifact by ID in any session.
func (a *ArtifactStore) load(id types.ArtifactID) (*artifactFile, error) {
	if id == "" || filepath.Base(string(id)) != string(id) || strings.ContainsAny(string(id), "*?[") {
		return nil, fmt.Errorf("%w: %q", ErrArtifactNotFound, id)
	}
	matches, err := filepath.Glob(filepath.Join(a.root, "sessions", "*", "artifacts", string(id)+".json"))
	if err != nil {
		return nil, fmt.Errorf("find artifact: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, id)
	}
	b, err := os.ReadFile(matches[0])
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	var f artifactFile
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("unmarshal artifact: %w", err)
	}
	return &f, nil
}

// writeAtomic writes data to path via a temp file and rename.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}
