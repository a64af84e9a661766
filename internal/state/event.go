// internal/state/event.go
package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/user/imagereader/internal/types"
)

// maxEventLine bounds a single JSONL record. Reply events can carry inline
// data URLs below the artifact threshold, so the scanner default is too small.
const maxEventLine = 8 << 20

// EventStore is a JSONL-backed append-only event store.
// Events are stored per-session in sessions/<sessionID>/events.jsonl.
type EventStore struct {
	root  string
	mu    sync.Mutex
	locks map[types.SessionID]*sync.Mutex
	seqs  map[types.SessionID]int64
}

// NewEventStore creates a new file-backed EventStore rooted at the given directory.
func NewEventStore(root string) *EventStore {
	return &EventStore{
		root:  root,
		locks: make(map[types.SessionID]*sync.Mutex),
		seqs:  make(map[types.SessionID]int64),
	}
}

// getLock returns the per-session mutex, creating one if it doesn't exist.
func (e *EventStore) getLock(sessionID types.SessionID) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	if lock, ok := e.locks[sessionID]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	e.locks[sessionID] = lock
	return lock
}

func (e *EventStore) eventsPath(sessionID types.SessionID) string {
	return filepath.Join(e.root, "sessions", string(sessionID), "events.jsonl")
}

func newScanner(f *os.File) *bufio.Scanner {
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventLine)
	return scanner
}

// lastSeq returns the highest sequence number for the session, reading the
// file once and caching the result. Caller must hold the session lock.
func (e *EventStore) lastSeq(sessionID types.SessionID) (int64, error) {
	e.mu.Lock()
	seq, ok := e.seqs[sessionID]
	e.mu.Unlock()
	if ok {
		return seq, nil
	}

	n, err := e.count(sessionID)
	if err != nil {
		return 0, err
	}
	e.setSeq(sessionID, n)
	return n, nil
}

func (e *EventStore) setSeq(sessionID types.SessionID, seq int64) {
	e.mu.Lock()
	e.seqs[sessionID] = seq
	e.mu.Unlock()
}

// count reads the event file and counts lines. Caller must hold the session lock.
func (e *EventStore) count(sessionID types.SessionID) (int64, error) {
	f, err := os.Open(e.eventsPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()

	var count int64
	scanner := newScanner(f)
	for scanner.Scan() {
		count++
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan events file: %w", err)
	}
	return count, nil
}

// Append adds an event to the session's event log with an auto-incremented sequence number.
func (e *EventStore) Append(_ context.Context, event *types.Event) error {
	lock := e.getLock(event.SessionID)
	lock.Lock()
	defer lock.Unlock()

	dir := filepath.Dir(e.eventsPath(event.SessionID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	seq, err := e.lastSeq(event.SessionID)
	if err != nil {
		return err
	}
	event.Seq = seq + 1

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	f, err := os.OpenFile(e.eventsPath(event.SessionID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()

	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	e.setSeq(event.SessionID, event.Seq)
	return nil
}

// Tail returns the last N events for the given session. A limit of zero or
// less returns the whole log.
func (e *EventStore) Tail(_ context.Context, sessionID types.SessionID, limit int) ([]*types.Event, error) {
	lock := e.getLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	f, err := os.Open(e.eventsPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()

	var events []*types.Event
	scanner := newScanner(f)
	for scanner.Scan() {
		var event types.Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			return nil, fmt.Errorf("unmarshal event: %w", err)
		}
		events = append(events, &event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan events file: %w", err)
	}

	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}

	return events, nil
}

// Count returns the number of events for the given session.
func (e *EventStore) Count(_ context.Context, sessionID types.SessionID) (int64, error) {
	lock := e.getLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	return e.lastSeq(sessionID)
}

// Forget drops cached sequence state for a session whose files were removed.
func (e *EventStore) Forget(sessionID types.SessionID) {
	e.mu.Lock()
	delete(e.seqs, sessionID)
	e.mu.Unlock()
}
