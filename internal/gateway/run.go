package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/user/imagereader/internal/types"
)

// RunStatus represents the lifecycle state of a Run.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run tracks a single execution of an inbound event against a session.
type Run struct {
	ID        types.RunID
	SessionID types.SessionID
	Event     *types.InboundEvent
	Status    RunStatus
	Attempts  int
	CreatedAt time.Time
	StartedAt *time.Time
	EndedAt   *time.Time
	Error     error
	// Ctx is set by the queue when the run starts. It is canceled when the
	// run ends, the queue stops, or the submitting caller goes away.
	Ctx context.Context
	// OnComplete receives the sealed reply, or the error that ended the run.
	// It is called exactly once.
	OnComplete func(reply *types.Post, err error)

	parent context.Context
	once   sync.Once
}

// NewRun creates a Run in the Queued state for the given session and event.
func NewRun(sessionID types.SessionID, event *types.InboundEvent) *Run {
	return &Run{
		ID:        types.NewRunID(),
		SessionID: sessionID,
		Event:     event,
		Status:    RunStatusQueued,
		CreatedAt: time.Now(),
	}
}

func (r *Run) start() {
	now := time.Now()
	r.Status = RunStatusRunning
	r.StartedAt = &now
}

// complete records the outcome and notifies OnComplete. Later calls are
// ignored.
func (r *Run) complete(reply *types.Post, err error) {
	r.once.Do(func() {
		now := time.Now()
		r.EndedAt = &now
		r.Error = err
		r.Status = RunStatusComplete
		if err != nil {
			r.Status = RunStatusFailed
			reply = nil
		}
		if r.OnComplete != nil {
			r.OnComplete(reply, err)
		}
	})
}
