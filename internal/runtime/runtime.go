package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/user/imagereader/internal/conversation"
	"github.com/user/imagereader/internal/dataurl"
	"github.com/user/imagereader/internal/gateway"
	"github.com/user/imagereader/internal/reader"
	"github.com/user/imagereader/internal/types"
)

// DefaultSender names the user when an inbound event carries no user ID.
const DefaultSender = "User"

// Runtime drives the image reader for queued runs and records every step
// in the session's event log.
type Runtime struct {
	reader     *reader.Reader
	sessions   types.SessionStore
	events     types.EventStore
	artifacts  types.ArtifactStore
	retry      *gateway.RetryPolicy
	workingDir string
}

// New creates a Runtime with the given dependencies. A nil retry policy
// makes a single attempt per run.
func New(
	rd *reader.Reader,
	sessions types.SessionStore,
	events types.EventStore,
	artifacts types.ArtifactStore,
	retry *gateway.RetryPolicy,
	workingDir string,
) *Runtime {
	if retry == nil {
		retry = &gateway.RetryPolicy{MaxAttempts: 1, Multiplier: 1}
	}
	return &Runtime{
		reader:     rd,
		sessions:   sessions,
		events:     events,
		artifacts:  artifacts,
		retry:      retry,
		workingDir: workingDir,
	}
}

// artifactThreshold is the longest image_url kept inline in a reply event.
const artifactThreshold = 2000

func (rt *Runtime) append(ctx context.Context, run *gateway.Run, typ, source string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return rt.events.Append(ctx, &types.Event{
		ID:        types.NewEventID(),
		SessionID: run.SessionID,
		RunID:     run.ID,
		Type:      typ,
		Source:    source,
		At:        time.Now(),
		Payload:   data,
	})
}

// ProcessRun answers a single run with a sealed reply. It is the
// gateway.Processor for the image reader; the queue completes the run with
// its result.
func (rt *Runtime) ProcessRun(run *gateway.Run) (*types.Post, error) {
	ctx := run.Ctx
	if ctx == nil {
		ctx = context.Background()
	}

	sender := run.Event.UserID
	if sender == "" {
		sender = DefaultSender
	}

	// 1. Record the inbound post, addressed to the reader
	if err := rt.append(ctx, run, types.EventUserMessage, run.Event.Source, conversation.MessagePayload{
		Text:     run.Event.Text,
		SendFrom: sender,
		SendTo:   rt.reader.Alias(),
	}); err != nil {
		return nil, fmt.Errorf("record user message: %w", err)
	}

	// 2. Rebuild the conversation
	history, err := conversation.Load(ctx, rt.events, run.SessionID)
	if err != nil {
		return nil, err
	}

	env := reader.Env{WorkingDir: rt.workingDir}
	if run.Event.WorkingDir != "" {
		env.WorkingDir = run.Event.WorkingDir
	}

	// 3. Run the reader; only transient model failures are retried
	var reply *types.Post
	err = rt.retry.ExecuteContext(ctx, func() error {
		run.Attempts++
		var rerr error
		reply, rerr = rt.reader.Reply(ctx, history, env)
		return rerr
	})
	if err != nil {
		payload := conversation.ErrorPayload{Error: err.Error()}
		var rerr *reader.Error
		if errors.As(err, &rerr) {
			payload.Stage = string(rerr.Stage)
		}
		if appendErr := rt.append(ctx, run, types.EventError, "runtime", payload); appendErr != nil {
			return nil, fmt.Errorf("record error: %w", appendErr)
		}
		rt.touch(ctx, run)
		return nil, fmt.Errorf("read image: %w", err)
	}

	// 4. Record the reply
	stored, err := rt.storePost(ctx, run, reply)
	if err != nil {
		return nil, fmt.Errorf("store reply: %w", err)
	}
	if err := rt.append(ctx, run, types.EventReply, "runtime", stored); err != nil {
		return nil, fmt.Errorf("record reply: %w", err)
	}
	rt.touch(ctx, run)
	return reply, nil
}

// storePost returns a copy of p safe to write to the event log. Image URLs
// longer than artifactThreshold are moved into the artifact store.
func (rt *Runtime) storePost(ctx context.Context, run *gateway.Run, p *types.Post) (*types.Post, error) {
	out := *p
	out.Attachments = make([]types.Attachment, len(p.Attachments))
	for i, att := range p.Attachments {
		out.Attachments[i] = att
		url, ok := att.Extra[string(types.AttachmentImageURL)].(string)
		if !ok || len(url) <= artifactThreshold {
			continue
		}
		mimeType := dataurl.MediaType(url)
		artID, err := rt.artifacts.Put(ctx, run.SessionID, run.ID, rt.reader.Alias(), mimeType, url)
		if err != nil {
			return nil, err
		}
		extra := maps.Clone(att.Extra)
		delete(extra, string(types.AttachmentImageURL))
		extra["artifact_id"] = string(artID)
		if mimeType != "" {
			extra["mime_type"] = mimeType
		}
		out.Attachments[i].Extra = extra
	}
	return &out, nil
}

func (rt *Runtime) touch(ctx context.Context, run *gateway.Run) {
	seq, err := rt.events.Count(ctx, run.SessionID)
	if err != nil {
		return
	}
	rt.sessions.Touch(ctx, run.SessionID, run.ID, seq)
}
