// Package reader implements the image reader role: it asks the model for
// the image reference in the last message addressed to the role and
// returns a sealed reply carrying that image.
package reader

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	ctxengine "github.com/user/imagereader/internal/context"
	"github.com/user/imagereader/internal/dataurl"
	"github.com/user/imagereader/internal/post"
	"github.com/user/imagereader/internal/types"
	"github.com/user/imagereader/pkg/llm"
)

// DefaultAlias is the role name used when none is configured.
const DefaultAlias = "ImageReader"

const closingMessage = "I have read the image path from the message. The image is attached below."

// Conversation exposes the rounds a role has taken part in.
type Conversation interface {
	RoleRounds(ctx context.Context, role string, includeFailed bool) ([]*types.Round, error)
}

// Model is a single-shot chat completion. llm.Provider satisfies it.
type Model interface {
	Complete(ctx context.Context, messages []llm.Message) (*llm.Response, error)
}

// ReplyBuilder assembles the outgoing post. *post.Builder satisfies it.
type ReplyBuilder interface {
	SetDestination(to string) error
	AddAttachment(message string, typ types.AttachmentType, extra map[string]any) error
	SetMessage(message string) error
	Seal() (*types.Post, error)
}

// Env is the per-invocation execution context.
type Env struct {
	WorkingDir string
}

// Reader resolves image references for one role.
type Reader struct {
	alias    string
	model    Model
	engine   *ctxengine.Engine
	newReply func(role string) ReplyBuilder
}

// Option configures a Reader.
type Option func(*Reader)

// WithReplyFactory replaces the default post.Builder factory.
func WithReplyFactory(fn func(role string) ReplyBuilder) Option {
	return func(r *Reader) { r.newReply = fn }
}

// New creates a Reader. An empty alias selects DefaultAlias.
func New(alias string, model Model, engine *ctxengine.Engine, opts ...Option) *Reader {
	if alias == "" {
		alias = DefaultAlias
	}
	r := &Reader{
		alias:  alias,
		model:  model,
		engine: engine,
		newReply: func(role string) ReplyBuilder {
			return post.New(role)
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Alias returns the role name the reader answers as.
func (r *Reader) Alias() string { return r.alias }

// IsRemote reports whether ref is treated as a remote URL. Any reference
// starting with the lowercase literal "http" qualifies.
func IsRemote(ref string) bool {
	return strings.HasPrefix(ref, "http")
}

// ResolvePath returns ref unchanged when absolute, otherwise joined onto wd.
func ResolvePath(ref, wd string) string {
	if filepath.IsAbs(ref) {
		return ref
	}
	return filepath.Join(wd, ref)
}

// Reply runs one invocation against conv. On failure no reply is
// produced and the returned error is an *Error.
func (r *Reader) Reply(ctx context.Context, conv Conversation, env Env) (*types.Post, error) {
	stage := StageStart
	fail := func(err error, raw string) (*types.Post, error) {
		slog.Warn("image reader failed", "role", r.alias, "stage", string(stage), "error", err)
		return nil, &Error{Stage: stage, Raw: raw, Err: err}
	}
	advance := func(next Stage) {
		stage = next
		slog.Debug("image reader stage", "role", r.alias, "stage", string(stage))
	}

	// 1. Locate the query
	rounds, err := conv.RoleRounds(ctx, r.alias, false)
	if err != nil {
		return fail(fmt.Errorf("%w: load rounds: %w", ErrNoQueryFound, err), "")
	}
	if len(rounds) == 0 || len(rounds[len(rounds)-1].Posts) == 0 {
		return fail(ErrNoQueryFound, "")
	}
	lastRound := rounds[len(rounds)-1]
	query := lastRound.Posts[len(lastRound.Posts)-1]
	advance(StageQueryLocated)

	// 2. Build the prompt and 3. call the model
	messages, err := r.engine.BuildMessages(query.Message)
	if err != nil {
		return fail(fmt.Errorf("build prompt: %w", err), "")
	}
	resp, err := r.model.Complete(ctx, messages)
	if err != nil {
		return fail(fmt.Errorf("%w: %w", ErrModelCall, err), "")
	}
	if resp == nil {
		return fail(fmt.Errorf("%w: no response", ErrModelCall), "")
	}
	advance(StagePromptSent)

	// 4. Parse
	extraction, err := r.engine.Parse(resp.Content)
	if err != nil {
		return fail(fmt.Errorf("%w: %w", ErrMalformedModelResponse, err), resp.Content)
	}
	ref := extraction.ImageURL
	advance(StageResponseParsed)

	reply := r.newReply(r.alias)
	remote := IsRemote(ref)
	advance(StageClassified)

	// 5./6. Resolve
	var attachMsg, resolved string
	if remote {
		resolved = ref
		attachMsg = fmt.Sprintf("Image from %s.", ref)
		advance(StageRemoteResolved)
	} else {
		resolved, err = dataurl.Encode(ResolvePath(ref, env.WorkingDir))
		if err != nil {
			return fail(fmt.Errorf("%w: %w", ErrImageEncodeFailed, err), "")
		}
		attachMsg = fmt.Sprintf("Image from %s encoded as a Base64 data URL.", ref)
		advance(StageLocalEncoded)
	}

	// 7. Assemble and seal
	if err := reply.SetDestination(query.SendFrom); err != nil {
		return fail(fmt.Errorf("set destination: %w", err), "")
	}
	extra := map[string]any{string(types.AttachmentImageURL): resolved}
	if err := reply.AddAttachment(attachMsg, types.AttachmentImageURL, extra); err != nil {
		return fail(fmt.Errorf("add attachment: %w", err), "")
	}
	if err := reply.SetMessage(closingMessage); err != nil {
		return fail(fmt.Errorf("set message: %w", err), "")
	}
	sealed, err := reply.Seal()
	if err != nil {
		return fail(fmt.Errorf("seal reply: %w", err), "")
	}
	advance(StageSealed)
	return sealed, nil
}
