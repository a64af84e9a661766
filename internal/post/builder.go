// Package post builds reply posts that become immutable once sealed.
package post

import (
	"errors"
	"maps"
	"sync"

	"github.com/user/imagereader/internal/types"
)

// ErrSealed is returned by any mutation after Seal, and by a second Seal.
var ErrSealed = errors.New("post already sealed")

// Update describes one mutation reported to the OnUpdate hook.
type Update struct {
	PostID types.PostID
	Field  string // "send_to", "attachment", "message" or "sealed"
	Value  any
}

// Option configures a Builder.
type Option func(*Builder)

// WithOnUpdate registers a hook called after every accepted mutation.
func WithOnUpdate(fn func(Update)) Option {
	return func(b *Builder) { b.onUpdate = fn }
}

// Builder accumulates a reply from one role.
type Builder struct {
	mu       sync.Mutex
	post     types.Post
	sealed   bool
	onUpdate func(Update)
}

// New starts a reply sent from role.
func New(role string, opts ...Option) *Builder {
	b := &Builder{post: types.Post{ID: types.NewPostID(), SendFrom: role}}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Builder) emit(field string, value any) {
	if b.onUpdate != nil {
		b.onUpdate(Update{PostID: b.post.ID, Field: field, Value: value})
	}
}

// SetDestination sets the recipient of the reply.
func (b *Builder) SetDestination(to string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sealed {
		return ErrSealed
	}
	b.post.SendTo = to
	b.emit("send_to", to)
	return nil
}

// AddAttachment appends a typed attachment. extra is copied.
func (b *Builder) AddAttachment(message string, typ types.AttachmentType, extra map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sealed {
		return ErrSealed
	}
	att := types.Attachment{
		ID:      types.NewAttachmentID(),
		Type:    typ,
		Content: message,
		Extra:   maps.Clone(extra),
	}
	b.post.Attachments = append(b.post.Attachments, att)
	b.emit("attachment", att)
	return nil
}

// SetMessage sets the reply's body text.
func (b *Builder) SetMessage(message string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sealed {
		return ErrSealed
	}
	b.post.Message = message
	b.emit("message", message)
	return nil
}

// Seal finalizes the reply and returns a copy of it.
func (b *Builder) Seal() (*types.Post, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sealed {
		return nil, ErrSealed
	}
	b.sealed = true
	p := b.post
	p.Attachments = append([]types.Attachment(nil), b.post.Attachments...)
	b.emit("sealed", nil)
	return &p, nil
}
