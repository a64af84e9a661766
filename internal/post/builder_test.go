package post

import (
	"errors"
	"strings"
	"testing"

	"github.com/user/imagereader/internal/types"
)

func TestBuilderSeal(t *testing.T) {
	b := New("ImageReader")
	if err := b.SetDestination("Planner"); err != nil {
		t.Fatal(err)
	}
	extra := map[string]any{"image_url": "http://x/a.png"}
	if err := b.AddAttachment("Image from http://x/a.png.", types.AttachmentImageURL, extra); err != nil {
		t.Fatal(err)
	}
	if err := b.SetMessage("done"); err != nil {
		t.Fatal(err)
	}

	// the builder keeps its own copy of extra
	extra["image_url"] = "changed"

	p, err := b.Seal()
	if err != nil {
		t.Fatal(err)
	}
	if p.SendFrom != "ImageReader" || p.SendTo != "Planner" || p.Message != "done" {
		t.Errorf("unexpected post %+v", p)
	}
	if !strings.HasPrefix(string(p.ID), "post-") {
		t.Errorf("unexpected post id %q", p.ID)
	}
	att, ok := p.Attachment(types.AttachmentImageURL)
	if !ok {
		t.Fatal("expected image_url attachment")
	}
	if att.Extra["image_url"] != "http://x/a.png" {
		t.Errorf("unexpected extra %v", att.Extra)
	}
	if !strings.HasPrefix(string(att.ID), "atta-") {
		t.Errorf("unexpected attachment id %q", att.ID)
	}
}

func TestBuilderRejectsAfterSeal(t *testing.T) {
	b := New("ImageReader")
	if _, err := b.Seal(); err != nil {
		t.Fatal(err)
	}

	if err := b.SetDestination("x"); !errors.Is(err, ErrSealed) {
		t.Errorf("SetDestination: expected ErrSealed, got %v", err)
	}
	if err := b.AddAttachment("m", types.AttachmentImageURL, nil); !errors.Is(err, ErrSealed) {
		t.Errorf("AddAttachment: expected ErrSealed, got %v", err)
	}
	if err := b.SetMessage("x"); !errors.Is(err, ErrSealed) {
		t.Errorf("SetMessage: expected ErrSealed, got %v", err)
	}
	if _, err := b.Seal(); !errors.Is(err, ErrSealed) {
		t.Errorf("Seal: expected ErrSealed, got %v", err)
	}
}

func TestBuilderOnUpdate(t *testing.T) {
	var fields []string
	b := New("ImageReader", WithOnUpdate(func(u Update) {
		fields = append(fields, u.Field)
	}))
	b.SetDestination("Planner")
	b.AddAttachment("m", types.AttachmentImageURL, nil)
	b.SetMessage("done")
	b.Seal()
	b.SetMessage("ignored")

	want := []string{"send_to", "attachment", "message", "sealed"}
	if strings.Join(fields, ",") != strings.Join(want, ",") {
		t.Errorf("got updates %v, want %v", fields, want)
	}
}
