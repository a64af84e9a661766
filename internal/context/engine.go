// Package context turns a conversation message into an image extraction
// request for the LLM and decodes the model's answer.
package context

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/user/imagereader/pkg/llm"
)

// ErrInvalidResponse is returned by Parse when the model output is not a
// JSON object with a non-empty string "image_url".
var ErrInvalidResponse = errors.New("invalid extraction response")

// Strictness controls how much slack Parse gives the model output.
type Strictness int

const (
	// Strict requires the whole response to be the JSON object.
	Strict Strictness = iota
	// Lenient strips code fences and surrounding prose before decoding.
	Lenient
)

// Extraction is the decoded model answer.
type Extraction struct {
	ImageURL string `json:"image_url"`
}

// Options configures an Engine. Zero values select the defaults.
type Options struct {
	Template   *Template
	Strictness Strictness
	// MaxQueryTokens truncates the embedded message to this many tokens.
	// Zero disables truncation and the tokenizer is never loaded.
	//
	// The tokenizer is loaded on the first message longer than the budget.
	// tiktoken-go downloads its BPE file on first use and caches it under
	// TIKTOKEN_CACHE_DIR; when that fails, messages are cut at about four
	// bytes per token instead.
	MaxQueryTokens int
	// Model selects the tokenizer when MaxQueryTokens is set.
	Model string
}

// Engine builds extraction prompts and parses extraction answers.
type Engine struct {
	system     string
	user       *template.Template
	strictness Strictness
	model      string
	maxTokens  int

	tokenizerOnce sync.Once
	tokenizer     *tiktoken.Tiktoken
}

// approxBytesPerToken is used when no tokenizer is available.
const approxBytesPerToken = 4

// loadEncoding resolves the tokenizer for model.
var loadEncoding = func(model string) (*tiktoken.Tiktoken, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err == nil {
		return enc, nil
	}
	// cl100k_base for unknown models
	return tiktoken.GetEncoding("cl100k_base")
}

// New creates an extraction engine.
func New(opts Options) (*Engine, error) {
	tmpl := DefaultTemplate()
	if opts.Template != nil {
		tmpl = *opts.Template
	}
	user, err := template.New("user").Parse(tmpl.User)
	if err != nil {
		return nil, fmt.Errorf("parse user prompt: %w", err)
	}

	e := &Engine{
		system:     tmpl.System,
		user:       user,
		strictness: opts.Strictness,
		model:      opts.Model,
		maxTokens:  opts.MaxQueryTokens,
	}
	return e, nil
}

func (e *Engine) loadTokenizer() *tiktoken.Tiktoken {
	e.tokenizerOnce.Do(func() {
		enc, err := loadEncoding(e.model)
		if err != nil {
			slog.Warn("tokenizer unavailable, truncating by bytes", "model", e.model, "error", err)
			return
		}
		e.tokenizer = enc
	})
	return e.tokenizer
}

// truncate cuts text to the configured token budget. The result is always
// valid UTF-8 when text is.
func (e *Engine) truncate(text string) string {
	// a token is at least one byte
	if e.maxTokens <= 0 || len(text) <= e.maxTokens {
		return text
	}
	enc := e.loadTokenizer()
	if enc == nil {
		limit := e.maxTokens * approxBytesPerToken
		if len(text) <= limit {
			return text
		}
		return trimPartialRune(text[:limit])
	}
	tokens := enc.Encode(text, nil, nil)
	if len(tokens) <= e.maxTokens {
		return text
	}
	return trimPartialRune(enc.Decode(tokens[:e.maxTokens]))
}

// trimPartialRune drops a trailing incomplete UTF-8 sequence left by a cut
// inside a multibyte character.
func trimPartialRune(s string) string {
	for i := 0; i < utf8.UTFMax && len(s) > 0; i++ {
		r, size := utf8.DecodeLastRuneInString(s)
		if r != utf8.RuneError || size > 1 {
			break
		}
		s = s[:len(s)-1]
	}
	return s
}

// BuildMessages returns the system and user messages for one extraction.
func (e *Engine) BuildMessages(query string) ([]llm.Message, error) {
	var buf bytes.Buffer
	if err := e.user.Execute(&buf, PromptData{Message: e.truncate(query)}); err != nil {
		return nil, fmt.Errorf("render user prompt: %w", err)
	}
	return []llm.Message{
		{Role: llm.RoleSystem, Content: e.system},
		{Role: llm.RoleUser, Content: buf.String()},
	}, nil
}

// Parse decodes the model output into an Extraction.
func (e *Engine) Parse(content string) (*Extraction, error) {
	text := strings.TrimSpace(content)
	if e.strictness == Lenient {
		text = extractObject(text)
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	v, ok := raw["image_url"]
	if !ok {
		return nil, fmt.Errorf("%w: missing image_url", ErrInvalidResponse)
	}
	url, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("%w: image_url is %T, not a string", ErrInvalidResponse, v)
	}
	// the reference is used verbatim; only lenient mode tidies it
	if e.strictness == Lenient {
		url = strings.TrimSpace(url)
	}
	if url == "" {
		return nil, fmt.Errorf("%w: empty image_url", ErrInvalidResponse)
	}
	return &Extraction{ImageURL: url}, nil
}

// extractObject drops markdown fences and any prose around the outermost
// JSON object.
func extractObject(text string) string {
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return strings.TrimSpace(text)
}
