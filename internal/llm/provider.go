// Package llm implements the LLM Analysis Client of spec §4.4: a
// two-backend provider abstraction (Anthropic default, OpenAI-compatible
// alternative), content-block requests carrying text and images, token
// usage reporting, and retry of rate-limit and overload errors on the
// declarative overload ladder.
package llm

import (
	"context"
	"encoding/base64"
)

// ContentBlock is one ordered piece of a message: either text or an
// inline base64 image (spec §6 LLM provider contract).
type ContentBlock struct {
	Text  string
	Image []byte
	Mime  string
}

func TextBlock(text string) ContentBlock { return ContentBlock{Text: text} }

func ImageBlock(data []byte, mime string) ContentBlock {
	return ContentBlock{Image: data, Mime: mime}
}

func (b ContentBlock) base64Image() string {
	return base64.StdEncoding.EncodeToString(b.Image)
}

// Request is one call to a backend: a system prompt, one user turn made
// of content blocks, and a max output token budget.
type Request struct {
	Model        string
	SystemPrompt string
	Blocks       []ContentBlock
	MaxTokens    int
}

// Usage mirrors spec §6: "usage record {input_tokens, output_tokens}".
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Response is the raw text reply plus usage; the caller (Client, via
// parseAnalysis) extracts the JSON object itself, since the
// provider layer has no opinion on the analysis schema (spec §1 non-goal:
// "the LLM prompts themselves ... wording is not [specified]").
type Response struct {
	Text  string
	Usage Usage
}

// ErrorKind classifies a provider failure so the client can tell the
// retryable kinds (rate limit, overload) from the rest; both retryable
// kinds retry on the same ladder.
type ErrorKind int

const (
	ErrOther ErrorKind = iota
	ErrRateLimit
	ErrOverload
)

// Error wraps a provider failure with its classification.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// Provider is the capability set the core depends on (spec §4.4):
// messages, images-in-messages, token-usage-reporting. Web-search tool
// use is out of scope for this port (no SPEC_FULL component calls it).
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Response, error)
}
