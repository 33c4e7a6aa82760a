/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L2
Logic:       Anthropic Messages API connector implementing the analysis
             Provider interface: text + inline-image content blocks,
             token usage reporting.
Root Cause:  Sprint task Q010 — default LLM analysis backend.
Context:     Anthropic uses x-api-key auth and its own content-block
             message schema, distinct from an OpenAI-compatible body.
Suitability: L2 model for a well-documented API.
──────────────────────────────────────────────────────────────
*/

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cotaai/quotepipe/internal/httppool"
)

const (
	anthropicBaseURL = "https://api.anthropic.com/v1"
	anthropicVersion = "2023-06-01"
)

type AnthropicProvider struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

func NewAnthropicProvider(apiKey, model string, pool *httppool.Pool, timeout time.Duration) *AnthropicProvider {
	return &AnthropicProvider{
		apiKey:  apiKey,
		model:   model,
		baseURL: anthropicBaseURL,
		client:  pool.GetClient("anthropic", timeout),
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

type anthropicContentBlock struct {
	Type   string               `json:"type"`
	Text   string               `json:"text,omitempty"`
	Source *anthropicImageSource `json:"source,omitempty"`
}

type anthropicImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicRequest struct {
	Model     string                  `json:"model"`
	MaxTokens int                     `json:"max_tokens"`
	System    string                  `json:"system,omitempty"`
	Messages  []anthropicRequestTurn  `json:"messages"`
}

type anthropicRequestTurn struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	aReq := anthropicRequest{
		Model:     firstNonEmpty(req.Model, p.model),
		MaxTokens: req.MaxTokens,
		System:    req.SystemPrompt,
	}
	if aReq.MaxTokens == 0 {
		aReq.MaxTokens = 4096
	}

	var blocks []anthropicContentBlock
	for _, b := range req.Blocks {
		if b.Image != nil {
			blocks = append(blocks, anthropicContentBlock{
				Type: "image",
				Source: &anthropicImageSource{
					Type:      "base64",
					MediaType: b.Mime,
					Data:      b.base64Image(),
				},
			})
		} else {
			blocks = append(blocks, anthropicContentBlock{Type: "text", Text: b.Text})
		}
	}
	aReq.Messages = []anthropicRequestTurn{{Role: "user", Content: blocks}}

	body, err := json.Marshal(aReq)
	if err != nil {
		return nil, fmt.Errorf("marshal anthropic request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create anthropic request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(resp.StatusCode, respBody)
	}

	var aResp anthropicResponse
	if err := json.Unmarshal(respBody, &aResp); err != nil {
		return nil, fmt.Errorf("decode anthropic response: %w", err)
	}

	var text string
	for _, block := range aResp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return &Response{
		Text: text,
		Usage: Usage{
			InputTokens:  aResp.Usage.InputTokens,
			OutputTokens: aResp.Usage.OutputTokens,
		},
	}, nil
}

func classifyHTTPError(status int, body []byte) error {
	base := fmt.Errorf("status %d: %s", status, string(body))
	switch status {
	case 429:
		return &Error{Kind: ErrRateLimit, Err: base}
	case 529, 503, 502:
		return &Error{Kind: ErrOverload, Err: base}
	default:
		return &Error{Kind: ErrOther, Err: base}
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
