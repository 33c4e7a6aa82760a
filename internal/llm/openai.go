/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L2
Logic:       OpenAI-compatible chat-completions connector, used as the
             alternative analysis backend (spec §4.4: "two backends are
             supported, one default, one alternative").
Root Cause:  Sprint task Q011 — alternative LLM analysis backend.
Context:     Image content uses OpenAI's image_url/base64 data-URI
             convention rather than Anthropic's source object.
Suitability: L2 model sufficient for a well-documented API.
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

const openAIBaseURL = "https://api.openai.com/v1"

type OpenAIProvider struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

func NewOpenAIProvider(apiKey, model string, pool *httppool.Pool, timeout time.Duration) *OpenAIProvider {
	return &OpenAIProvider{apiKey: apiKey, model: model, baseURL: openAIBaseURL, client: pool.GetClient("openai", timeout)}
}

func (p *OpenAIProvider) Name() string { return "openai" }

type openAIContentPart struct {
	Type     string             `json:"type"`
	Text     string             `json:"text,omitempty"`
	ImageURL *openAIImageURL    `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIMessage struct {
	Role    string              `json:"role"`
	Content []openAIContentPart `json:"content"`
}

type openAIRequest struct {
	Model     string          `json:"model"`
	Messages  []openAIMessage `json:"messages"`
	MaxTokens int             `json:"max_tokens,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	var parts []openAIContentPart
	for _, b := range req.Blocks {
		if b.Image != nil {
			parts = append(parts, openAIContentPart{
				Type:     "image_url",
				ImageURL: &openAIImageURL{URL: "data:" + b.Mime + ";base64," + b.base64Image()},
			})
		} else {
			parts = append(parts, openAIContentPart{Type: "text", Text: b.Text})
		}
	}

	messages := []openAIMessage{}
	if req.SystemPrompt != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: []openAIContentPart{{Type: "text", Text: req.SystemPrompt}}})
	}
	messages = append(messages, openAIMessage{Role: "user", Content: parts})

	oReq := openAIRequest{
		Model:     firstNonEmpty(req.Model, p.model),
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	}

	body, err := json.Marshal(oReq)
	if err != nil {
		return nil, fmt.Errorf("marshal openai request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create openai request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(resp.StatusCode, respBody)
	}

	var oResp openAIResponse
	if err := json.Unmarshal(respBody, &oResp); err != nil {
		return nil, fmt.Errorf("decode openai response: %w", err)
	}
	if len(oResp.Choices) == 0 {
		return nil, fmt.Errorf("openai response had no choices")
	}

	return &Response{
		Text: oResp.Choices[0].Message.Content,
		Usage: Usage{
			InputTokens:  oResp.Usage.PromptTokens,
			OutputTokens: oResp.Usage.CompletionTokens,
		},
	}, nil
}
