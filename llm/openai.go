// Package llm talks to an OpenAI-compatible chat completion API for
// prompt-driven extraction over cleaned page content.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/scrapigen/scrapigen/models"
)

// Client is a lightweight OpenAI-compatible API client. It uses net/http
// directly; the chat completion surface is small enough that an SDK buys
// nothing.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a Client. Pass nil to use a default http.Client.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{httpClient: httpClient}
}

// ExtractParams holds per-request provider configuration (BYOK).
type ExtractParams struct {
	APIKey  string
	Model   string
	BaseURL string // e.g. "https://api.openai.com/v1"
}

// ExtractResult is the extraction output plus token accounting.
type ExtractResult struct {
	Data  json.RawMessage
	Usage *models.LLMUsage
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type chatErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Extract sends the cleaned page content plus the caller's instruction
// to the model and returns the structured JSON it produced.
func (c *Client) Extract(ctx context.Context, content, prompt string, params ExtractParams) (*ExtractResult, error) {
	reqBody := chatRequest{
		Model: params.Model,
		Messages: []chatMessage{
			{Role: "system", Content: buildSystemPrompt(prompt)},
			{Role: "user", Content: content},
		},
		Temperature:    0,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := strings.TrimRight(params.BaseURL, "/") + "/chat/completions"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+params.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, models.NewFetchError(models.ErrCodeLLMFailure, "LLM request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, models.NewFetchError(models.ErrCodeLLMFailure, "failed to read LLM response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyLLMError(resp.StatusCode, respBody)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, models.NewFetchError(models.ErrCodeLLMFailure, "failed to parse LLM response", err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, models.NewFetchError(models.ErrCodeLLMFailure, "LLM returned no choices", nil)
	}

	raw := strings.TrimSpace(chatResp.Choices[0].Message.Content)
	if !json.Valid([]byte(raw)) {
		return nil, models.NewFetchError(models.ErrCodeLLMFailure, "LLM returned invalid JSON", nil)
	}

	// The model reports an ambiguous instruction through a sentinel
	// field instead of guessing.
	var probe struct {
		Clarification string `json:"clarification_needed"`
	}
	if err := json.Unmarshal([]byte(raw), &probe); err == nil && probe.Clarification != "" {
		return nil, models.NewFetchError(models.ErrCodeLLMClarification, probe.Clarification, nil)
	}

	return &ExtractResult{
		Data: json.RawMessage(raw),
		Usage: &models.LLMUsage{
			PromptTokens:     chatResp.Usage.PromptTokens,
			CompletionTokens: chatResp.Usage.CompletionTokens,
			TotalTokens:      chatResp.Usage.TotalTokens,
		},
	}, nil
}

func buildSystemPrompt(instruction string) string {
	return fmt.Sprintf(`You are a structured data extraction assistant. Extract information from the provided page content according to the instruction below and return it as JSON.

Instruction:
%s

Rules:
- Return ONLY valid JSON, no markdown fences or explanation.
- If a requested value cannot be found in the content, use null.
- If the instruction is too ambiguous to act on, return {"clarification_needed": "<one sentence describing what is unclear>"}.`, instruction)
}

// classifyLLMError maps provider HTTP status codes onto typed errors so
// the API layer can distinguish a bad key from a quota problem.
func classifyLLMError(statusCode int, body []byte) *models.FetchError {
	var errResp chatErrorResponse
	msg := "LLM API error"
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		msg = errResp.Error.Message
	}

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return models.NewFetchError(models.ErrCodeLLMAuthFailure, msg, nil)
	case statusCode == http.StatusTooManyRequests:
		return models.NewFetchError(models.ErrCodeLLMRateLimited, msg, nil)
	default:
		return models.NewFetchError(models.ErrCodeLLMFailure, fmt.Sprintf("LLM API returned %d: %s", statusCode, msg), nil)
	}
}
