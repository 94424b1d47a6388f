package models

import (
	"encoding/json"
	"time"
)

// FetchResponse is the response for POST /api/v1/fetch.
type FetchResponse struct {
	// Success indicates whether the fetch completed without errors.
	Success bool `json:"success"`

	// HTML is the page content (static body or rendered DOM).
	HTML string `json:"html,omitempty"`

	// RenderMethod records how the page was fetched: "static" or "render".
	RenderMethod string `json:"render_method,omitempty"`

	// Cached indicates whether the result was served from the cache.
	Cached bool `json:"cached"`

	// FetchedAt is when the content was actually fetched (cache hits
	// report the original fetch time, not the request time).
	FetchedAt time.Time `json:"fetched_at,omitzero"`

	// StatusCode is the HTTP status observed on the winning attempt.
	StatusCode int `json:"status_code,omitempty"`

	// FinalURL is the URL after following all redirects.
	FinalURL string `json:"final_url,omitempty"`

	// Error is populated only when Success is false.
	Error *ErrorDetail `json:"error,omitempty"`
}

// ExtractResponse is the response for POST /api/v1/extract.
type ExtractResponse struct {
	Success bool `json:"success"`

	// Data is the structured JSON produced by the LLM.
	Data json.RawMessage `json:"data,omitempty"`

	// RenderMethod and Cached describe how the underlying page fetch ran.
	RenderMethod string `json:"render_method,omitempty"`
	Cached       bool   `json:"cached"`

	// Usage reports LLM token consumption.
	Usage *LLMUsage `json:"usage,omitempty"`

	Error *ErrorDetail `json:"error,omitempty"`
}

// LLMUsage reports token consumption of an extraction call.
type LLMUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status    string    `json:"status"` // "healthy" or "degraded"
	Uptime    string    `json:"uptime"`
	PoolStats PoolStats `json:"pool_stats"`
	Version   string    `json:"version"`
}

// PoolStats reports the state of the browser session pool.
type PoolStats struct {
	MaxSessions    int `json:"max_sessions"`
	LiveSessions   int `json:"live_sessions"`
	ActiveSessions int `json:"active_sessions"`
}
