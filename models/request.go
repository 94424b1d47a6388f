package models

// FetchRequest is the payload for POST /api/v1/fetch.
type FetchRequest struct {
	// URL is the target page to fetch. Required.
	URL string `json:"url" binding:"required,url"`

	// ForceRender skips the static attempt and goes straight to a
	// browser render, regardless of what the decision engine would pick.
	ForceRender bool `json:"force_render,omitempty"`

	// TTLOverride overrides the configured cache TTL for this result,
	// in seconds. Zero means use the engine default.
	TTLOverride int `json:"ttl_override,omitempty" binding:"omitempty,min=1"`
}

// ExtractRequest is the payload for POST /api/v1/extract.
// The page is fetched through the decision engine, cleaned, and handed to
// the LLM together with the natural-language prompt.
type ExtractRequest struct {
	// URL is the target page. Required.
	URL string `json:"url" binding:"required,url"`

	// Prompt is the natural-language extraction instruction. Required.
	Prompt string `json:"prompt" binding:"required"`

	// ForceRender skips the static attempt (see FetchRequest).
	ForceRender bool `json:"force_render,omitempty"`

	// LLM connection parameters (BYOK).
	APIKey  string `json:"api_key" binding:"required"`
	Model   string `json:"model" binding:"required"`
	BaseURL string `json:"base_url,omitempty" binding:"omitempty,url"`
}

// Defaults applies default values to unset fields.
func (r *ExtractRequest) Defaults() {
	if r.BaseURL == "" {
		r.BaseURL = "https://api.openai.com/v1"
	}
}
