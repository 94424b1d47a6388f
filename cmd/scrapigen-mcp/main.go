// Command scrapigen-mcp exposes the fetch API as MCP tools over stdio,
// so agent runtimes can pull rendered pages without speaking HTTP
// themselves.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// fetchRequest mirrors the ScrapiGen API request model.
type fetchRequest struct {
	URL         string `json:"url"`
	ForceRender bool   `json:"force_render,omitempty"`
}

// fetchResponse mirrors the ScrapiGen API response model.
type fetchResponse struct {
	Success      bool   `json:"success"`
	HTML         string `json:"html"`
	RenderMethod string `json:"render_method"`
	Cached       bool   `json:"cached"`
	StatusCode   int    `json:"status_code"`
	FinalURL     string `json:"final_url"`
	Error        *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// extractRequest mirrors the ScrapiGen extract API request model.
type extractRequest struct {
	URL         string `json:"url"`
	Prompt      string `json:"prompt"`
	ForceRender bool   `json:"force_render,omitempty"`
	APIKey      string `json:"api_key"`
	Model       string `json:"model"`
	BaseURL     string `json:"base_url,omitempty"`
}

// extractResponse mirrors the ScrapiGen extract API response model.
type extractResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func main() {
	apiURL := os.Getenv("SCRAPIGEN_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	apiKey := os.Getenv("SCRAPIGEN_API_KEY")

	s := server.NewMCPServer(
		"scrapigen",
		"0.1.0",
		server.WithToolCapabilities(false),
	)

	fetchPageTool := mcp.NewTool("fetch_page",
		mcp.WithDescription("Fetch a web page and return its HTML. Automatically decides between a plain HTTP fetch and a headless browser render for JavaScript-heavy pages."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The URL of the web page to fetch"),
		),
		mcp.WithBoolean("force_render",
			mcp.Description("Skip the static attempt and render the page in a browser"),
		),
	)
	s.AddTool(fetchPageTool, handleFetchPage(apiURL, apiKey))

	extractDataTool := mcp.NewTool("extract_data",
		mcp.WithDescription("Fetch a web page and extract structured JSON from it according to a natural-language instruction. Requires an OpenAI-compatible API key."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The URL of the web page to extract from"),
		),
		mcp.WithString("prompt",
			mcp.Required(),
			mcp.Description("Natural-language description of the data to extract"),
		),
		mcp.WithString("llm_api_key",
			mcp.Required(),
			mcp.Description("API key for the LLM provider"),
		),
		mcp.WithString("model",
			mcp.Required(),
			mcp.Description("Model name, e.g. gpt-4o-mini"),
		),
		mcp.WithString("base_url",
			mcp.Description("Base URL of an OpenAI-compatible API (default: https://api.openai.com/v1)"),
		),
	)
	s.AddTool(extractDataTool, handleExtractData(apiURL, apiKey))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

// apiPost sends a POST to the ScrapiGen API and returns the body.
func apiPost(ctx context.Context, client *http.Client, apiURL, apiKey, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

func handleFetchPage(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 120 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}

		respBody, err := apiPost(ctx, client, apiURL, apiKey, "/api/v1/fetch", fetchRequest{
			URL:         url,
			ForceRender: request.GetBool("force_render", false),
		})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		var fetchResp fetchResponse
		if err := json.Unmarshal(respBody, &fetchResp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
		}

		if !fetchResp.Success {
			errMsg := "fetch failed"
			if fetchResp.Error != nil {
				errMsg = fmt.Sprintf("[%s] %s", fetchResp.Error.Code, fetchResp.Error.Message)
			}
			return mcp.NewToolResultError(errMsg), nil
		}

		header := fmt.Sprintf("URL: %s\nMethod: %s\nStatus: %d\nCached: %t\n\n",
			fetchResp.FinalURL, fetchResp.RenderMethod, fetchResp.StatusCode, fetchResp.Cached)
		return mcp.NewToolResultText(header + fetchResp.HTML), nil
	}
}

func handleExtractData(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 180 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}
		prompt, err := request.RequireString("prompt")
		if err != nil {
			return mcp.NewToolResultError("prompt is required"), nil
		}
		llmKey, err := request.RequireString("llm_api_key")
		if err != nil {
			return mcp.NewToolResultError("llm_api_key is required"), nil
		}
		model, err := request.RequireString("model")
		if err != nil {
			return mcp.NewToolResultError("model is required"), nil
		}

		respBody, err := apiPost(ctx, client, apiURL, apiKey, "/api/v1/extract", extractRequest{
			URL:         url,
			Prompt:      prompt,
			ForceRender: request.GetBool("force_render", false),
			APIKey:      llmKey,
			Model:       model,
			BaseURL:     request.GetString("base_url", ""),
		})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		var extractResp extractResponse
		if err := json.Unmarshal(respBody, &extractResp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
		}

		if !extractResp.Success {
			errMsg := "extraction failed"
			if extractResp.Error != nil {
				errMsg = fmt.Sprintf("[%s] %s", extractResp.Error.Code, extractResp.Error.Message)
			}
			return mcp.NewToolResultError(errMsg), nil
		}

		return mcp.NewToolResultText(string(extractResp.Data)), nil
	}
}
