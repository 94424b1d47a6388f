package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/scrapigen/scrapigen/cleaner"
	"github.com/scrapigen/scrapigen/engine"
	"github.com/scrapigen/scrapigen/llm"
	"github.com/scrapigen/scrapigen/models"
)

// Extract returns a handler for POST /api/v1/extract.
//
// The page goes through the same fetch pipeline as /fetch, then the
// cleaner condenses the DOM into Markdown before the LLM sees it. Keys
// are bring-your-own; nothing is stored.
func Extract(o *engine.Orchestrator, cl *cleaner.Cleaner, llmClient *llm.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ExtractRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.ExtractResponse{
				Success: false,
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: err.Error(),
				},
			})
			return
		}
		req.Defaults()

		result, err := o.Fetch(c.Request.Context(), req.URL, engine.Options{
			ForceRender: req.ForceRender,
		})
		if err != nil {
			respondExtractError(c, err)
			return
		}

		content := cl.Clean(result.HTML, result.FinalURL)

		extracted, err := llmClient.Extract(c.Request.Context(), content, req.Prompt, llm.ExtractParams{
			APIKey:  req.APIKey,
			Model:   req.Model,
			BaseURL: req.BaseURL,
		})
		if err != nil {
			respondExtractError(c, err)
			return
		}

		c.JSON(http.StatusOK, models.ExtractResponse{
			Success:      true,
			Data:         extracted.Data,
			RenderMethod: result.RenderMethod,
			Cached:       result.Cached,
			Usage:        extracted.Usage,
		})
	}
}

func respondExtractError(c *gin.Context, err error) {
	var fe *models.FetchError
	if !errors.As(err, &fe) {
		fe = models.NewFetchError(models.ErrCodeInternal, err.Error(), err)
	}
	c.JSON(statusForCode(fe.Code), models.ExtractResponse{
		Success: false,
		Error:   fe.ToDetail(),
	})
}
