package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/scrapigen/scrapigen/engine"
	"github.com/scrapigen/scrapigen/models"
)

// Fetch returns a handler for POST /api/v1/fetch.
//
// Flow:
//  1. Parse & validate request.
//  2. Orchestrator.Fetch runs the full pipeline: cache, decision,
//     attempts, retries, escalation.
//  3. Shape the response; errors map onto stable codes and statuses.
func Fetch(o *engine.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.FetchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.FetchResponse{
				Success: false,
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: err.Error(),
				},
			})
			return
		}

		result, err := o.Fetch(c.Request.Context(), req.URL, engine.Options{
			ForceRender: req.ForceRender,
			TTLOverride: time.Duration(req.TTLOverride) * time.Second,
		})
		if err != nil {
			respondFetchError(c, err)
			return
		}

		c.JSON(http.StatusOK, models.FetchResponse{
			Success:      true,
			HTML:         result.HTML,
			RenderMethod: result.RenderMethod,
			Cached:       result.Cached,
			FetchedAt:    result.FetchedAt,
			StatusCode:   result.StatusCode,
			FinalURL:     result.FinalURL,
		})
	}
}

// respondFetchError maps a pipeline error onto an HTTP status and the
// standard error envelope.
func respondFetchError(c *gin.Context, err error) {
	var fe *models.FetchError
	if !errors.As(err, &fe) {
		fe = models.NewFetchError(models.ErrCodeInternal, err.Error(), err)
	}
	c.JSON(statusForCode(fe.Code), models.FetchResponse{
		Success: false,
		Error:   fe.ToDetail(),
	})
}

func statusForCode(code string) int {
	switch code {
	case models.ErrCodeInvalidURL, models.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case models.ErrCodeUnauthorized, models.ErrCodeLLMAuthFailure:
		return http.StatusUnauthorized
	case models.ErrCodeRateLimited, models.ErrCodeLLMRateLimited:
		return http.StatusTooManyRequests
	case models.ErrCodeLLMClarification:
		return http.StatusUnprocessableEntity
	case models.ErrCodePoolExhausted:
		return http.StatusServiceUnavailable
	case models.ErrCodeExhausted, models.ErrCodeTimeout,
		models.ErrCodeNavigation, models.ErrCodeBotChallenge,
		models.ErrCodeBrowserCrash, models.ErrCodeLLMFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
