package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/coursecompass/internal/recommend"
)

type recommendHandlers struct {
	service  *recommend.Service
	reporter *recommend.Reporter
}

// RecommendRequest is the POST /recommend body.
type RecommendRequest struct {
	Prompt         string `json:"prompt"`
	MaxSuggestions *int   `json:"maxSuggestions"`
}

// RecommendResponse is the successful recommendation payload.
type RecommendResponse struct {
	Success          bool                      `json:"success"`
	Recommendations  []recommend.Recommendation `json:"recommendations"`
	TokensUsed       int                       `json:"tokensUsed"`
	TotalSuggestions int                       `json:"totalSuggestions"`
	UsageInfo        *recommend.UsageInfo      `json:"usageInfo"`
	ProcessingTimeMs int64                     `json:"processingTimeMs"`
}

// ErrorResponse is the failure payload: a stable machine-readable reason
// plus a human message. RawResponse appears only on model parse failures.
type ErrorResponse struct {
	Message     string `json:"message"`
	Reason      string `json:"reason,omitempty"`
	RawResponse string `json:"rawResponse,omitempty"`
	TotalCalls  int    `json:"totalCalls,omitempty"`
	Limit       int    `json:"limit,omitempty"`
}

func (h *recommendHandlers) recommend(c echo.Context) error {
	var body RecommendRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request body",
			Reason:  string(recommend.ReasonInvalidInput),
		})
	}

	req := recommend.Request{
		Prompt:        body.Prompt,
		CallerAddress: c.RealIP(),
	}
	if body.MaxSuggestions != nil {
		req.MaxSuggestions = *body.MaxSuggestions
		req.CountProvided = true
	}
	if identity, ok := CallerIdentity(c); ok {
		req.CallerID = identity.UserID
	}

	result, err := h.service.Recommend(c.Request().Context(), req)
	if err != nil {
		return writePipelineError(c, err)
	}

	return c.JSON(http.StatusOK, RecommendResponse{
		Success:          true,
		Recommendations:  result.Recommendations,
		TokensUsed:       result.TokensUsed,
		TotalSuggestions: len(result.Recommendations),
		UsageInfo:        result.Usage,
		ProcessingTimeMs: result.ProcessingTime.Milliseconds(),
	})
}

func (h *recommendHandlers) stats(c echo.Context) error {
	identity, ok := CallerIdentity(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "Authentication required"})
	}

	stats, recent, err := h.reporter.Report(c.Request().Context(), identity.UserID)
	if err != nil {
		log.Error().Err(err).Str("caller_id", identity.UserID).Msg("Failed to build usage statistics")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Message: "Server error",
			Reason:  string(recommend.ReasonInternal),
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":    true,
		"stats":      stats,
		"recentLogs": recent,
	})
}

// writePipelineError maps a pipeline failure onto an HTTP response.
func writePipelineError(c echo.Context, err error) error {
	var derr *recommend.Error
	if !errors.As(err, &derr) {
		log.Error().Err(err).Msg("Unclassified recommendation failure")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Message: "Server error",
			Reason:  string(recommend.ReasonInternal),
		})
	}

	resp := ErrorResponse{
		Message: derr.Message,
		Reason:  string(derr.Reason),
	}
	// Raw model output aids debugging on parse failures; it is never echoed
	// for auth or configuration errors
	if derr.Reason == recommend.ReasonParseFailed {
		resp.RawResponse = derr.RawResponse
	}
	if derr.Usage != nil {
		resp.TotalCalls = derr.Usage.TotalCalls
		resp.Limit = derr.Usage.Limit
	}

	return c.JSON(derr.HTTPStatus(), resp)
}
