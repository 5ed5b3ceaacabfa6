package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kailas-cloud/tenderlens/internal/domain"
)

// classify maps an HTTP status to a provider error class.
// 408, 409, 425, 429 and 5xx are worth retrying, everything else is not.
func classify(status int) error {
	switch {
	case status == http.StatusRequestTimeout,
		status == http.StatusConflict,
		status == http.StatusTooEarly,
		status == http.StatusTooManyRequests,
		status >= http.StatusInternalServerError:
		return domain.ErrTransientProvider
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.ErrConfiguration
	default:
		return domain.ErrTerminalProvider
	}
}

// parseAPIError extracts a human-readable error from the API response and tags it with its class.
func parseAPIError(ctx context.Context, kind string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		detail := extractDetail(reqErr.Body)
		if detail == "" {
			detail = string(reqErr.Body)
		}
		return fmt.Errorf("%s API error %d: %s: %w", kind, reqErr.HTTPStatusCode, detail, classify(reqErr.HTTPStatusCode))
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s API error %d: %s: %w", kind, apiErr.HTTPStatusCode, apiErr.Message, classify(apiErr.HTTPStatusCode))
	}

	// Нет HTTP-статуса: сеть, DNS, таймаут клиента.
	return fmt.Errorf("%s request failed: %v: %w", kind, err, domain.ErrTransientProvider)
}

// extractDetail extracts the "detail" field from a JSON error body (Nebius error format).
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return ""
}
