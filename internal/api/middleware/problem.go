package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// writeRFC7807Error writes an RFC 7807 problem+json response from within the
// middleware chain, where the api package's richer ProblemDetail type is not
// importable without a cycle.
func writeRFC7807Error(
	w http.ResponseWriter,
	r *http.Request,
	statusCode int,
	detail,
	correlationID string,
) error {
	var title string

	switch statusCode {
	case http.StatusUnauthorized:
		title = "Unauthorized"
	case http.StatusForbidden:
		title = "Forbidden"
	case http.StatusTooManyRequests:
		title = "Too Many Requests"
	case http.StatusInternalServerError:
		title = "Internal Server Error"
	default:
		title = http.StatusText(statusCode)
	}

	problem := map[string]interface{}{
		"type":           fmt.Sprintf("https://masx.ai/problems/%d", statusCode),
		"title":          title,
		"status":         statusCode,
		"detail":         detail,
		"instance":       r.URL.Path,
		"correlation_id": correlationID,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(problem); err != nil {
		return fmt.Errorf("failed to encode problem detail: %w", err)
	}

	return nil
}
