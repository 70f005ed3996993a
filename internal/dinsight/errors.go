package dinsight

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Category buckets a backend failure for operator-facing diagnostics.
type Category string

const (
	// CategoryBaselineEmpty means the baseline referenced by the session was
	// never properly initialized on the backend.
	CategoryBaselineEmpty Category = "baseline_matrix_empty"
	// CategoryDimensionMismatch means the delivered feature vector does not
	// match the baseline's dimension.
	CategoryDimensionMismatch Category = "dimension_mismatch"
	// CategoryBadRequest covers other 4xx rejections.
	CategoryBadRequest Category = "bad_request"
	// CategoryServer covers 5xx responses; these are transient.
	CategoryServer Category = "server"
	// CategoryOther covers everything else.
	CategoryOther Category = "other"
)

// ErrProcessingTimeout is returned when baseline processing does not complete
// within the polling budget.
var ErrProcessingTimeout = errors.New("baseline processing did not complete in time")

// APIError is a non-2xx response from the backend.
type APIError struct {
	Op         string
	StatusCode int
	Status     string
	Category   Category
	Body       string
}

func (e *APIError) Error() string {
	if e == nil {
		return "dinsight api error"
	}
	msg := fmt.Sprintf("dinsight api error: op=%s status=%s category=%s", e.Op, e.Status, e.Category)
	body := strings.TrimSpace(e.Body)
	if body != "" {
		msg += " body=" + body
	}
	return msg
}

// Transient reports whether the failure is worth retrying. Server-side 5xx
// responses are transient; 4xx rejections are not.
func (e *APIError) Transient() bool {
	return e != nil && e.StatusCode >= 500
}

func newAPIError(op string, resp *http.Response, body []byte) *APIError {
	e := &APIError{
		Op:   op,
		Body: string(body),
	}
	if resp != nil {
		e.StatusCode = resp.StatusCode
		e.Status = resp.Status
	}
	e.Category = classify(e.StatusCode, e.Body)
	return e
}

func classify(status int, body string) Category {
	lower := strings.ToLower(body)
	switch {
	case strings.Contains(lower, "baseline matrix empty"):
		return CategoryBaselineEmpty
	case strings.Contains(lower, "dimension mismatch"):
		return CategoryDimensionMismatch
	case status >= 500:
		return CategoryServer
	case status >= 400:
		return CategoryBadRequest
	default:
		return CategoryOther
	}
}
