package gateway

import (
	"time"

	"github.com/google/uuid"

	gwerrors "vita/internal/errors"
)

const (
	minPriority     = 1
	maxPriority     = 10
	defaultPriority = 5
)

// Request is one tool invocation on behalf of a caller. Ephemeral: it is
// not retained beyond the statistics and session updates it causes.
type Request struct {
	Tool        string         `json:"tool"`
	Params      map[string]any `json:"params"`
	CallerID    string         `json:"caller_id"`
	SessionID   string         `json:"session_id,omitempty"`
	RequestID   string         `json:"request_id,omitempty"`
	Priority    int            `json:"priority,omitempty"` // informational, 1-10
	SubmittedAt time.Time      `json:"submitted_at,omitempty"`
}

// Result is the structured outcome of a dispatch attempt. Failures travel
// inside the result, never as a raised error, so a handler fault can never
// escape the gateway.
type Result struct {
	Success     bool           `json:"success"`
	Payload     any            `json:"payload,omitempty"`
	Error       string         `json:"error,omitempty"`
	ErrorCode   gwerrors.Code  `json:"error_code,omitempty"`
	ErrorDetail map[string]any `json:"error_detail,omitempty"`
	Duration    time.Duration  `json:"duration"`
	CompletedAt time.Time      `json:"completed_at"`
	RequestID   string         `json:"request_id"`
	SessionID   string         `json:"session_id"`
	CallerID    string         `json:"caller_id"`
}

// normalize fills generated ids and clamps the informational priority.
func normalize(req Request) Request {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	if req.CallerID == "" {
		req.CallerID = "anonymous"
	}
	if req.Priority < minPriority || req.Priority > maxPriority {
		req.Priority = defaultPriority
	}
	if req.SubmittedAt.IsZero() {
		req.SubmittedAt = time.Now()
	}
	return req
}
