package bridge

import (
	"encoding/json"
	"net/http"
	"time"
)

// Envelope is the uniform response shape for /api/ dispatches.
type Envelope struct {
	Success bool   `json:"success"`
	Action  string `json:"action,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Time    int64  `json:"time"`
}

// ActionError carries an HTTP status, a message, and optional extra data
// merged into the envelope data field.
type ActionError struct {
	Status  int
	Message string
	Data    map[string]any
}

func (e *ActionError) Error() string { return e.Message }

func errBadRequest(msg string) *ActionError {
	return &ActionError{Status: http.StatusBadRequest, Message: msg}
}

func errForbidden(msg string) *ActionError {
	return &ActionError{Status: http.StatusForbidden, Message: msg}
}

func errNotFound(msg string) *ActionError {
	return &ActionError{Status: http.StatusNotFound, Message: msg}
}

func errInternal(msg string) *ActionError {
	return &ActionError{Status: http.StatusInternalServerError, Message: msg}
}

func errRateLimited(reason string, retryAfterMs int64) *ActionError {
	return &ActionError{
		Status:  http.StatusTooManyRequests,
		Message: "rate limited",
		Data: map[string]any{
			"reason":       reason,
			"retryAfterMs": retryAfterMs,
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeSuccess(w http.ResponseWriter, action string, data any) {
	writeJSON(w, http.StatusOK, Envelope{
		Success: true,
		Action:  action,
		Data:    data,
		Time:    time.Now().UnixMilli(),
	})
}

func writeActionError(w http.ResponseWriter, action string, aerr *ActionError) {
	env := Envelope{
		Success: false,
		Action:  action,
		Error:   aerr.Message,
		Time:    time.Now().UnixMilli(),
	}
	if len(aerr.Data) > 0 {
		env.Data = aerr.Data
	}
	writeJSON(w, aerr.Status, env)
}
