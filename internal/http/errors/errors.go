// Package errors writes JSON responses and maps application errors onto them.
package errors

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/lisbetwade-design/ReviuNew/internal/apperr"
	"github.com/lisbetwade-design/ReviuNew/internal/logging"
)

type errorBody struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// Write logs err and sends its status, message, and details as JSON.
func Write(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.Status(err)
	logger := logging.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.Int("status", status), zap.Error(err))
	} else {
		logger.Warn("request rejected", zap.Int("status", status), zap.Error(err))
	}
	JSON(w, status, errorBody{Error: apperr.Message(err), Details: apperr.Details(err)})
}

// BadRequest reports malformed input with a fixed client message.
func BadRequest(w http.ResponseWriter, r *http.Request, err error, clientMessage string) {
	logging.FromContext(r.Context()).Warn("bad request", zap.Error(err))
	JSON(w, http.StatusBadRequest, errorBody{Error: clientMessage})
}

// LogError records err without writing a response.
func LogError(r *http.Request, message string, err error) {
	logging.FromContext(r.Context()).Error(message, zap.Error(err))
}

// JSON encodes v with status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
