package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	metaerrors "github.com/devrev/pairdb/metastore/internal/errors"
	"github.com/devrev/pairdb/metastore/internal/middleware"
)

// ErrorResponse represents the standard error response format
type ErrorResponse struct {
	Status    string `json:"status"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// HTTPStatus maps an error to the HTTP status code returned for it
func HTTPStatus(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	switch metaerrors.GetCode(err) {
	case metaerrors.ErrCodeOK:
		return http.StatusOK
	case metaerrors.ErrCodeNotFound:
		return http.StatusNotFound
	case metaerrors.ErrCodeAlreadyExists, metaerrors.ErrCodeConcurrentModification:
		return http.StatusConflict
	case metaerrors.ErrCodeIllegalState, metaerrors.ErrCodeOperationNotAllowed:
		return http.StatusPreconditionFailed
	case metaerrors.ErrCodeInvalidArgument:
		return http.StatusBadRequest
	case metaerrors.ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := HTTPStatus(err)
	errorCode := metaerrors.GetCode(err).String()
	if code == http.StatusGatewayTimeout {
		errorCode = "TIMEOUT"
	}
	h.writeErrorResponse(w, r, code, errorCode, err.Error())
}

func (h *Handlers) writeValidationError(w http.ResponseWriter, r *http.Request, message string) {
	h.writeErrorResponse(w, r, http.StatusBadRequest, metaerrors.ErrCodeInvalidArgument.String(), message)
}

func (h *Handlers) writeErrorResponse(w http.ResponseWriter, r *http.Request, statusCode int, errorCode, message string) {
	requestID := middleware.GetRequestID(r.Context())
	if statusCode >= http.StatusInternalServerError {
		h.logger.Error("HTTP error response",
			zap.Int("status_code", statusCode),
			zap.String("error_code", errorCode),
			zap.String("message", message),
			zap.String("request_id", requestID))
	} else {
		h.logger.Debug("HTTP error response",
			zap.Int("status_code", statusCode),
			zap.String("error_code", errorCode),
			zap.String("request_id", requestID))
	}

	h.writeJSONResponse(w, statusCode, ErrorResponse{
		Status:    "error",
		ErrorCode: errorCode,
		Message:   message,
		RequestID: requestID,
	})
}

func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}
