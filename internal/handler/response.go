package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"companion-auth/internal/model"
	"companion-auth/pkg/apierror"
)

var kindStatus = map[model.ErrorKind]int{
	model.KindInvalidCredentials: http.StatusUnauthorized,
	model.KindAuthRequired:       http.StatusUnauthorized,
	model.KindInvalidToken:       http.StatusUnauthorized,
	model.KindNoRefresh:          http.StatusUnauthorized,
	model.KindBadRefresh:         http.StatusUnauthorized,
	model.KindExpired:            http.StatusUnauthorized,
	model.KindRevoked:            http.StatusUnauthorized,
	model.KindCSRFMismatch:       http.StatusForbidden,
	model.KindEmailInUse:         http.StatusConflict,
	model.KindAlreadyClaimed:     http.StatusConflict,
	model.KindRateLimited:        http.StatusTooManyRequests,
	model.KindInvalidInput:       http.StatusBadRequest,
}

func writeSuccess(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Success: true,
		Data:    data,
	})
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	body := &model.APIError{
		Code:    "INTERNAL_ERROR",
		Message: "Unexpected server error",
	}

	var apiErr *apierror.APIError
	var authErr *model.AuthError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatus
		body.Code = apiErr.Code
		body.Message = apiErr.Message
		body.Details = apiErr.Details
	case errors.As(err, &authErr):
		mapped, ok := kindStatus[authErr.Kind]
		if !ok {
			slog.ErrorContext(r.Context(), "unmapped auth error kind", "kind", string(authErr.Kind))
			break
		}
		status = mapped
		body.Code = strings.ToUpper(string(authErr.Kind))
		body.Message = authErr.Message
		if authErr.Kind == model.KindRateLimited {
			seconds := int64(math.Ceil(authErr.RetryAfter.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			body.RetryAfter = seconds
			w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
		}
	default:
		slog.ErrorContext(r.Context(), "unhandled error in writeError",
			"error", err.Error(),
			"method", r.Method,
			"path", r.URL.Path)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Success: false,
		Error:   body,
	})
}

// decodeJSON reads a single JSON object into dst. Unknown fields are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	defer r.Body.Close()

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return apierror.InvalidJSON()
	}
	return nil
}

const maxBodyBytes = 16 << 10
