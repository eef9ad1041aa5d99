// Package handler implements the dashboard's HTTP API. Every response
// uses one envelope: {"success":true, ...} on success and
// {"success":false,"error":...} on failure.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/openperps/perpdesk/internal/domain"
)

// writeSuccess merges fields into a success envelope and writes it. If
// marshaling fails, it falls back to a plain 500.
func writeSuccess(w http.ResponseWriter, status int, fields map[string]any) {
	body := map[string]any{"success": true}
	for k, v := range fields {
		body[k] = v
	}
	data, err := json.Marshal(body)
	if err != nil {
		http.Error(w, `{"success":false,"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a failure envelope.
func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	data, _ := json.Marshal(map[string]any{"success": false, "error": msg})
	w.Write(data)
}

// writeDomainError maps a domain error onto an HTTP status and sends
// the failure envelope with the error text.
func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

// statusFor maps domain sentinels to HTTP status codes. Unrecognized
// errors are internal.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidTrade),
		errors.Is(err, domain.ErrUnsupportedMarket),
		errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrInsufficientPosition),
		errors.Is(err, domain.ErrUserCancelled),
		errors.Is(err, domain.ErrUnsupportedPlatform):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthenticated),
		errors.Is(err, domain.ErrNoCredential),
		errors.Is(err, domain.ErrSessionExpired):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrOperationInProgress):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrSimulationFailed),
		errors.Is(err, domain.ErrSubmissionFailed),
		errors.Is(err, domain.ErrTransactionTimeout):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody decodes a JSON request body into v, rejecting unknown
// fields.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// queryLimit extracts a bounded "limit" query parameter.
// Defaults to def; values above max are clamped.
func queryLimit(r *http.Request, def, max int) int {
	limit := def
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > max {
		limit = max
	}
	return limit
}

// pathParam extracts a named path parameter from the request.
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}
