package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/event-booking/internal/domain"
	"github.com/robertarktes/event-booking/internal/idempotency"
	"github.com/robertarktes/event-booking/internal/observability"
)

const (
	maxBodyBytes = 1 << 20
	defaultLimit = 20
	maxLimit     = 100
)

var nopLogger = observability.NewNopLogger()

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type listBody[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

var statusByKind = map[string]int{
	"not_found":           http.StatusNotFound,
	"forbidden":           http.StatusForbidden,
	"invalid_state":       http.StatusConflict,
	"capacity_exceeded":   http.StatusConflict,
	"invalid_input":       http.StatusBadRequest,
	"unauthorized":        http.StatusUnauthorized,
	"conflict":            http.StatusConflict,
	"transaction_failure": http.StatusServiceUnavailable,
}

// writeError maps err onto a status code and the {"error": {...}} body.
// Internal errors are logged and their message is not exposed.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, idempotency.ErrInFlight) {
		writeJSON(w, http.StatusConflict, errorBody{errorDetail{Code: "request_in_progress", Message: err.Error()}})
		return
	}

	kind := domain.Kind(err)
	status, ok := statusByKind[kind]
	msg := err.Error()
	if !ok {
		status = http.StatusInternalServerError
		msg = "internal server error"
		observability.LoggerFromContext(r.Context(), nopLogger).WithError(err).Error("request failed")
	}
	if domain.IsRetryable(err) {
		w.Header().Set("Retry-After", "1")
		observability.LoggerFromContext(r.Context(), nopLogger).WithError(err).Warn("transaction failed")
	}
	writeJSON(w, status, errorBody{errorDetail{Code: kind, Message: msg}})
}

func badRequest(w http.ResponseWriter, r *http.Request, format string, args ...any) {
	writeError(w, r, errors.Wrapf(domain.ErrInvalidInput, format, args...))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.Wrapf(domain.ErrInvalidInput, "invalid request body: %v", err)
	}
	return nil
}

func parseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errors.Wrapf(domain.ErrInvalidInput, "invalid id %q", raw)
	}
	return id, nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.Wrapf(domain.ErrInvalidInput, "%s must be a non-negative integer", name)
	}
	return n, nil
}

func pageFrom(r *http.Request) (domain.Page, error) {
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		return domain.Page{}, err
	}
	limit, err := queryInt(r, "limit", defaultLimit)
	if err != nil {
		return domain.Page{}, err
	}
	if limit == 0 || limit > maxLimit {
		limit = maxLimit
	}
	return domain.Page{Offset: offset, Limit: limit}, nil
}
