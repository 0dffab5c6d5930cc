package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/garnizeh/taskgate/internal/apperr"
	"github.com/garnizeh/taskgate/internal/models"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("encode response", slog.Any("err", err))
	}
}

type errorResponse struct {
	Error        string `json:"error"`
	Message      string `json:"message,omitempty"`
	RetryAfterMS *int64 `json:"retry_after_ms,omitempty"`
}

// statusFor maps an error kind to its HTTP status.
func statusFor(k apperr.Kind) int {
	switch k {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindAdmissionDenied:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindIntegrity:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// writeError renders err as the JSON error body. Unclassified errors are
// logged and hidden behind a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := apperr.As(err)
	if !ok {
		logger.Error("request failed",
			slog.String("request_id", RequestID(r.Context())),
			slog.String("path", r.URL.Path),
			slog.Any("err", err))
		writeJSON(w, errorResponse{Error: "internal", Message: "internal server error"}, http.StatusInternalServerError)
		return
	}

	body := errorResponse{Error: e.Code, Message: e.Message}
	if e.RetryAfter > 0 {
		ms := e.RetryAfter.Milliseconds()
		body.RetryAfterMS = &ms
		w.Header().Set("Retry-After", strconv.FormatInt(int64(math.Ceil(e.RetryAfter.Seconds())), 10))
	}
	if e.Kind == apperr.KindIntegrity {
		logger.Error("integrity error",
			slog.String("request_id", RequestID(r.Context())),
			slog.String("path", r.URL.Path),
			slog.Any("err", err))
	}
	writeJSON(w, body, statusFor(e.Kind))
}

// decodeJSON reads a bounded JSON body into v. An empty body leaves v as is.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return apperr.Validation("invalid_body", "invalid request body: %v", err)
	}
	return nil
}

// pathID parses a positive integer route variable.
func pathID(r *http.Request, name string) (int64, error) {
	raw := mux.Vars(r)[name]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("invalid_id", "invalid %s %q", name, raw)
	}
	return id, nil
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Validation("invalid_query", "%s must be an integer", name)
	}
	return v, nil
}

func mustActor(w http.ResponseWriter, r *http.Request) (models.Actor, bool) {
	a, ok := ActorFrom(r.Context())
	if !ok {
		writeJSON(w, errorResponse{Error: "unauthorized", Message: fmt.Sprintf("no caller identity on %s", r.URL.Path)}, http.StatusUnauthorized)
	}
	return a, ok
}
