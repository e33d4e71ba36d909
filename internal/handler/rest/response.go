package rest

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/lostfound/im-realtime-service/internal/domain/model"
	"github.com/lostfound/im-realtime-service/internal/service"
)

type envelope map[string]any

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("RESPONSE_WRITE_FAILED", "err", err)
	}
}

func ok(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{"data": data})
}

func created(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusCreated, envelope{"data": data})
}

func fail(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, envelope{"error": envelope{"code": code, "message": msg}})
}

// classify maps the service error classes onto HTTP.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrMissingToken), errors.Is(err, service.ErrInvalidToken):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest, "validation_failed"
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, model.ErrConflict):
		return http.StatusConflict, "conflict"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		a.logger.Error("REQUEST_FAILED", "method", r.Method, "path", r.URL.Path, "err", err)
		msg = "internal error"
	}
	fail(w, status, code, msg)
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return model.Invalid("body", "is not valid JSON")
	}
	return nil
}

// paging reads limit and skip; zero values let the services apply defaults.
func paging(r *http.Request) (limit, skip int, err error) {
	q := r.URL.Query()
	if limit, err = intParam(q.Get("limit"), "limit"); err != nil {
		return 0, 0, err
	}
	if skip, err = intParam(q.Get("skip"), "skip"); err != nil {
		return 0, 0, err
	}
	return limit, skip, nil
}

func intParam(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, model.Invalid(name, "must be a non-negative integer")
	}
	return n, nil
}
