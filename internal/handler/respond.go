package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/i18n"
	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/model"
)

// envelope is the body of every API response.
type envelope struct {
	Success bool              `json:"success"`
	Data    any               `json:"data,omitempty"`
	Message string            `json:"message,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("write response", "error", err)
	}
}

func ok(w http.ResponseWriter, status int, data any, message string) {
	writeJSON(w, status, envelope{Success: true, Data: data, Message: message})
}

func validationFailed(w http.ResponseWriter, r *http.Request, fields map[string]string) {
	writeJSON(w, http.StatusBadRequest, envelope{
		Message: i18n.T(r.Context(), "ErrValidation"),
		Errors:  fields,
	})
}

func badJSON(w http.ResponseWriter, r *http.Request, fields map[string]string) {
	writeJSON(w, http.StatusBadRequest, envelope{
		Message: i18n.T(r.Context(), "ErrBadJSON"),
		Errors:  fields,
	})
}

// fail maps an error kind to its HTTP status and localized message.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	var (
		status int
		msg    string
	)
	switch {
	case errors.Is(err, model.ErrValidation):
		status = http.StatusBadRequest
		msg = i18n.Td(ctx, "ErrValidationDetail", map[string]any{"Detail": err.Error()})
	case errors.Is(err, model.ErrNotFound):
		status = http.StatusNotFound
		msg = i18n.T(ctx, "ErrNotFound")
	case errors.Is(err, model.ErrEvaluationFailure):
		status = http.StatusBadGateway
		msg = i18n.T(ctx, "ErrEvaluationFailure")
	case errors.Is(err, model.ErrConflict):
		status = http.StatusConflict
		msg = i18n.T(ctx, "ErrConflict")
	default:
		status = http.StatusInternalServerError
		msg = i18n.T(ctx, "ErrInternal")
	}
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	} else {
		slog.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, envelope{Message: msg})
}
