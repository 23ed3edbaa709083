package freight_api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BarnabyWild/logistack-sub000/internal/apperr"
	"github.com/BarnabyWild/logistack-sub000/internal/auth"
	"github.com/BarnabyWild/logistack-sub000/internal/models"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind       apperr.Kind        `json:"kind"`
	Message    string             `json:"message"`
	Violations []apperr.Violation `json:"violations,omitempty"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response", "method", r.Method, "path", r.URL.Path, "error", err.Error())
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	ae := apperr.As(err)
	if ae.Kind == apperr.KindInternal {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err.Error())
	}
	writeJSON(w, r, apperr.HTTPStatus(ae.Kind), errorBody{Error: errorDetail{
		Kind:       ae.Kind,
		Message:    ae.PublicMessage(),
		Violations: ae.Violations,
	}})
}

func decodeJSON(r *http.Request, dst any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
	if err == io.EOF {
		return apperr.Validation("body", "request body is required")
	}
	if err != nil {
		return apperr.Validation("body", "malformed JSON: %s", err.Error())
	}
	return nil
}

// decodeOptionalJSON leaves dst untouched when the body is empty.
func decodeOptionalJSON(r *http.Request, dst any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return apperr.Validation("body", "malformed JSON: %s", err.Error())
	}
	return nil
}

// actor is set by requireActor for every route that calls this.
func actor(r *http.Request) models.Actor {
	a, _ := auth.ActorFrom(r.Context())
	return a
}

// parseDate accepts YYYY-MM-DD or RFC 3339 and returns midnight UTC of the day.
func parseDate(field, s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, apperr.Validation(field, "must be a date (YYYY-MM-DD or RFC 3339)")
	}
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC), nil
}

func optionalDate(field, s string) (*time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	t, err := parseDate(field, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperr.Validation(name, "must be a non-negative integer")
	}
	return n, nil
}
