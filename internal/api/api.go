// Package api exposes the admin operations as a small JSON HTTP API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/developingchet/maintenance-gate/internal/allowlist"
	"github.com/developingchet/maintenance-gate/internal/maintenance"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

const maxBodyBytes = 64 << 10

// Admin is the operation set served by the API; *admin.Service implements it.
type Admin interface {
	Status(ctx context.Context) (maintenance.Status, error)
	Activate(ctx context.Context, minutes int) (maintenance.Status, error)
	Deactivate(ctx context.Context) error
	Reset(ctx context.Context) error
	AddToWhitelist(ctx context.Context, ips []string) error
	RemoveFromWhitelist(ctx context.Context, ips []string) error
	ListWhitelist(ctx context.Context) ([]string, error)
}

type statusResponse struct {
	Active           bool       `json:"active"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	RemainingSeconds int64      `json:"remaining_seconds,omitempty"`
}

type activateRequest struct {
	DurationMinutes int `json:"duration_minutes"`
}

type whitelistRequest struct {
	IPs []string `json:"ips"`
}

type whitelistResponse struct {
	IPs []string `json:"ips"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type validationResponse struct {
	Errors []string `json:"errors"`
}

type handler struct {
	svc Admin
	log zerolog.Logger
}

// NewRouter builds the admin API. Every route requires the bearer token.
func NewRouter(svc Admin, token string, log zerolog.Logger) http.Handler {
	h := &handler{svc: svc, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(BearerAuth(token))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", h.status)
		r.Post("/activate", h.activate)
		r.Post("/deactivate", h.deactivate)
		r.Post("/reset", h.reset)
		r.Get("/whitelist", h.listWhitelist)
		r.Post("/whitelist", h.addWhitelist)
		r.Delete("/whitelist", h.removeWhitelist)
	})
	return r
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Status(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusResponse(st))
}

func (h *handler) activate(w http.ResponseWriter, r *http.Request) {
	var req activateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	st, err := h.svc.Activate(r.Context(), req.DurationMinutes)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusResponse(st))
}

func (h *handler) deactivate(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Deactivate(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Active: false})
}

func (h *handler) reset(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Reset(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) listWhitelist(w http.ResponseWriter, r *http.Request) {
	h.writeWhitelist(w, r)
}

func (h *handler) addWhitelist(w http.ResponseWriter, r *http.Request) {
	var req whitelistRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.IPs) == 0 {
		writeJSON(w, http.StatusUnprocessableEntity, validationResponse{Errors: []string{"ips must not be empty"}})
		return
	}
	if err := h.svc.AddToWhitelist(r.Context(), req.IPs); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeWhitelist(w, r)
}

// removeWhitelist clears the whole list when no ips are given.
func (h *handler) removeWhitelist(w http.ResponseWriter, r *http.Request) {
	var req whitelistRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.svc.RemoveFromWhitelist(r.Context(), req.IPs); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeWhitelist(w, r)
}

func (h *handler) writeWhitelist(w http.ResponseWriter, r *http.Request) {
	ips, err := h.svc.ListWhitelist(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if ips == nil {
		ips = []string{}
	}
	writeJSON(w, http.StatusOK, whitelistResponse{IPs: ips})
}

// fail maps service errors: validation problems are 422, anything else is a
// persistence failure and 500.
func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var ve *allowlist.ValidationError
	var de *maintenance.DurationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusUnprocessableEntity, validationResponse{Errors: ve.Messages()})
	case errors.As(err, &de):
		writeJSON(w, http.StatusUnprocessableEntity, validationResponse{Errors: []string{de.Error()}})
	default:
		h.log.Error().Err(err).Str("path", r.URL.Path).
			Str("request_id", middleware.GetReqID(r.Context())).Msg("admin api request failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func toStatusResponse(st maintenance.Status) statusResponse {
	resp := statusResponse{Active: st.Active}
	if !st.ExpiresAt.IsZero() {
		t := st.ExpiresAt.UTC()
		resp.ExpiresAt = &t
		resp.RemainingSeconds = int64(st.Remaining / time.Second)
	}
	return resp
}

// decodeBody reads an optional JSON body into v. An empty body leaves v at its
// zero value.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
