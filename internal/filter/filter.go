// Package filter gates inbound HTTP requests on the maintenance state.
package filter

import (
	"bytes"
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/developingchet/maintenance-gate/internal/maintenance"
	"github.com/developingchet/maintenance-gate/internal/metrics"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

const fallbackBody = "Service temporarily unavailable for maintenance.\n"

// Evaluator is the part of maintenance.Gate the filter depends on.
type Evaluator interface {
	Evaluate(ctx context.Context, ip string) maintenance.Decision
}

type ctxKey struct{}

// DecisionFromContext returns the gate decision stored by the filter for a
// request that was let through.
func DecisionFromContext(ctx context.Context) (maintenance.Decision, bool) {
	d, ok := ctx.Value(ctxKey{}).(maintenance.Decision)
	return d, ok
}

// Filter substitutes the maintenance page for gated requests.
type Filter struct {
	gate   Evaluator
	opts   Options
	render Renderer
	client *ClientResolver
	log    zerolog.Logger
}

// New validates opts and builds a Filter. A nil render selects the
// html/template renderer configured by opts.Template.
func New(gate Evaluator, opts Options, render Renderer, log zerolog.Logger) (*Filter, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if render == nil {
		r, err := NewTemplateRenderer(opts.Template)
		if err != nil {
			return nil, err
		}
		render = r
	}
	client, err := NewClientResolver(opts.TrustProxy, opts.TrustedProxies)
	if err != nil {
		return nil, err
	}
	return &Filter{gate: gate, opts: opts, render: render, client: client, log: log}, nil
}

// ClientIP resolves the client address of r the way the gate sees it.
func (f *Filter) ClientIP(r *http.Request) string {
	return f.client.ClientIP(r)
}

// Middleware returns the filter as net/http middleware. Blocked requests never
// reach next.
func (f *Filter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := f.decide(r)
			result := "pass"
			if d.Blocked {
				result = "blocked"
			}
			metrics.GateDecisions.WithLabelValues(result, string(d.Reason)).Inc()

			if d.Blocked {
				f.serveMaintenance(w, r)
				return
			}
			if d.MaintenanceActive() && f.opts.AnnounceHeader != "" {
				w.Header().Set(f.opts.AnnounceHeader, "1")
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, d)))
		})
	}
}

func (f *Filter) decide(r *http.Request) maintenance.Decision {
	if f.opts.ExemptPathPrefix != "" && strings.HasPrefix(r.URL.Path, f.opts.ExemptPathPrefix) {
		return maintenance.Decision{Reason: maintenance.ReasonExemptPath}
	}
	return f.gate.Evaluate(r.Context(), f.client.ClientIP(r))
}

func (f *Filter) serveMaintenance(w http.ResponseWriter, r *http.Request) {
	data := PageData{
		StatusCode: f.opts.StatusCode,
		RetryAfter: f.opts.RetryAfter,
		Path:       r.URL.Path,
		RequestID:  middleware.GetReqID(r.Context()),
	}

	h := w.Header()
	if f.opts.RetryAfter > 0 {
		h.Set("Retry-After", strconv.Itoa(f.opts.RetryAfter))
	}
	if f.opts.AnnounceHeader != "" {
		h.Set(f.opts.AnnounceHeader, "1")
	}
	h.Set("Cache-Control", "no-store")

	var buf bytes.Buffer
	if err := f.render.Render(&buf, data); err != nil {
		f.log.Error().Err(err).Str("path", r.URL.Path).Msg("maintenance page render failed, sending plain text")
		h.Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(f.opts.StatusCode)
		_, _ = w.Write([]byte(fallbackBody))
		return
	}
	h.Set("Content-Type", f.opts.ContentType)
	h.Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(f.opts.StatusCode)
	_, _ = w.Write(buf.Bytes())
}
