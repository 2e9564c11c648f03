package server

import (
	"net/http"
	"net/http/httputil"
	"time"

	"github.com/developingchet/maintenance-gate/internal/filter"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// gateHandler is the public listener: access log, request id, panic recovery,
// the maintenance filter, then the reverse proxy to the upstream.
func (s *Server) gateHandler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(accessLog(s.log, s.filter.ClientIP))
	r.Use(middleware.Recoverer)
	r.Use(s.filter.Middleware())
	r.Handle("/*", s.reverseProxy())
	return r
}

// reverseProxy forwards to the upstream. Allow-listed requests served during
// maintenance carry the announce header upstream so the application can show
// its own banner.
func (s *Server) reverseProxy() http.Handler {
	announce := s.cfg.AnnounceHeader
	trust := s.cfg.TrustProxy
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(s.upstream)
			if trust {
				if xff := pr.In.Header.Values("X-Forwarded-For"); len(xff) > 0 {
					pr.Out.Header["X-Forwarded-For"] = xff
				}
			}
			pr.SetXForwarded()
			if announce != "" {
				pr.Out.Header.Del(announce)
				if d, ok := filter.DecisionFromContext(pr.In.Context()); ok && d.MaintenanceActive() {
					pr.Out.Header.Set(announce, "1")
				}
			}
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			s.log.Error().Err(err).Str("path", r.URL.Path).
				Str("request_id", middleware.GetReqID(r.Context())).Msg("upstream request failed")
			w.WriteHeader(http.StatusBadGateway)
		},
	}
}

// statusWriter captures status code and bytes written.
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	// Ensure status is set if handler wrote body without calling WriteHeader.
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer for flushing.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// accessLog logs one line per request. clientIP is the filter's resolver so the
// logged address is the one the gate decided on.
func accessLog(log zerolog.Logger, clientIP func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w}

			next.ServeHTTP(ww, r)

			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.status).
				Int("bytes", ww.bytes).
				Dur("duration", time.Since(start)).
				Str("client_ip", clientIP(r)).
				Str("user_agent", r.UserAgent()).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http_request")
		})
	}
}
