package filter

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/developingchet/maintenance-gate/internal/allowlist"
	"github.com/developingchet/maintenance-gate/internal/maintenance"
	"github.com/developingchet/maintenance-gate/internal/testutil"
	"github.com/rs/zerolog"
)

// stubGate returns a fixed decision and records the address it was asked about.
type stubGate struct {
	d     maintenance.Decision
	calls int
	ip    string
}

func (s *stubGate) Evaluate(_ context.Context, ip string) maintenance.Decision {
	s.calls++
	s.ip = ip
	return s.d
}

type failingRenderer struct{}

func (failingRenderer) Render(io.Writer, PageData) error { return errors.New("template exploded") }

// downstream counts invocations and echoes the decision it sees in context.
func downstream(hits *int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*hits++
		if d, ok := DecisionFromContext(r.Context()); ok {
			w.Header().Set("X-Test-Reason", string(d.Reason))
		}
		_, _ = io.WriteString(w, "original body")
	})
}

func newTestFilter(t *testing.T, gate Evaluator, mutate func(*Options)) *Filter {
	t.Helper()
	opts := DefaultOptions()
	if mutate != nil {
		mutate(&opts)
	}
	f, err := New(gate, opts, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return f
}

func TestBlockedRequestGetsMaintenancePage(t *testing.T) {
	gate := &stubGate{d: maintenance.Decision{Blocked: true, Reason: maintenance.ReasonBlocked}}
	f := newTestFilter(t, gate, nil)
	hits := 0
	h := f.Middleware()(downstream(&hits))

	req := httptest.NewRequest(http.MethodGet, "/pages/home", nil)
	req.RemoteAddr = "203.0.113.9:51234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status: got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "3600" {
		t.Errorf("Retry-After: got %q", got)
	}
	if got := rec.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/html") {
		t.Errorf("Content-Type: got %q", got)
	}
	if got := rec.Header().Get("X-Maintenance-Mode"); got != "1" {
		t.Errorf("announce header: got %q", got)
	}
	body := rec.Body.String()
	if strings.Contains(body, "original body") {
		t.Error("gated request must never see the original body")
	}
	if !strings.Contains(body, "scheduled maintenance") || !strings.Contains(body, "1 hour") {
		t.Errorf("unexpected body: %s", body)
	}
	if hits != 0 {
		t.Errorf("downstream invoked %d times for a blocked request", hits)
	}
	if gate.ip != "203.0.113.9" {
		t.Errorf("gate saw ip %q", gate.ip)
	}
}

func TestPassThroughWhenInactive(t *testing.T) {
	gate := &stubGate{d: maintenance.Decision{Reason: maintenance.ReasonInactive}}
	f := newTestFilter(t, gate, nil)
	hits := 0
	rec := httptest.NewRecorder()
	f.Middleware()(downstream(&hits)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK || rec.Body.String() != "original body" {
		t.Errorf("got %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Maintenance-Mode") != "" {
		t.Error("announce header must not be set when inactive")
	}
	if rec.Header().Get("X-Test-Reason") != string(maintenance.ReasonInactive) {
		t.Error("decision should be available in the request context")
	}
}

func TestAllowListedPassCarriesAnnounceHeader(t *testing.T) {
	gate := &stubGate{d: maintenance.Decision{Reason: maintenance.ReasonAllowListed}}
	f := newTestFilter(t, gate, nil)
	hits := 0
	rec := httptest.NewRecorder()
	f.Middleware()(downstream(&hits)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if hits != 1 || rec.Code != http.StatusOK {
		t.Fatalf("hits=%d code=%d", hits, rec.Code)
	}
	if rec.Header().Get("X-Maintenance-Mode") != "1" {
		t.Error("allow-listed response should announce maintenance")
	}
}

func TestExemptPrefixBypassesGate(t *testing.T) {
	gate := &stubGate{d: maintenance.Decision{Blocked: true, Reason: maintenance.ReasonBlocked}}
	f := newTestFilter(t, gate, nil)
	hits := 0
	rec := httptest.NewRecorder()
	f.Middleware()(downstream(&hits)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v2/items", nil))

	if rec.Code != http.StatusOK || hits != 1 {
		t.Errorf("exempt path: code=%d hits=%d", rec.Code, hits)
	}
	if gate.calls != 0 {
		t.Error("gate must not be consulted for exempt paths")
	}
	if rec.Header().Get("X-Test-Reason") != string(maintenance.ReasonExemptPath) {
		t.Errorf("reason: got %q", rec.Header().Get("X-Test-Reason"))
	}
}

func TestExemptPrefixDisabled(t *testing.T) {
	gate := &stubGate{d: maintenance.Decision{Blocked: true, Reason: maintenance.ReasonBlocked}}
	f := newTestFilter(t, gate, func(o *Options) { o.ExemptPathPrefix = "" })
	hits := 0
	rec := httptest.NewRecorder()
	f.Middleware()(downstream(&hits)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v2/items", nil))
	if rec.Code != http.StatusServiceUnavailable || gate.calls != 1 {
		t.Errorf("code=%d gate calls=%d", rec.Code, gate.calls)
	}
}

func TestCustomStatusAndContentType(t *testing.T) {
	gate := &stubGate{d: maintenance.Decision{Blocked: true, Reason: maintenance.ReasonBlocked}}
	f := newTestFilter(t, gate, func(o *Options) {
		o.StatusCode = http.StatusTooManyRequests
		o.ContentType = "application/xhtml+xml"
		o.RetryAfter = 0
		o.AnnounceHeader = ""
	})
	hits := 0
	rec := httptest.NewRecorder()
	f.Middleware()(downstream(&hits)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status: got %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") != "application/xhtml+xml" {
		t.Errorf("Content-Type: got %q", rec.Header().Get("Content-Type"))
	}
	if _, ok := rec.Header()["Retry-After"]; ok {
		t.Error("RetryAfter=0 should omit the header")
	}
	if _, ok := rec.Header()["X-Maintenance-Mode"]; ok {
		t.Error("empty AnnounceHeader should omit the header")
	}
}

func TestRenderFailureFallsBackToPlainText(t *testing.T) {
	gate := &stubGate{d: maintenance.Decision{Blocked: true, Reason: maintenance.ReasonBlocked}}
	f, err := New(gate, DefaultOptions(), failingRenderer{}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	hits := 0
	rec := httptest.NewRecorder()
	f.Middleware()(downstream(&hits)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status: got %d", rec.Code)
	}
	if rec.Body.String() != fallbackBody {
		t.Errorf("body: got %q", rec.Body.String())
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain") {
		t.Errorf("Content-Type: got %q", rec.Header().Get("Content-Type"))
	}
}

func TestNewRejectsBadOptions(t *testing.T) {
	cases := map[string]func(*Options){
		"prefix":       func(o *Options) { o.ExemptPathPrefix = "api/" },
		"status":       func(o *Options) { o.StatusCode = 42 },
		"retry":        func(o *Options) { o.RetryAfter = -1 },
		"content type": func(o *Options) { o.ContentType = "" },
		"header":       func(o *Options) { o.AnnounceHeader = "X Bad" },
		"proxies":      func(o *Options) { o.TrustedProxies = []string{"10.0.0.0/99"} },
		"template":     func(o *Options) { o.Template.Name = "../etc/passwd" },
		"missing":      func(o *Options) { o.Template.Name = "nope" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			opts := DefaultOptions()
			mutate(&opts)
			_, err := New(&stubGate{}, opts, nil, zerolog.Nop())
			var ce *ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("expected *ConfigError, got %v", err)
			}
		})
	}
}

func TestFilterClientIPMatchesGate(t *testing.T) {
	gate := &stubGate{}
	f := newTestFilter(t, gate, func(o *Options) { o.TrustProxy = true })
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:4444"
	req.Header.Set("X-Forwarded-For", "192.168.1.5, 203.0.113.9")
	f.Middleware()(http.NotFoundHandler()).ServeHTTP(httptest.NewRecorder(), req)

	if gate.ip != "203.0.113.9" {
		t.Errorf("gate evaluated %q, want the right-most hop", gate.ip)
	}
	if got := f.ClientIP(req); got != gate.ip {
		t.Errorf("ClientIP %q differs from the gate's %q", got, gate.ip)
	}
}

// End to end through a real Gate: activate, allow one address, block the rest.
func TestFilterWithRealGate(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMockStore()
	state := maintenance.NewState(store, zerolog.Nop())
	allow := allowlist.New(store, zerolog.Nop())
	gate := maintenance.NewGate(state, allow, false, zerolog.Nop())
	f := newTestFilter(t, gate, func(o *Options) {
		o.TrustProxy = true
		o.TrustedProxies = []string{"10.0.0.0/8"}
	})
	hits := 0
	h := f.Middleware()(downstream(&hits))

	if _, err := state.Activate(ctx, 10); err != nil {
		t.Fatal(err)
	}
	if err := allow.Add(ctx, "192.168.1.5"); err != nil {
		t.Fatal(err)
	}

	serve := func(xff string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.2:4444"
		req.Header.Set("X-Forwarded-For", xff)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	if code := serve("192.168.1.5, 10.0.0.1"); code != http.StatusOK {
		t.Errorf("allow-listed client: got %d", code)
	}
	if code := serve("203.0.113.9"); code != http.StatusServiceUnavailable {
		t.Errorf("other client: got %d", code)
	}
	// A client prepending an allow-listed address is still judged by the hop
	// our proxy appended.
	if code := serve("192.168.1.5, 203.0.113.9"); code != http.StatusServiceUnavailable {
		t.Errorf("forged first entry: got %d", code)
	}

	if err := state.Deactivate(ctx); err != nil {
		t.Fatal(err)
	}
	if code := serve("203.0.113.9"); code != http.StatusOK {
		t.Errorf("after deactivate: got %d", code)
	}
}
