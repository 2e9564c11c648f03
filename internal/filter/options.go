package filter

import (
	"fmt"
	"mime"
	"net/http"
	"strings"
)

// ConfigError reports an invalid filter or template setting.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("maintenance filter: invalid %s: %s", e.Field, e.Msg)
}

// Options configure the request filter.
type Options struct {
	// ExemptPathPrefix bypasses gating for matching paths. Empty disables it.
	ExemptPathPrefix string
	StatusCode       int
	// RetryAfter is sent verbatim in seconds on every maintenance response,
	// independent of the flag's actual expiry. 0 omits the header.
	RetryAfter  int
	ContentType string
	Template    TemplateOptions
	// TrustProxy resolves the client address from forwarding headers.
	TrustProxy bool
	// TrustedProxies lists CIDRs or addresses of the proxy tier. Hops inside
	// these ranges are skipped when walking X-Forwarded-For. Empty trusts
	// only the immediate peer.
	TrustedProxies []string
	// AnnounceHeader is set on responses served while maintenance is active
	// to allow-listed clients. Empty disables it.
	AnnounceHeader string
}

// DefaultOptions returns the stock filter configuration.
func DefaultOptions() Options {
	return Options{
		ExemptPathPrefix: "/api/",
		StatusCode:       http.StatusServiceUnavailable,
		RetryAfter:       3600,
		ContentType:      "text/html; charset=utf-8",
		Template:         DefaultTemplateOptions(),
		AnnounceHeader:   "X-Maintenance-Mode",
	}
}

// Validate checks every option and returns the first problem as a *ConfigError.
func (o Options) Validate() error {
	if o.ExemptPathPrefix != "" && !strings.HasPrefix(o.ExemptPathPrefix, "/") {
		return &ConfigError{Field: "exempt path prefix", Msg: fmt.Sprintf("%q must start with /", o.ExemptPathPrefix)}
	}
	if o.StatusCode < 100 || o.StatusCode > 599 {
		return &ConfigError{Field: "status code", Msg: fmt.Sprintf("%d is not an HTTP status code", o.StatusCode)}
	}
	if o.RetryAfter < 0 {
		return &ConfigError{Field: "retry after", Msg: fmt.Sprintf("%d must not be negative", o.RetryAfter)}
	}
	if _, _, err := mime.ParseMediaType(o.ContentType); err != nil {
		return &ConfigError{Field: "content type", Msg: fmt.Sprintf("%q: %v", o.ContentType, err)}
	}
	if _, err := parseTrustedProxies(o.TrustedProxies); err != nil {
		return &ConfigError{Field: "trusted proxies", Msg: err.Error()}
	}
	if o.AnnounceHeader != "" && strings.ContainsAny(o.AnnounceHeader, " \t\r\n:") {
		return &ConfigError{Field: "announce header", Msg: fmt.Sprintf("%q is not a valid header name", o.AnnounceHeader)}
	}
	return nil
}
