// Package logger holds output helpers for the zerolog loggers built in main.
package logger

import (
	"io"
	"regexp"
)

const mask = "[REDACTED]"

// rule replaces every match of re with repl.
type rule struct {
	re   *regexp.Regexp
	repl []byte
}

// keyed masks the value following a key or prefix kept in capture group 1.
func keyed(expr string) rule {
	return rule{re: regexp.MustCompile(expr), repl: []byte("${1}" + mask)}
}

var builtinRules = []rule{
	keyed(`(?i)(admin_token["'\s:=]+)[^"'\s,}]+`),
	keyed(`(?i)((?:redis_)?password["'\s:=]+)[^"'\s,}]+`),
	keyed(`(?i)(Bearer\s+)[A-Za-z0-9\-_\.~+/=]+`),
	keyed(`(?i)(rediss?://[^:@/\s]*:)[^@/\s]+`),
}

// RedactWriter masks secrets in log lines before they reach w: admin tokens,
// redis passwords (as keys or embedded in redis:// URLs), Bearer credentials,
// and any literal secret value handed to NewRedactWriter.
type RedactWriter struct {
	w     io.Writer
	rules []rule
}

// NewRedactWriter wraps w. Non-empty secrets are masked wherever they appear
// verbatim, which catches values echoed back inside error messages.
func NewRedactWriter(w io.Writer, secrets ...string) *RedactWriter {
	rules := append([]rule(nil), builtinRules...)
	for _, s := range secrets {
		if s == "" {
			continue
		}
		rules = append(rules, rule{re: regexp.MustCompile(regexp.QuoteMeta(s)), repl: []byte(mask)})
	}
	return &RedactWriter{w: w, rules: rules}
}

// Write reports len(p) on success so zerolog never sees a short write when
// masking changed the line length.
func (r *RedactWriter) Write(p []byte) (int, error) {
	out := p
	for _, ru := range r.rules {
		out = ru.re.ReplaceAll(out, ru.repl)
	}
	if _, err := r.w.Write(out); err != nil {
		return 0, err
	}
	return len(p), nil
}
