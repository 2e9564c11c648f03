package allowlist

import (
	"fmt"
	"strings"
)

// ValidationError lists every rejected entry of a batch. A batch that fails
// validation is never applied.
type ValidationError struct {
	Invalid []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Messages(), "; ")
}

// Messages returns one human-readable line per invalid entry.
func (e *ValidationError) Messages() []string {
	msgs := make([]string, len(e.Invalid))
	for i, ip := range e.Invalid {
		msgs[i] = fmt.Sprintf("%s is not a valid IP address.", ip)
	}
	return msgs
}

// Validate normalizes every entry of ips, reporting all invalid ones at once.
// Duplicates (after normalization) are collapsed, first occurrence wins.
func Validate(ips []string) ([]string, error) {
	var invalid []string
	seen := make(map[string]struct{}, len(ips))
	out := make([]string, 0, len(ips))
	for _, raw := range ips {
		norm, err := Normalize(raw)
		if err != nil {
			invalid = append(invalid, raw)
			continue
		}
		if _, dup := seen[norm]; dup {
			continue
		}
		seen[norm] = struct{}{}
		out = append(out, norm)
	}
	if len(invalid) > 0 {
		return nil, &ValidationError{Invalid: invalid}
	}
	return out, nil
}

// SplitCSV splits a comma separated list of addresses, dropping blanks.
func SplitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
