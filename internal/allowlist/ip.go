package allowlist

import (
	"encoding/hex"
	"fmt"
	"net"
	"strings"
)

// Normalize parses a single IPv4 or IPv6 literal and returns its canonical text form.
// IPv4-mapped IPv6 (e.g. ::ffff:1.2.3.4) is folded onto IPv4. CIDRs and zoned
// addresses are rejected.
func Normalize(value string) (string, error) {
	ip, err := parse(value)
	if err != nil {
		return "", err
	}
	return ip.String(), nil
}

// IsIPv6 returns true if value is a valid IPv6 literal that is not IPv4-mapped.
func IsIPv6(value string) bool {
	ip, err := parse(value)
	return err == nil && len(ip) == net.IPv6len
}

// Encode returns the identifier-safe form of an IP literal: lower-case hex of the
// address bytes, 8 digits for IPv4 and 32 for IPv6. Distinct addresses always
// produce distinct identifiers.
func Encode(value string) (string, error) {
	ip, err := parse(value)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(ip), nil
}

// Decode reverses Encode, returning the normalized address.
func Decode(id string) (string, error) {
	if len(id) != 2*net.IPv4len && len(id) != 2*net.IPv6len {
		return "", fmt.Errorf("invalid identifier %q: want %d or %d hex digits", id, 2*net.IPv4len, 2*net.IPv6len)
	}
	if strings.ToLower(id) != id {
		return "", fmt.Errorf("invalid identifier %q: not lower-case hex", id)
	}
	raw, err := hex.DecodeString(id)
	if err != nil {
		return "", fmt.Errorf("invalid identifier %q: %w", id, err)
	}
	ip := net.IP(raw)
	// A 16-byte IPv4-mapped value is never produced by Encode; accepting it would
	// give two identifiers for one address.
	if len(ip) == net.IPv6len && ip.To4() != nil {
		return "", fmt.Errorf("invalid identifier %q: IPv4-mapped form", id)
	}
	return ip.String(), nil
}

// parse returns the address as 4 bytes for IPv4 (including IPv4-mapped) or 16 bytes for IPv6.
func parse(value string) (net.IP, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("empty IP address")
	}
	if strings.ContainsAny(value, "/%") {
		return nil, fmt.Errorf("invalid IP address %q", value)
	}
	ip := net.ParseIP(value)
	if ip == nil {
		return nil, fmt.Errorf("invalid IP address %q", value)
	}
	if ip4 := ip.To4(); ip4 != nil {
		return ip4, nil
	}
	return ip.To16(), nil
}
