package filter

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// hostNoPort returns the host part of "ip:port", "[v6]:port" or "ip".
func hostNoPort(s string) string {
	if s == "" {
		return ""
	}
	if h, _, err := net.SplitHostPort(s); err == nil {
		return h
	}
	return strings.Trim(s, "[]")
}

func parseHop(s string) (netip.Addr, bool) {
	addr, err := netip.ParseAddr(hostNoPort(strings.TrimSpace(s)))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

// forwardedHops flattens every X-Forwarded-For header into one hop list,
// oldest hop first.
func forwardedHops(values []string) []string {
	var hops []string
	for _, v := range values {
		for _, h := range strings.Split(v, ",") {
			if h = strings.TrimSpace(h); h != "" {
				hops = append(hops, h)
			}
		}
	}
	return hops
}

// parseTrustedProxies accepts CIDRs and bare addresses.
func parseTrustedProxies(entries []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				return nil, fmt.Errorf("%q is not a CIDR", e)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(e)
		if err != nil {
			return nil, fmt.Errorf("%q is not an IP address", e)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// ClientResolver finds the address a request originated from.
//
// Without proxy trust it is always the TCP peer. With proxy trust the
// X-Forwarded-For chain is walked from the right, the end written by our own
// proxies, and the first hop that is not a trusted proxy wins. When no proxy
// ranges are configured only the immediate peer counts as trusted, so the
// right-most entry is used. Left-most entries are client-supplied and never
// consulted past an untrusted hop.
type ClientResolver struct {
	trustProxy bool
	proxies    []netip.Prefix
}

// NewClientResolver builds a resolver. trusted holds CIDRs or addresses of the
// reverse proxies in front of the gate.
func NewClientResolver(trustProxy bool, trusted []string) (*ClientResolver, error) {
	proxies, err := parseTrustedProxies(trusted)
	if err != nil {
		return nil, &ConfigError{Field: "trusted proxies", Msg: err.Error()}
	}
	return &ClientResolver{trustProxy: trustProxy, proxies: proxies}, nil
}

func (c *ClientResolver) trusted(addr netip.Addr, peer bool) bool {
	if len(c.proxies) == 0 {
		return peer
	}
	for _, p := range c.proxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP resolves the client address of r.
func (c *ClientResolver) ClientIP(r *http.Request) string {
	remote := hostNoPort(r.RemoteAddr)
	if !c.trustProxy {
		return remote
	}
	peer, ok := parseHop(remote)
	if !ok || !c.trusted(peer, true) {
		return remote
	}

	hops := forwardedHops(r.Header.Values("X-Forwarded-For"))
	if len(hops) == 0 {
		// Single-value headers that a proxy overwrites rather than appends to.
		for _, h := range []string{"X-Real-IP", "CF-Connecting-IP"} {
			if addr, ok := parseHop(r.Header.Get(h)); ok {
				return addr.String()
			}
		}
		return peer.String()
	}

	client := peer
	for i := len(hops) - 1; i >= 0; i-- {
		addr, ok := parseHop(hops[i])
		if !ok {
			break
		}
		client = addr
		if !c.trusted(addr, false) {
			break
		}
	}
	return client.String()
}
