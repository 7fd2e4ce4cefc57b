// Package origin decides which browser origins may use the relay.
package origin

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Normalize validates a browser Origin value and returns it as
// scheme://host[:port], lower-cased, with the default port dropped. It also
// returns the host[:port] part for same-host comparisons.
//
// The opaque origin "null" is returned unchanged with an empty host.
func Normalize(raw string) (normalized, host string, ok bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", "", false
	}
	if trimmed == "null" {
		return "null", "", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", false
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" || u.ForceQuery {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}
	host, ok = canonicalHost(u.Host, scheme)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

// Policy is the set of origins allowed to open signaling connections and read
// the HTTP endpoints.
//
// An empty policy allows only same-host origins. "*" allows any origin.
type Policy struct {
	any     bool
	allowed map[string]struct{}
}

// NewPolicy normalizes the configured origins. Entries that are not valid
// origins are rejected.
func NewPolicy(origins []string) (*Policy, error) {
	p := &Policy{allowed: make(map[string]struct{}, len(origins))}
	for _, raw := range origins {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if raw == "*" {
			p.any = true
			continue
		}
		normalized, _, ok := Normalize(raw)
		if !ok {
			return nil, fmt.Errorf("invalid allowed origin %q", raw)
		}
		p.allowed[normalized] = struct{}{}
	}
	return p, nil
}

// Check evaluates the request's Origin header. present is false when the
// header is absent (non-browser clients), in which case allowed is true.
func (p *Policy) Check(r *http.Request) (normalized string, allowed, present bool) {
	raw := strings.TrimSpace(r.Header.Get("Origin"))
	if raw == "" {
		return "", true, false
	}
	normalized, host, ok := Normalize(raw)
	if !ok {
		return "", false, true
	}
	return normalized, p.allows(normalized, host, r.Host), true
}

// CheckOrigin has the signature of websocket.Upgrader.CheckOrigin.
func (p *Policy) CheckOrigin(r *http.Request) bool {
	_, allowed, _ := p.Check(r)
	return allowed
}

func (p *Policy) allows(normalized, originHost, requestHost string) bool {
	if p == nil {
		return sameHost(normalized, originHost, requestHost)
	}
	if p.any {
		return true
	}
	if len(p.allowed) > 0 {
		_, ok := p.allowed[normalized]
		return ok
	}
	return sameHost(normalized, originHost, requestHost)
}

// sameHost compares host:port only. The scheme is ignored because TLS may be
// terminated in front of the relay.
func sameHost(normalized, originHost, requestHost string) bool {
	scheme, _, ok := strings.Cut(normalized, "://")
	if !ok {
		return false
	}
	reqHost, ok := canonicalHost(strings.TrimSpace(requestHost), scheme)
	return ok && reqHost == originHost
}

// canonicalHost lower-cases an authority, validates its port, and drops the
// default port for scheme.
func canonicalHost(authority, scheme string) (string, bool) {
	hostname, rawPort, ok := splitHostPort(authority)
	if !ok {
		return "", false
	}
	hostname = strings.ToLower(hostname)
	if hostname == "" {
		return "", false
	}

	var port uint64
	if rawPort != "" {
		n, err := strconv.ParseUint(rawPort, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		port = n
	}
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}

	host := hostname
	if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	if port != 0 {
		host += ":" + strconv.FormatUint(port, 10)
	}
	return host, true
}

// splitHostPort splits host[:port]. IPv6 literals must be bracketed; the
// returned hostname has no brackets.
func splitHostPort(authority string) (hostname, port string, ok bool) {
	if authority == "" {
		return "", "", false
	}
	if strings.HasPrefix(authority, "[") {
		end := strings.IndexByte(authority, ']')
		if end < 0 {
			return "", "", false
		}
		hostname, rest := authority[1:end], authority[end+1:]
		if rest == "" {
			return hostname, "", true
		}
		port, ok := strings.CutPrefix(rest, ":")
		if !ok || port == "" {
			return "", "", false
		}
		return hostname, port, true
	}

	switch strings.Count(authority, ":") {
	case 0:
		return authority, "", true
	case 1:
		hostname, port, _ := strings.Cut(authority, ":")
		if hostname == "" || port == "" {
			return "", "", false
		}
		return hostname, port, true
	default:
		return "", "", false
	}
}
