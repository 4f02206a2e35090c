package ws

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultSuffixes are the hub paths tried, in order, when none are configured.
var DefaultSuffixes = []string{"/ws", "/hub", "/matchHub"}

// Endpoint is one candidate hub address.
type Endpoint struct {
	URL    string
	Secure bool
}

func (e Endpoint) String() string { return e.URL }

// Candidates derives the ordered list of websocket endpoints from a base
// address. http and https become ws and wss; an existing ws or wss scheme is
// kept. Each suffix is appended in the given order. With plainFallback, a
// secure base also yields plain ws candidates after all secure ones.
func Candidates(base string, suffixes []string, plainFallback bool) ([]Endpoint, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return nil, fmt.Errorf("parse hub address: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("hub address %q has no host", base)
	}

	var secure bool
	switch strings.ToLower(u.Scheme) {
	case "https", "wss":
		secure = true
	case "http", "ws":
		secure = false
	default:
		return nil, fmt.Errorf("hub address %q: unsupported scheme %q", base, u.Scheme)
	}

	if len(suffixes) == 0 {
		suffixes = DefaultSuffixes
	}

	build := func(scheme string) []Endpoint {
		out := make([]Endpoint, 0, len(suffixes))
		for _, suffix := range suffixes {
			c := *u
			c.Scheme = scheme
			c.Path = joinPath(u.Path, suffix)
			c.RawPath = ""
			out = append(out, Endpoint{URL: c.String(), Secure: scheme == "wss"})
		}
		return out
	}

	if !secure {
		return build("ws"), nil
	}
	candidates := build("wss")
	if plainFallback {
		candidates = append(candidates, build("ws")...)
	}
	return candidates, nil
}

func joinPath(base, suffix string) string {
	base = strings.TrimRight(base, "/")
	if suffix == "" {
		return base
	}
	if !strings.HasPrefix(suffix, "/") {
		suffix = "/" + suffix
	}
	return base + suffix
}
