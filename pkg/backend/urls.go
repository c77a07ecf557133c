package backend

import (
	"fmt"
	"net/url"
	"strings"
)

// DeriveWSURL swaps http->ws / https->wss on the REST base URL and appends /ws.
// A non-empty override wins.
func DeriveWSURL(baseURL, override string) (string, error) {
	if o := strings.TrimSpace(override); o != "" {
		return o, nil
	}

	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported base url scheme %q", u.Scheme)
	}

	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}
