package web

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/landingbay/rlbridge/internal/relay"
)

// newBackendProxy forwards {prefix}{path} to {backend}/{path}. The
// credential cookie is turned into an Authorization: Bearer header and
// cookies are not forwarded.
func newBackendProxy(backendURL, prefix, cookieName string, logger *slog.Logger) (http.Handler, error) {
	target, err := url.Parse(backendURL)
	if err != nil {
		return nil, fmt.Errorf("parse backend URL: %w", err)
	}
	switch target.Scheme {
	case "http", "https":
	case "ws":
		target.Scheme = "http"
	case "wss":
		target.Scheme = "https"
	default:
		return nil, fmt.Errorf("unsupported backend URL scheme %q", target.Scheme)
	}
	if target.Host == "" {
		return nil, fmt.Errorf("backend URL %q has no host", backendURL)
	}
	target.RawQuery, target.Fragment = "", ""

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			rest := strings.TrimPrefix(pr.In.URL.Path, prefix)
			pr.Out.URL.Path = "/" + rest
			pr.Out.URL.RawPath = ""
			pr.SetURL(target)
			pr.SetXForwarded()

			pr.Out.Header.Del("Cookie")
			pr.Out.Header.Del("Authorization")
			if token, err := relay.Credential(pr.In, cookieName); err == nil {
				pr.Out.Header.Set("Authorization", "Bearer "+token)
			}
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Warn("Backend request failed", "path", r.URL.Path, "error", err)
			writeErrorJSON(w, http.StatusBadGateway, "Backend unavailable")
		},
	}, nil
}
