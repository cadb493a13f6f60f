package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
)

// SimulatePath is the backend endpoint that hosts simulation sessions.
const SimulatePath = "/ws/simulate"

// BackendURL derives the simulation endpoint from the configured backend
// base URL, mapping http to ws and https to wss.
func BackendURL(base string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return nil, fmt.Errorf("invalid backend url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("invalid backend url %q: unsupported scheme %q", base, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid backend url %q: missing host", base)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + SimulatePath
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

// withToken returns endpoint with the credential attached as the token
// query parameter.
func withToken(endpoint *url.URL, token string) string {
	u := *endpoint
	q := url.Values{}
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

type dialResult struct {
	conn *websocket.Conn
	err  error
}

// dialBackend opens the backend leg. The result is delivered on the
// returned channel so the caller can upgrade the client leg meanwhile.
func dialBackend(ctx context.Context, dialer *websocket.Dialer, endpoint *url.URL, token string) <-chan dialResult {
	ch := make(chan dialResult, 1)
	go func() {
		conn, resp, err := dialer.DialContext(ctx, withToken(endpoint, token), nil)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				err = fmt.Errorf("backend leg: %w: %v", ErrHandshakeTimeout, err)
			} else if resp != nil {
				err = fmt.Errorf("%w: status %d: %v", ErrDialFailure, resp.StatusCode, err)
			} else {
				err = fmt.Errorf("%w: %v", ErrDialFailure, err)
			}
		}
		ch <- dialResult{conn: conn, err: err}
	}()
	return ch
}

// discardDial closes a backend connection that arrives after the caller
// gave up on it.
func discardDial(ch <-chan dialResult) {
	go func() {
		if res := <-ch; res.conn != nil {
			res.conn.Close()
		}
	}()
}

// defaultDialer mirrors websocket.DefaultDialer with the proxy taken from
// the environment.
func defaultDialer() *websocket.Dialer {
	return &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: websocket.DefaultDialer.HandshakeTimeout,
	}
}
