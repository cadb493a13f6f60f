// Package session implements the client side of a relayed simulation
// session: connect, wait for the relay's readiness signal, drive an episode
// and expose the latest decoded state.
//
// A Controller owns at most one transport at a time. Callbacks are invoked
// from the read loop goroutine (or from Start for phase changes it causes),
// so implementations that touch shared state must synchronize.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/landingbay/rlbridge/internal/config"
	"github.com/landingbay/rlbridge/internal/logging"
	"github.com/landingbay/rlbridge/internal/protocol"
)

const writeWait = 10 * time.Second

// Callbacks receive session events. All are optional.
type Callbacks struct {
	// OnPhase is called after every phase change.
	OnPhase func(from, to Phase)
	// OnState is called for every well-formed state frame.
	OnState func(state protocol.State)
	// OnResult is called when an episode finishes.
	OnResult func(result protocol.Result)
	// OnHistoryRefresh is called exactly once per result, after OnResult.
	OnHistoryRefresh func()
	// OnTraining reports train-mode progress.
	OnTraining func(progress protocol.Training)
	// OnTrainingComplete is called when a train run finishes.
	OnTrainingComplete func(message string)
	// OnError is called when the session enters Errored.
	OnError func(err error)
}

// Options configures a Controller.
type Options struct {
	// URL is the dashboard base URL including the base path, e.g.
	// "http://127.0.0.1:3000/landing-bay-rl/". The relay endpoint is
	// "<URL>api/ws".
	URL string
	// Token is the bearer credential, sent as the CookieName cookie.
	Token string
	// CookieName defaults to "jwt_token".
	CookieName string
	// ConnectTimeout bounds dial plus readiness. Defaults to 10s.
	ConnectTimeout time.Duration
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
	// Callbacks receive session events.
	Callbacks Callbacks
	// Logger defaults to logging.Session().
	Logger *slog.Logger
}

// Controller drives one logical session against the relay.
// It is safe for concurrent use.
type Controller struct {
	endpoint string
	opts     Options
	logger   *slog.Logger

	// startMu serializes Start so only one connect is ever in flight.
	startMu sync.Mutex
	// writeMu serializes frame writes on the connection.
	writeMu sync.Mutex

	mu            sync.Mutex
	phase         Phase
	mode          protocol.Mode
	state         *protocol.State
	result        *protocol.Result
	err           error
	conn          *websocket.Conn
	ready         chan struct{}
	done          chan struct{}
	stopRequested bool
}

// EndpointURL derives the relay WebSocket endpoint from the dashboard base URL.
func EndpointURL(base string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("base URL %q has no host", base)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	u.Path += "api/ws"
	u.RawQuery = ""
	return u.String(), nil
}

// New creates an idle Controller.
func New(opts Options) (*Controller, error) {
	endpoint, err := EndpointURL(opts.URL)
	if err != nil {
		return nil, err
	}
	if opts.CookieName == "" {
		opts.CookieName = config.DefaultCookieName
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = config.DefaultConnectTimeout
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Session()
	}
	return &Controller{
		endpoint: endpoint,
		opts:     opts,
		logger:   logger.With("endpoint", endpoint),
	}, nil
}

// Phase returns the current phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Mode returns the mode of the current episode.
func (c *Controller) Mode() protocol.Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// State returns the latest simulation snapshot.
func (c *Controller) State() (protocol.State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil {
		return protocol.State{}, false
	}
	return *c.state, true
}

// Result returns the outcome of the last finished episode.
func (c *Controller) Result() (protocol.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.result == nil {
		return protocol.Result{}, false
	}
	return *c.result, true
}

// Err returns the error that moved the session to Errored, if any.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Done is closed when the current connection's read loop exits.
// It returns nil while no connection is open.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Start begins an episode in mode. It connects first unless the session is
// already Ready or Active; an Active session is restarted on the same
// connection. After Stopped or Errored a new connection is opened.
func (c *Controller) Start(ctx context.Context, mode protocol.Mode) error {
	if _, err := protocol.ParseMode(string(mode)); err != nil {
		return err
	}

	c.startMu.Lock()
	defer c.startMu.Unlock()

	if !c.Phase().Connected() {
		if err := c.connect(ctx); err != nil {
			return err
		}
	}

	c.mu.Lock()
	if !c.phase.Connected() {
		phase := c.phase
		c.mu.Unlock()
		return fmt.Errorf("start in phase %s: %w", phase, ErrSessionClosed)
	}
	restart := c.phase == Active
	c.mode = mode
	c.result = nil
	from, err := c.transitionLocked(Active, nil)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.notifyPhase(from, Active)

	if restart {
		c.logger.Info("Restarting episode on the existing connection", "mode", mode)
	} else {
		c.logger.Info("Starting episode", "mode", mode)
	}
	return c.send(protocol.Start{Mode: mode})
}

// SendAction sends a manual control input. It is a no-op unless the
// session is Active in manual mode, including when the session ends while
// the action is being sent. Values are clamped to their ranges.
func (c *Controller) SendAction(thrust, angle float64) error {
	c.mu.Lock()
	ok := c.phase == Active && c.mode == protocol.ModeManual
	c.mu.Unlock()
	if !ok {
		return nil
	}
	err := c.send(protocol.NewAction(thrust, angle))
	if errors.Is(err, ErrSessionClosed) {
		c.logger.Debug("Dropping action, session ended", "error", err)
		return nil
	}
	return err
}

// Stop asks the backend to stop. The phase moves to Stopped when the
// backend acknowledges or the connection closes.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if !c.phase.Connected() {
		c.mu.Unlock()
		return nil
	}
	c.stopRequested = true
	c.mu.Unlock()
	return c.send(protocol.Stop{})
}

// Close tears down the connection, if any, and waits for the read loop.
func (c *Controller) Close() error {
	c.mu.Lock()
	conn, done := c.conn, c.done
	if c.phase.Connected() {
		c.stopRequested = true
	}
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	err := conn.Close()
	<-done
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

// connect opens a fresh transport and waits for proxy-connected.
func (c *Controller) connect(ctx context.Context) error {
	c.mu.Lock()
	from, err := c.transitionLocked(Connecting, nil)
	if err == nil {
		// Detach the previous transport so its read loop can no longer
		// touch this session.
		c.conn, c.ready, c.done = nil, nil, nil
		c.state, c.result, c.err = nil, nil, nil
		c.stopRequested = false
	}
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.notifyPhase(from, Connecting)

	ctx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Cookie", (&http.Cookie{Name: c.opts.CookieName, Value: c.opts.Token}).String())
	}

	conn, resp, err := c.opts.Dialer.DialContext(ctx, c.endpoint, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		c.transition(Idle, nil)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s: %v", ErrConnectionTimeout, c.opts.ConnectTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}

	ready := make(chan struct{})
	done := make(chan struct{})
	c.mu.Lock()
	from, err = c.transitionLocked(AwaitingReady, nil)
	if err == nil {
		c.conn, c.ready, c.done = conn, ready, done
	}
	c.mu.Unlock()
	if err != nil {
		conn.Close()
		return err
	}
	c.notifyPhase(from, AwaitingReady)

	go c.readLoop(conn, ready, done)

	select {
	case <-ready:
		return nil
	case <-done:
		select {
		case <-ready:
			return nil
		default:
		}
		c.mu.Lock()
		phase, cause := c.phase, c.err
		c.mu.Unlock()
		if phase == Errored && cause != nil {
			return cause
		}
		return fmt.Errorf("%w: closed before the relay was ready", ErrConnection)
	case <-ctx.Done():
		conn.Close()
		<-done
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: no proxy-connected within %s", ErrConnectionTimeout, c.opts.ConnectTimeout)
		}
		return ctx.Err()
	}
}

// send writes one frame. Writes are serialized.
func (c *Controller) send(f protocol.Frame) error {
	data, err := protocol.Encode(f)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	conn, phase := c.conn, c.phase
	c.mu.Unlock()
	if conn == nil || !phase.Connected() {
		return fmt.Errorf("send %s in phase %s: %w", f.Type(), phase, ErrSessionClosed)
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		conn.Close()
		return fmt.Errorf("send %s: %w: %v", f.Type(), ErrTransport, err)
	}
	c.logger.Debug("Frame sent", "type", f.Type())
	return nil
}

// readLoop is the single reader of conn.
func (c *Controller) readLoop(conn *websocket.Conn, ready, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClosed(conn, err)
			return
		}
		c.dispatch(conn, data, ready)
	}
}

// dispatch decodes one inbound frame and applies it.
func (c *Controller) dispatch(conn *websocket.Conn, data []byte, ready chan struct{}) {
	frame, err := protocol.Decode(data)
	if err != nil {
		var unknown *protocol.UnknownTypeError
		if errors.As(err, &unknown) {
			c.logger.Warn("Discarding frame of unknown type", "type", unknown.Type)
		} else {
			c.logger.Warn("Discarding malformed frame", "error", err)
		}
		return
	}

	c.mu.Lock()
	owned, phase := c.conn == conn, c.phase
	c.mu.Unlock()
	if !owned {
		c.logger.Debug("Ignoring frame from a replaced connection", "type", frame.Type())
		return
	}
	cb := c.opts.Callbacks

	switch f := frame.(type) {
	case protocol.ProxyConnected:
		if phase != AwaitingReady {
			c.violation(f, phase)
			return
		}
		if err := c.transitionFor(conn, Ready, nil); err == nil {
			close(ready)
		}

	case protocol.State:
		if !phase.Connected() {
			c.violation(f, phase)
			return
		}
		if !c.record(conn, func() { c.state = &f }) {
			return
		}
		if cb.OnState != nil {
			cb.OnState(f)
		}

	case protocol.Result:
		if !phase.Connected() {
			c.violation(f, phase)
			return
		}
		if !c.record(conn, func() { c.result = &f }) {
			return
		}
		c.logger.Info("Episode finished", "success", f.Success, "fuel_used", f.FuelUsed,
			"landing_accuracy", f.LandingAccuracy)
		if cb.OnResult != nil {
			cb.OnResult(f)
		}
		if cb.OnHistoryRefresh != nil {
			cb.OnHistoryRefresh()
		}

	case protocol.Training:
		if !phase.Connected() {
			c.violation(f, phase)
			return
		}
		if cb.OnTraining != nil {
			cb.OnTraining(f)
		}

	case protocol.TrainingComplete:
		if !phase.Connected() {
			c.violation(f, phase)
			return
		}
		if cb.OnTrainingComplete != nil {
			cb.OnTrainingComplete(f.Message)
		}

	case protocol.Error:
		berr := &BackendError{Message: f.Message}
		if c.transitionFor(conn, Errored, berr) == nil {
			c.logger.Warn("Backend reported an error", "message", f.Message)
			if cb.OnError != nil {
				cb.OnError(berr)
			}
		}
		conn.Close()

	case protocol.Stopped:
		if !phase.Connected() {
			c.violation(f, phase)
			return
		}
		if c.transitionFor(conn, Stopped, nil) == nil {
			c.logger.Info("Session stopped by backend")
		}
		conn.Close()

	case protocol.Start, protocol.Action, protocol.Stop:
		c.violation(f, phase)
	}
}

// handleClosed settles the phase once the connection is gone.
func (c *Controller) handleClosed(conn *websocket.Conn, readErr error) {
	conn.Close()

	c.mu.Lock()
	owned, phase, stopRequested := c.conn == conn, c.phase, c.stopRequested
	c.mu.Unlock()
	if !owned {
		return
	}

	switch {
	case phase == AwaitingReady:
		c.logger.Warn("Connection closed before the relay was ready", "error", readErr)
		c.transitionFor(conn, Idle, nil)

	case phase.Connected() && stopRequested:
		c.transitionFor(conn, Stopped, nil)

	case phase.Connected():
		err := fmt.Errorf("%w: %v", ErrSessionClosed, readErr)
		var ce *websocket.CloseError
		if !errors.As(readErr, &ce) || ce.Code == websocket.CloseAbnormalClosure {
			err = fmt.Errorf("%w: %v", ErrTransport, readErr)
		}
		if c.transitionFor(conn, Errored, err) == nil {
			c.logger.Warn("Connection lost", "error", readErr)
			if cb := c.opts.Callbacks.OnError; cb != nil {
				cb(err)
			}
		}
	}
}

func (c *Controller) violation(f protocol.Frame, phase Phase) {
	c.logger.Warn("Dropping frame",
		"error", fmt.Errorf("%w: %s in phase %s", ErrProtocolViolation, f.Type(), phase))
}

// transition moves to phase to and notifies OnPhase.
func (c *Controller) transition(to Phase, cause error) error {
	c.mu.Lock()
	from, err := c.transitionLocked(to, cause)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.notifyPhase(from, to)
	return nil
}

// transitionFor is transition for frames and closes observed on conn. It
// fails with errStaleConnection once conn is no longer the current transport.
func (c *Controller) transitionFor(conn *websocket.Conn, to Phase, cause error) error {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return errStaleConnection
	}
	from, err := c.transitionLocked(to, cause)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.notifyPhase(from, to)
	return nil
}

// record applies update under c.mu if conn is still the current transport.
func (c *Controller) record(conn *websocket.Conn, update func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		return false
	}
	update()
	return true
}

// transitionLocked validates and applies a phase change. c.mu must be held.
func (c *Controller) transitionLocked(to Phase, cause error) (Phase, error) {
	from := c.phase
	if !CanTransition(from, to) {
		return from, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	c.phase = to
	if to == Errored {
		c.err = cause
	}
	return from, nil
}

func (c *Controller) notifyPhase(from, to Phase) {
	c.logger.Debug("Phase changed", "from", from, "to", to)
	if cb := c.opts.Callbacks.OnPhase; cb != nil {
		cb(from, to)
	}
}
