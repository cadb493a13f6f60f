package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/landingbay/rlbridge/internal/protocol"
)

// Direction names a forwarding path.
type Direction string

const (
	ClientToBackend Direction = "client->backend"
	BackendToClient Direction = "backend->client"
)

// Session pairs a client leg with a backend leg. The two lifetimes are
// linked: the first pump to stop cancels the session and both legs are
// closed from a single place.
type Session struct {
	ID        string
	ClientIP  string
	StartedAt time.Time

	client  *Leg
	backend *Leg

	ctx    context.Context
	cancel context.CancelCauseFunc
	logger *slog.Logger

	closedBy   atomic.Pointer[Leg]
	upstream   atomic.Int64
	downstream atomic.Int64
}

func newSession(parent context.Context, id, clientIP string, client, backend *Leg, logger *slog.Logger) *Session {
	ctx, cancel := context.WithCancelCause(parent)
	return &Session{
		ID:        id,
		ClientIP:  clientIP,
		StartedAt: time.Now(),
		client:    client,
		backend:   backend,
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
	}
}

// signalReady queues the proxy-connected notice. It must be the first frame
// the client receives, so it is enqueued before any pump starts.
func (s *Session) signalReady() error {
	return s.client.Enqueue(protocol.MustEncode(protocol.ProxyConnected{}))
}

// Stop tears the session down with cause.
func (s *Session) Stop(cause error) {
	s.cancel(cause)
}

// Forwarded returns the number of frames relayed in each direction.
func (s *Session) Forwarded() (upstream, downstream int64) {
	return s.upstream.Load(), s.downstream.Load()
}

// Run starts both pumps and both writers and blocks until the session ends.
// It returns the cause of termination. When a peer closes cleanly, frames
// it sent before closing are still delivered to the other side.
func (s *Session) Run() error {
	var writers, readers sync.WaitGroup
	run := func(wg *sync.WaitGroup, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				s.cancel(err)
			}
		}()
	}

	run(&writers, func() error { return s.client.writePump(s.ctx) })
	run(&writers, func() error { return s.backend.writePump(s.ctx) })
	run(&readers, func() error { return s.pump(s.client, s.backend, ClientToBackend, &s.upstream) })
	run(&readers, func() error { return s.pump(s.backend, s.client, BackendToClient, &s.downstream) })

	<-s.ctx.Done()
	cause := context.Cause(s.ctx)
	writers.Wait()

	if errors.Is(cause, ErrLegClosed) {
		switch s.closedBy.Load() {
		case s.client:
			s.backend.flush()
		case s.backend:
			s.client.flush()
		}
	}

	code := closeCodeFor(cause)
	s.client.Close(code)
	s.backend.Close(code)
	readers.Wait()

	return cause
}

// pump forwards frames from src to dst verbatim until either side fails.
func (s *Session) pump(src, dst *Leg, dir Direction, counter *atomic.Int64) error {
	for {
		data, err := src.ReadFrame()
		if err != nil {
			if errors.Is(err, ErrLegClosed) {
				s.closedBy.CompareAndSwap(nil, src)
			}
			return err
		}
		if s.ctx.Err() != nil {
			return nil
		}
		if err := dst.Enqueue(data); err != nil {
			return err
		}
		counter.Add(1)

		if s.logger.Enabled(s.ctx, slog.LevelDebug) {
			t, _ := protocol.PeekType(data)
			s.logger.Debug("Frame forwarded", "direction", dir, "type", t, "bytes", len(data))
		}
	}
}

// isGraceful reports whether cause is an orderly shutdown.
func isGraceful(cause error) bool {
	return errors.Is(cause, ErrLegClosed) || errors.Is(cause, ErrRelayClosed)
}
