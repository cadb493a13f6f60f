package mocksim

import (
	"context"
	"math"
	"time"

	"github.com/landingbay/rlbridge/internal/protocol"
)

const (
	startAltitude = 100.0
	startX        = 6.0
	maxFuel       = 100.0
	dt            = 0.1
)

// rocket is a deliberately simple deterministic lander.
type rocket struct {
	state protocol.State
}

func newRocket() *rocket {
	return &rocket{state: protocol.State{
		Altitude: startAltitude,
		X:        startX,
		Velocity: [2]float64{0, -5},
		Fuel:     maxFuel,
		PadX:     0,
	}}
}

// step advances one tick and reports whether the episode ended.
func (r *rocket) step(a protocol.Action) bool {
	s := &r.state
	s.Time += dt
	s.Fuel = math.Max(0, s.Fuel-a.Thrust*5)
	thrust := a.Thrust
	if s.Fuel == 0 {
		thrust = 0
	}
	s.Tilt = a.Angle * 0.2
	s.AngularVelocity = a.Angle * 0.1
	s.Velocity[0] = -a.Angle * 4
	s.Velocity[1] = -20 * (1 - thrust)
	s.X += s.Velocity[0] * dt * 5
	s.Altitude = math.Max(0, s.Altitude+s.Velocity[1])
	return s.Altitude == 0
}

func (r *rocket) result() protocol.Result {
	s := r.state
	distance := math.Abs(s.X - s.PadX)
	return protocol.Result{
		Success:         distance < 10,
		FuelUsed:        maxFuel - s.Fuel,
		LandingAccuracy: 1 / (1 + distance),
	}
}

// simulate runs the built-in protocol loop for p until it disconnects.
func (s *Server) simulate(p *Peer) {
	defer p.Close()

	var (
		r      *rocket
		mode   protocol.Mode
		cancel context.CancelFunc = func() {}
		done   = make(chan struct{})
	)
	close(done)
	defer func() { cancel(); <-done }()

	for {
		data, err := p.Read()
		if err != nil {
			return
		}
		frame, err := protocol.Decode(data)
		if err != nil {
			s.debug("Rejecting frame", "error", err)
			p.Send(protocol.Error{Message: err.Error()})
			continue
		}

		switch f := frame.(type) {
		case protocol.Start:
			cancel()
			<-done
			mode = f.Mode
			r = newRocket()

			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			done = make(chan struct{})
			switch mode {
			case protocol.ModeAuto:
				go func(r *rocket) { defer close(done); s.runAuto(ctx, p, r) }(r)
			case protocol.ModeTrain:
				go func() { defer close(done); s.runTrain(ctx, p) }()
			default:
				close(done)
				p.Send(r.state)
			}

		case protocol.Action:
			if r == nil || mode != protocol.ModeManual {
				continue
			}
			ended := r.step(f)
			p.Send(r.state)
			if ended {
				s.finish(p, r)
				r = nil
			}

		case protocol.Stop:
			cancel()
			<-done
			r = nil
			p.Send(protocol.Stopped{})
		}
	}
}

func (s *Server) runAuto(ctx context.Context, p *Peer, r *rocket) {
	per := startAltitude / float64(s.opts.Steps)
	for i := 0; i < s.opts.Steps; i++ {
		if !s.wait(ctx) {
			return
		}
		// Thrust chosen so each step descends exactly per units.
		thrust := 1 - per/20
		ended := r.step(protocol.NewAction(thrust, 0))
		if i == s.opts.Steps-1 {
			r.state.Altitude = 0
			ended = true
		}
		if err := p.Send(r.state); err != nil {
			return
		}
		if ended {
			s.finish(p, r)
			return
		}
	}
}

func (s *Server) runTrain(ctx context.Context, p *Peer) {
	for ep := 1; ep <= s.opts.TrainEpisodes; ep++ {
		r := newRocket()
		r.step(protocol.NewAction(0.5, 0))
		if !s.wait(ctx) {
			return
		}
		if err := p.Send(r.state); err != nil {
			return
		}
		if err := p.Send(protocol.Training{Episode: ep, Reward: -float64(ep) * 1.5}); err != nil {
			return
		}
	}
	p.Send(protocol.TrainingComplete{Message: "Training simulation complete"})
}

func (s *Server) finish(p *Peer, r *rocket) {
	res := r.result()
	s.RecordEpisode(p.Token, res)
	p.Send(res)
}

func (s *Server) wait(ctx context.Context) bool {
	if s.opts.Interval <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(s.opts.Interval):
		return true
	}
}
