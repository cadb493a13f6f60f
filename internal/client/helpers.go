package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/landingbay/rlbridge/internal/protocol"
	"github.com/landingbay/rlbridge/internal/session"
)

// EpisodeRun contains everything received during one episode.
type EpisodeRun struct {
	// States contains every state snapshot, in arrival order.
	States []protocol.State

	// Result is set when the episode finished with a result frame.
	Result *protocol.Result

	// Training contains train-mode progress reports.
	Training []protocol.Training

	// TrainingMessage is the training_complete message, if any.
	TrainingMessage string

	// Error contains the backend error message, if any.
	Error string

	// History is the episode history reloaded after the result, newest
	// first. It is nil when no result arrived.
	History []Episode

	// HistoryErr is set when the reload after the result failed. The
	// episode itself is unaffected.
	HistoryErr error
}

// RunEpisode starts an episode in an automatic mode and waits for it to
// finish. An auto episode finishes with a result, a train run with
// training_complete. When a result arrives the episode history is reloaded
// into EpisodeRun.History. The connection is closed when the function returns.
func (c *Client) RunEpisode(ctx context.Context, mode protocol.Mode) (*EpisodeRun, error) {
	if mode == protocol.ModeManual {
		return nil, fmt.Errorf("run episode: %w: manual mode needs a driver", protocol.ErrInvalidMode)
	}

	run := &EpisodeRun{}
	var mu sync.Mutex
	done := make(chan struct{})
	var once sync.Once
	finish := func() { once.Do(func() { close(done) }) }
	refresh := false

	ctrl, err := c.Connect(session.Callbacks{
		OnState: func(s protocol.State) {
			mu.Lock()
			run.States = append(run.States, s)
			mu.Unlock()
		},
		OnResult: func(r protocol.Result) {
			mu.Lock()
			run.Result = &r
			mu.Unlock()
			if mode == protocol.ModeAuto {
				finish()
			}
		},
		OnHistoryRefresh: func() {
			mu.Lock()
			refresh = true
			mu.Unlock()
		},
		OnTraining: func(p protocol.Training) {
			mu.Lock()
			run.Training = append(run.Training, p)
			mu.Unlock()
		},
		OnTrainingComplete: func(msg string) {
			mu.Lock()
			run.TrainingMessage = msg
			mu.Unlock()
			finish()
		},
		OnError: func(err error) {
			mu.Lock()
			run.Error = err.Error()
			mu.Unlock()
			finish()
		},
		OnPhase: func(_, to session.Phase) {
			if to == session.Stopped {
				finish()
			}
		},
	})
	if err != nil {
		return nil, fmt.Errorf("run episode: %w", err)
	}
	defer ctrl.Close()

	if err := ctrl.Start(ctx, mode); err != nil {
		return nil, fmt.Errorf("run episode: %w", err)
	}

	select {
	case <-done:
	case <-ctx.Done():
		ctrl.Stop()
		return snapshot(&mu, run), ctx.Err()
	}

	if err := ctrl.Err(); err != nil {
		return snapshot(&mu, run), fmt.Errorf("run episode: %w", err)
	}

	mu.Lock()
	reload := refresh
	mu.Unlock()
	out := snapshot(&mu, run)
	if reload {
		out.History, out.HistoryErr = c.ListEpisodes(ctx)
	}
	return out, nil
}

func snapshot(mu *sync.Mutex, run *EpisodeRun) *EpisodeRun {
	mu.Lock()
	defer mu.Unlock()
	out := *run
	out.States = append([]protocol.State(nil), run.States...)
	out.Training = append([]protocol.Training(nil), run.Training...)
	return &out
}
