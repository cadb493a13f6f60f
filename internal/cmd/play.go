package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/landingbay/rlbridge/internal/client"
	"github.com/landingbay/rlbridge/internal/protocol"
	"github.com/landingbay/rlbridge/internal/session"
)

var (
	playMode    string
	playURL     string
	playToken   string
	playTimeout time.Duration
	playQuiet   bool
)

// playCmd represents the play command
var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Run a landing episode through the relay",
	Long: `Connect to a running relay and drive one session from the terminal.

Modes:
  auto    The backend's policy flies one episode; states are printed as they
          arrive and the result is shown at the end.
  train   The backend trains; per-episode progress is printed until the
          run completes.
  manual  Opens an interactive console. Type "<thrust> [angle]" to send an
          action (thrust 0..1, angle -1..1). Use /help for commands.

The credential is read from --token, client.token or $RLBRIDGE_TOKEN.

Example:
  rlbridge play                                    # One auto episode
  rlbridge play --mode train
  rlbridge play --mode manual --url https://host/landing-bay-rl/`,
	RunE: runPlay,
}

func init() {
	rootCmd.AddCommand(playCmd)

	playCmd.Flags().StringVarP(&playMode, "mode", "m", string(protocol.ModeAuto), "Mode: auto, train or manual")
	playCmd.Flags().StringVar(&playURL, "url", "", "Dashboard base URL including the base path (default: client.url)")
	playCmd.Flags().StringVar(&playToken, "token", "", "Bearer credential (default: client.token)")
	playCmd.Flags().DurationVar(&playTimeout, "connect-timeout", 0, "Connect and readiness timeout (default: client.connect_timeout)")
	playCmd.Flags().BoolVarP(&playQuiet, "quiet", "q", false, "Only print the outcome (auto and train)")
}

// newClient builds a client from the configuration and the play flags.
func newClient() *client.Client {
	url := cfg.Client.URL
	if playURL != "" {
		url = playURL
	}
	token := cfg.Client.Token
	if playToken != "" {
		token = playToken
	}
	timeout := cfg.Client.ConnectTimeout.D()
	if playTimeout > 0 {
		timeout = playTimeout
	}
	return client.New(url,
		client.WithToken(token),
		client.WithCookieName(cfg.Relay.CookieName),
		client.WithConnectTimeout(timeout),
	)
}

func runPlay(cmd *cobra.Command, args []string) error {
	mode, err := protocol.ParseMode(playMode)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	c := newClient()
	switch {
	case mode == protocol.ModeManual:
		return runManual(ctx, c)
	case playQuiet:
		return runQuiet(ctx, c, mode)
	default:
		return runWatch(ctx, c, mode)
	}
}

// runQuiet runs one episode and prints only its outcome.
func runQuiet(ctx context.Context, c *client.Client, mode protocol.Mode) error {
	run, err := c.RunEpisode(ctx, mode)
	if run != nil {
		printOutcome(run)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// runWatch runs one episode, printing every frame as it arrives.
func runWatch(ctx context.Context, c *client.Client, mode protocol.Mode) error {
	done := make(chan struct{})
	finish := sync.OnceFunc(func() { close(done) })
	refresh, waitRefresh := historyRefresher(ctx, c, os.Stdout)
	defer waitRefresh()

	ctrl, err := c.Connect(session.Callbacks{
		OnPhase: func(from, to session.Phase) {
			if debug {
				fmt.Printf("   [%s -> %s]\n", from, to)
			}
			if to == session.Stopped {
				finish()
			}
		},
		OnState: func(s protocol.State) {
			fmt.Println(formatState(s))
		},
		OnResult: func(r protocol.Result) {
			fmt.Println(formatResult(r))
			if mode == protocol.ModeAuto {
				finish()
			}
		},
		OnHistoryRefresh: refresh,
		OnTraining: func(p protocol.Training) {
			fmt.Printf("🏋️  episode %d  reward %.2f\n", p.Episode, p.Reward)
		},
		OnTrainingComplete: func(msg string) {
			fmt.Printf("✅ %s\n", msg)
			finish()
		},
		OnError: func(err error) {
			fmt.Printf("❌ %v\n", err)
			finish()
		},
	})
	if err != nil {
		return err
	}
	defer ctrl.Close()

	fmt.Printf("🚀 Starting %s episode via %s\n", mode, c.BaseURL())
	if err := ctrl.Start(ctx, mode); err != nil {
		return err
	}

	select {
	case <-done:
	case <-ctx.Done():
		fmt.Println("\n🛑 Stopping...")
		ctrl.Stop()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
		}
		return nil
	}
	return ctrl.Err()
}

func printOutcome(run *client.EpisodeRun) {
	switch {
	case run.Error != "":
		fmt.Printf("❌ %s\n", run.Error)
	case run.Result != nil:
		fmt.Printf("%d states\n", len(run.States))
		fmt.Println(formatResult(*run.Result))
		if run.History != nil || run.HistoryErr != nil {
			fmt.Println(formatHistory(run.History, run.HistoryErr))
		}
	case run.TrainingMessage != "":
		fmt.Printf("%d training episodes\n", len(run.Training))
		fmt.Printf("✅ %s\n", run.TrainingMessage)
	default:
		fmt.Println("🛑 Stopped")
	}
}

// historyTimeout bounds one history reload after a result.
const historyTimeout = 10 * time.Second

// historyRefresher returns an OnHistoryRefresh callback that reloads the
// episode history in the background and prints its newest row to w, and a
// function that waits for reloads still in flight.
func historyRefresher(ctx context.Context, c *client.Client, w io.Writer) (refresh func(), wait func()) {
	var wg sync.WaitGroup
	var mu sync.Mutex
	refresh = func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(ctx, historyTimeout)
			defer cancel()
			episodes, err := c.ListEpisodes(ctx)

			mu.Lock()
			defer mu.Unlock()
			fmt.Fprintln(w, formatHistory(episodes, err))
		}()
	}
	return refresh, wg.Wait
}

// formatHistory summarizes a reloaded episode history as one console line.
func formatHistory(episodes []client.Episode, err error) string {
	switch {
	case err != nil:
		return fmt.Sprintf("⚠️  History unavailable: %v", err)
	case len(episodes) == 0:
		return "📜 No episodes recorded"
	default:
		return fmt.Sprintf("📜 Recorded as episode #%d (%d in history)", episodes[0].ID, len(episodes))
	}
}

// formatState renders a state as one console line.
func formatState(s protocol.State) string {
	return fmt.Sprintf("t=%6.2fs  alt=%7.2f  x=%6.2f  v=(%6.2f,%6.2f)  tilt=%5.2f  ω=%5.2f  fuel=%6.2f  pad=%6.2f",
		s.Time, s.Altitude, s.X, s.Velocity[0], s.Velocity[1], s.Tilt, s.AngularVelocity, s.Fuel, s.PadX)
}

// formatResult renders a result as one console line.
func formatResult(r protocol.Result) string {
	icon, outcome := "💥", "crashed"
	if r.Success {
		icon, outcome = "🛬", "landed"
	}
	return fmt.Sprintf("%s %s  fuel used %.2f  accuracy %.0f%%", icon, outcome, r.FuelUsed, r.LandingAccuracy*100)
}
