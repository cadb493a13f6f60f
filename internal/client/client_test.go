package client_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/landingbay/rlbridge/internal/client"
	"github.com/landingbay/rlbridge/internal/config"
	"github.com/landingbay/rlbridge/internal/mocksim"
	"github.com/landingbay/rlbridge/internal/protocol"
	"github.com/landingbay/rlbridge/internal/session"
	"github.com/landingbay/rlbridge/internal/web"
)

// testServerURL starts a dashboard server in front of a fake backend and
// returns its base URL.
func testServerURL(t *testing.T, opts mocksim.Options) (string, *mocksim.Server) {
	t.Helper()

	backend := mocksim.New(opts)
	backendSrv := httptest.NewServer(backend.Handler())
	t.Cleanup(backendSrv.Close)
	t.Cleanup(backend.Close)

	settings := config.Default()
	settings.Relay.BackendURL = backendSrv.URL
	settings.Relay.RateLimit = config.RateLimitConfig{}
	settings.Relay.MaxConnectionsPerIP = 0

	s, err := web.NewServer(web.Config{
		Settings: settings,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Shutdown(ctx)
		srv.Close()
	})
	return srv.URL + settings.Server.BasePath, backend
}

func TestClient_Health(t *testing.T) {
	base, _ := testServerURL(t, mocksim.Options{})
	c := client.New(base)

	info, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health() error = %v", err)
	}
	if info.Status != "ok" {
		t.Errorf("Status = %q, want ok", info.Status)
	}
	if info.Timestamp.IsZero() {
		t.Error("Timestamp should be set")
	}
}

func TestClient_ListEpisodesRequiresToken(t *testing.T) {
	base, _ := testServerURL(t, mocksim.Options{})
	c := client.New(base)

	_, err := c.ListEpisodes(context.Background())
	var statusErr *client.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("ListEpisodes() error = %v, want *StatusError", err)
	}
	if statusErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d, want 401", statusErr.StatusCode)
	}
}

func TestClient_RunEpisodeRecordsHistory(t *testing.T) {
	base, backend := testServerURL(t, mocksim.Options{Steps: 4})
	c := client.New(base, client.WithToken("pilot"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	empty, err := c.ListEpisodes(ctx)
	if err != nil {
		t.Fatalf("ListEpisodes() error = %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("episodes before run = %d, want 0", len(empty))
	}

	run, err := c.RunEpisode(ctx, protocol.ModeAuto)
	if err != nil {
		t.Fatalf("RunEpisode() error = %v", err)
	}
	if len(run.States) != 4 {
		t.Errorf("States = %d, want 4", len(run.States))
	}
	if run.Result == nil {
		t.Fatal("Result should be set")
	}

	episodes, err := c.ListEpisodes(ctx)
	if err != nil {
		t.Fatalf("ListEpisodes() error = %v", err)
	}
	if len(episodes) != 1 {
		t.Fatalf("episodes = %d, want 1", len(episodes))
	}
	if episodes[0].Success != run.Result.Success || episodes[0].FuelUsed != run.Result.FuelUsed {
		t.Errorf("episode %+v does not match result %+v", episodes[0], *run.Result)
	}
	if got := backend.Episodes("pilot"); len(got) != 1 {
		t.Errorf("backend recorded %d episodes, want 1", len(got))
	}

	if run.HistoryErr != nil {
		t.Fatalf("HistoryErr = %v", run.HistoryErr)
	}
	if len(run.History) != 1 {
		t.Fatalf("History = %d rows, want the finished episode", len(run.History))
	}
	if got := run.History[0]; got.ID != episodes[0].ID || got.FuelUsed != run.Result.FuelUsed {
		t.Errorf("History[0] = %+v, want the finished episode %+v", got, episodes[0])
	}

	second, err := c.RunEpisode(ctx, protocol.ModeAuto)
	if err != nil {
		t.Fatalf("second RunEpisode() error = %v", err)
	}
	if len(second.History) != 2 || second.History[0].ID <= second.History[1].ID {
		t.Errorf("History after second run = %+v, want newest first", second.History)
	}
}

func TestClient_RunEpisodeTrain(t *testing.T) {
	base, _ := testServerURL(t, mocksim.Options{TrainEpisodes: 2})
	c := client.New(base, client.WithToken("pilot"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	run, err := c.RunEpisode(ctx, protocol.ModeTrain)
	if err != nil {
		t.Fatalf("RunEpisode() error = %v", err)
	}
	if len(run.Training) != 2 {
		t.Errorf("Training = %d, want 2", len(run.Training))
	}
	if run.TrainingMessage == "" {
		t.Error("TrainingMessage should be set")
	}
	if run.History != nil {
		t.Errorf("History = %+v, want nil without a result", run.History)
	}
}

func TestClient_RunEpisodeRejectsManual(t *testing.T) {
	c := client.New("http://127.0.0.1:1/landing-bay-rl/", client.WithToken("pilot"))
	if _, err := c.RunEpisode(context.Background(), protocol.ModeManual); !errors.Is(err, protocol.ErrInvalidMode) {
		t.Errorf("RunEpisode(manual) error = %v, want ErrInvalidMode", err)
	}
}

func TestClient_RunEpisodeWithoutToken(t *testing.T) {
	base, backend := testServerURL(t, mocksim.Options{})
	c := client.New(base, client.WithConnectTimeout(2*time.Second))

	_, err := c.RunEpisode(context.Background(), protocol.ModeAuto)
	if !errors.Is(err, session.ErrConnection) {
		t.Errorf("RunEpisode() error = %v, want ErrConnection", err)
	}
	if backend.Dials() != 0 {
		t.Errorf("backend dials = %d, want 0", backend.Dials())
	}
}

func TestClient_ConnectManual(t *testing.T) {
	base, _ := testServerURL(t, mocksim.Options{})
	c := client.New(base, client.WithToken("pilot"))

	states := make(chan protocol.State, 16)
	ctrl, err := c.Connect(session.Callbacks{
		OnState: func(s protocol.State) { states <- s },
	})
	if err != nil {
		t.Fatal(err)
	}
	defer ctrl.Close()

	if err := ctrl.Start(context.Background(), protocol.ModeManual); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	initial := <-states

	if err := ctrl.SendAction(1, 0); err != nil {
		t.Fatalf("SendAction() error = %v", err)
	}
	select {
	case next := <-states:
		if next.Time <= initial.Time {
			t.Errorf("time did not advance: %v -> %v", initial.Time, next.Time)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no state after action")
	}
}

func TestNew_NormalizesBaseURL(t *testing.T) {
	c := client.New("http://localhost:3000/landing-bay-rl")
	if got := c.BaseURL(); got != "http://localhost:3000/landing-bay-rl/" {
		t.Errorf("BaseURL() = %q", got)
	}
}
