package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/landingbay/rlbridge/internal/client"
	"github.com/landingbay/rlbridge/internal/config"
	"github.com/landingbay/rlbridge/internal/mocksim"
	"github.com/landingbay/rlbridge/internal/protocol"
	"github.com/landingbay/rlbridge/internal/session"
	"github.com/landingbay/rlbridge/internal/web"
)

func TestSplitList(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"relay", []string{"relay"}},
		{"relay, session ,,web", []string{"relay", "session", "web"}},
		{" , ", nil},
	}
	for _, tt := range tests {
		if got := splitList(tt.in); !slices.Equal(got, tt.want) {
			t.Errorf("splitList(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFormatResult(t *testing.T) {
	tests := []struct {
		name string
		in   protocol.Result
		want []string
	}{
		{"landed", protocol.Result{Success: true, FuelUsed: 12.5, LandingAccuracy: 0.97}, []string{"landed", "12.50", "97%"}},
		{"crashed", protocol.Result{FuelUsed: 3}, []string{"crashed", "3.00", "0%"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := formatResult(tt.in)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("formatResult() = %q, missing %q", got, w)
				}
			}
		})
	}
}

func TestFormatState(t *testing.T) {
	got := formatState(protocol.State{Altitude: 95.25, X: -1.5, Velocity: [2]float64{0.1, -3.2}, Fuel: 88, Time: 1.2})
	for _, w := range []string{"t=  1.20s", "alt=  95.25", "x= -1.50", "-3.20", "fuel= 88.00"} {
		if !strings.Contains(got, w) {
			t.Errorf("formatState() = %q, missing %q", got, w)
		}
	}
	if strings.Contains(got, "\n") {
		t.Errorf("formatState() should be a single line: %q", got)
	}
}

func TestPrintEpisodes(t *testing.T) {
	var buf bytes.Buffer
	if err := printEpisodes(&buf, nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "No episodes") {
		t.Errorf("empty output = %q", buf.String())
	}

	buf.Reset()
	err := printEpisodes(&buf, []client.Episode{
		{ID: 1, Timestamp: time.Now(), Success: true, FuelUsed: 10, LandingAccuracy: 0.9},
		{ID: 2, Timestamp: time.Now(), FuelUsed: 40},
	})
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want header + 2:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[1], "landed") || !strings.Contains(lines[2], "crashed") {
		t.Errorf("unexpected rows:\n%s", buf.String())
	}
}

func TestFormatHistory(t *testing.T) {
	tests := []struct {
		name     string
		episodes []client.Episode
		err      error
		want     string
	}{
		{"newest row", []client.Episode{{ID: 7}, {ID: 6}}, nil, "episode #7 (2 in history)"},
		{"empty", []client.Episode{}, nil, "No episodes recorded"},
		{"error", nil, errors.New("status 401"), "History unavailable: status 401"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatHistory(tt.episodes, tt.err); !strings.Contains(got, tt.want) {
				t.Errorf("formatHistory() = %q, want it to contain %q", got, tt.want)
			}
		})
	}
}

func TestHistoryRefresherShowsFinishedEpisode(t *testing.T) {
	backend := mocksim.New(mocksim.Options{Steps: 3})
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

	c := client.New(srv.URL+settings.Server.BasePath, client.WithToken("pilot"))
	var out bytes.Buffer
	refresh, wait := historyRefresher(context.Background(), c, &out)

	refreshed := make(chan struct{})
	ctrl, err := c.Connect(session.Callbacks{
		OnHistoryRefresh: func() {
			refresh()
			close(refreshed)
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer ctrl.Close()
	if err := ctrl.Start(context.Background(), protocol.ModeAuto); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	select {
	case <-refreshed:
	case <-time.After(5 * time.Second):
		t.Fatal("history refresh never fired")
	}
	wait()

	recorded := backend.Episodes("pilot")
	if len(recorded) != 1 {
		t.Fatalf("backend recorded %d episodes, want 1", len(recorded))
	}
	want := formatHistory([]client.Episode{{ID: recorded[0].ID}}, nil)
	if got := strings.TrimSpace(out.String()); got != want {
		t.Errorf("refresh output = %q, want %q", got, want)
	}
}

func TestConfigShowMasksSecrets(t *testing.T) {
	prev := cfg
	t.Cleanup(func() { cfg = prev })

	cfg = config.Default()
	cfg.Relay.JWTSecret = "hunter2"
	cfg.Client.Token = "pilot-token"

	var buf bytes.Buffer
	configShowCmd.SetOut(&buf)
	t.Cleanup(func() { configShowCmd.SetOut(nil) })
	if err := runConfigShow(configShowCmd, nil); err != nil {
		t.Fatalf("runConfigShow() error = %v", err)
	}

	out := buf.String()
	if strings.Contains(out, "hunter2") || strings.Contains(out, "pilot-token") {
		t.Errorf("secrets leaked:\n%s", out)
	}

	var decoded config.Config
	if err := yaml.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid YAML: %v", err)
	}
	if decoded.Server.BasePath != config.DefaultBasePath {
		t.Errorf("base_path = %q, want %q", decoded.Server.BasePath, config.DefaultBasePath)
	}
	if cfg.Relay.JWTSecret != "hunter2" {
		t.Error("runConfigShow must not modify the loaded configuration")
	}
}

func TestVersionString(t *testing.T) {
	if got := versionString(); !strings.HasPrefix(got, "rlbridge ") {
		t.Errorf("versionString() = %q", got)
	}
}
