package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestWithSession(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	base := slog.New(handler)

	logger := WithSession(base, "test-session-123")
	logger.Info("test message")

	output := buf.String()
	if !strings.Contains(output, "session_id=test-session-123") {
		t.Errorf("Expected session_id in output, got: %s", output)
	}
	if !strings.Contains(output, "test message") {
		t.Errorf("Expected message in output, got: %s", output)
	}
}

func TestWithSession_NilLogger(t *testing.T) {
	if logger := WithSession(nil, "test-session"); logger != nil {
		t.Error("WithSession(nil, ...) should return nil")
	}
}

func TestWithClient(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	base := slog.New(handler)

	logger := WithClient(base, "10.0.0.7", "session-xyz")
	logger.Info("client test")

	output := buf.String()
	if !strings.Contains(output, "client_ip=10.0.0.7") {
		t.Errorf("Expected client_ip in output, got: %s", output)
	}
	if !strings.Contains(output, "session_id=session-xyz") {
		t.Errorf("Expected session_id in output, got: %s", output)
	}
}

func TestWithClient_NilLogger(t *testing.T) {
	if logger := WithClient(nil, "ip", "session"); logger != nil {
		t.Error("WithClient(nil, ...) should return nil")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestSetLevel(t *testing.T) {
	defer SetLevel("info")

	SetLevel("error")
	if Level() != slog.LevelError {
		t.Errorf("Level() = %v, want error", Level())
	}
	SetLevel("debug")
	if Level() != slog.LevelDebug {
		t.Errorf("Level() = %v, want debug", Level())
	}
}

func TestComponentFilter(t *testing.T) {
	defer SetComponents(nil)

	var buf bytes.Buffer
	inner := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})

	SetComponents([]string{"relay"})

	relay := slog.New(&componentFilterHandler{inner: inner, component: "relay"})
	session := slog.New(&componentFilterHandler{inner: inner, component: "session"})

	relay.Info("relay line")
	session.Info("session line")

	output := buf.String()
	if !strings.Contains(output, "relay line") {
		t.Errorf("Expected relay output, got: %s", output)
	}
	if strings.Contains(output, "session line") {
		t.Errorf("Session component should be filtered, got: %s", output)
	}
}

func TestTokenPreview(t *testing.T) {
	long := "eyJhbGciOiJIUzI1NiJ9.payload.signature"
	got := TokenPreview(long)
	if strings.Contains(got, "payload") {
		t.Errorf("TokenPreview leaked token body: %s", got)
	}
	if !strings.HasPrefix(got, "eyJhbG") {
		t.Errorf("TokenPreview = %q, want prefix eyJhbG", got)
	}
	if TokenPreview("abc") != "***" {
		t.Errorf("short token should be fully masked")
	}
}
