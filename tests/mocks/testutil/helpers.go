// Package testutil provides shared test utilities for rlbridge integration tests.
package testutil

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// FindProjectRoot finds the project root by looking for go.mod
func FindProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("could not find project root (go.mod)")
		}
		dir = parent
	}
}

// GetRLBridgeBinary returns the path to the rlbridge binary
func GetRLBridgeBinary() (string, error) {
	root, err := FindProjectRoot()
	if err != nil {
		return "", err
	}
	binary := filepath.Join(root, "rlbridge")
	if _, err := os.Stat(binary); os.IsNotExist(err) {
		return "", fmt.Errorf("rlbridge binary not found at %s", binary)
	}
	return binary, nil
}

// GetMockSimBinary returns the path to the fake simulation backend binary
func GetMockSimBinary() (string, error) {
	root, err := FindProjectRoot()
	if err != nil {
		return "", err
	}
	binary := filepath.Join(root, "tests", "mocks", "sim-server", "mock-sim-server")
	if _, err := os.Stat(binary); os.IsNotExist(err) {
		return "", fmt.Errorf("mock-sim-server binary not found at %s", binary)
	}
	return binary, nil
}

// StartMockSim starts the fake backend on a random port and returns its
// base URL. The process is killed when ctx is cancelled.
func StartMockSim(ctx context.Context, binary string, args ...string) (string, *exec.Cmd, error) {
	cmd := exec.CommandContext(ctx, binary, append([]string{"-listen", "127.0.0.1:0"}, args...)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", nil, err
	}
	if err := cmd.Start(); err != nil {
		return "", nil, err
	}

	line, err := bufio.NewReader(stdout).ReadString('\n')
	if err != nil {
		cmd.Process.Kill()
		return "", nil, fmt.Errorf("read mock-sim-server address: %w", err)
	}
	go io.Copy(io.Discard, stdout)

	addr := strings.TrimSpace(strings.TrimPrefix(line, "listening on "))
	return "http://" + addr, cmd, nil
}

// WaitForServer waits for an HTTP server to be ready
func WaitForServer(url string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for server at %s", url)
		default:
			resp, err := http.Get(url)
			if err == nil {
				resp.Body.Close()
				if resp.StatusCode < 500 {
					return nil
				}
			}
			time.Sleep(100 * time.Millisecond)
		}
	}
}

// TestEnv returns environment variables for test execution. Variables that
// would override the test configuration are cleared.
func TestEnv(configDir string) []string {
	var env []string
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "RLBRIDGE_") || strings.HasPrefix(kv, "PYTHON_API_URL=") {
			continue
		}
		env = append(env, kv)
	}
	return append(env, "XDG_CONFIG_HOME="+configDir)
}
