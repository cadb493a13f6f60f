package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/google/shlex"
	"github.com/reeflective/readline"

	"github.com/landingbay/rlbridge/internal/client"
	"github.com/landingbay/rlbridge/internal/protocol"
	"github.com/landingbay/rlbridge/internal/session"
)

// slashCommands defines the available slash commands with their descriptions.
var slashCommands = []struct {
	name        string
	description string
}{
	{"/help", "Show available commands"},
	{"/h", "Show available commands (alias)"},
	{"/?", "Show available commands (alias)"},
	{"/quit", "Exit the console"},
	{"/exit", "Exit the console (alias)"},
	{"/q", "Exit the console (alias)"},
	{"/stop", "Stop the running episode"},
	{"/start", "Start a new episode: /start [auto|train|manual]"},
	{"/state", "Print the latest state"},
}

// consoleCommand is one parsed console line.
type consoleCommand struct {
	name   string // slash command without the slash; empty for an action
	args   []string
	action protocol.Action
}

// parseConsoleLine parses "<thrust> [angle]" into an action and
// "/name args..." into a command. Quoting follows shell rules.
func parseConsoleLine(line string) (consoleCommand, error) {
	fields, err := shlex.Split(line)
	if err != nil {
		return consoleCommand{}, err
	}
	if len(fields) == 0 {
		return consoleCommand{}, errors.New("empty input")
	}

	if strings.HasPrefix(fields[0], "/") {
		return consoleCommand{
			name: strings.ToLower(strings.TrimPrefix(fields[0], "/")),
			args: fields[1:],
		}, nil
	}

	if len(fields) > 2 {
		return consoleCommand{}, fmt.Errorf("expected <thrust> [angle], got %d values", len(fields))
	}
	thrust, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return consoleCommand{}, fmt.Errorf("invalid thrust %q", fields[0])
	}
	var angle float64
	if len(fields) == 2 {
		if angle, err = strconv.ParseFloat(fields[1], 64); err != nil {
			return consoleCommand{}, fmt.Errorf("invalid angle %q", fields[1])
		}
	}
	return consoleCommand{action: protocol.NewAction(thrust, angle)}, nil
}

func runManual(ctx context.Context, c *client.Client) error {
	refresh, waitRefresh := historyRefresher(ctx, c, os.Stdout)
	defer waitRefresh()

	ctrl, err := c.Connect(session.Callbacks{
		OnState: func(s protocol.State) {
			fmt.Println(formatState(s))
		},
		OnResult: func(r protocol.Result) {
			fmt.Println(formatResult(r))
		},
		OnHistoryRefresh: refresh,
		OnTraining: func(p protocol.Training) {
			fmt.Printf("🏋️  episode %d  reward %.2f\n", p.Episode, p.Reward)
		},
		OnTrainingComplete: func(msg string) {
			fmt.Printf("✅ %s\n", msg)
		},
		OnError: func(err error) {
			fmt.Printf("\n❌ %v (use /start to reconnect)\n", err)
		},
		OnPhase: func(_, to session.Phase) {
			if to == session.Stopped {
				fmt.Println("🛑 Stopped (use /start to begin again)")
			}
		},
	})
	if err != nil {
		return err
	}
	defer ctrl.Close()

	fmt.Printf("🚀 Connecting to %s\n", c.BaseURL())
	if err := ctrl.Start(ctx, protocol.ModeManual); err != nil {
		return err
	}

	rl := readline.NewShell()
	rl.Prompt.Primary(func() string {
		return fmt.Sprintf("%s> ", ctrl.Mode())
	})
	rl.History.Add("default", readline.NewInMemoryHistory())
	rl.Completer = completeInput

	fmt.Println("\n🎮 Type <thrust> [angle] and press Enter. Use /help for commands. Tab completes commands.")

	for {
		if ctx.Err() != nil {
			return nil
		}

		line, err := rl.Readline()
		if err != nil {
			if err == io.EOF || err == readline.ErrInterrupt {
				fmt.Println("\n👋 Goodbye!")
				ctrl.Stop()
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		cmd, err := parseConsoleLine(line)
		if err != nil {
			fmt.Printf("❓ %v\n", err)
			continue
		}
		if cmd.name == "" {
			if err := ctrl.SendAction(cmd.action.Thrust, cmd.action.Angle); err != nil {
				fmt.Printf("❌ %v\n", err)
			}
			continue
		}
		if quit := handleCommand(ctx, ctrl, cmd); quit {
			return nil
		}
	}
}

// handleCommand runs a slash command. It returns true when the console should exit.
func handleCommand(ctx context.Context, ctrl *session.Controller, cmd consoleCommand) bool {
	switch cmd.name {
	case "quit", "exit", "q":
		fmt.Println("👋 Goodbye!")
		ctrl.Stop()
		return true
	case "stop":
		if err := ctrl.Stop(); err != nil {
			fmt.Printf("❌ Stop error: %v\n", err)
		}
	case "start":
		mode := protocol.ModeManual
		if len(cmd.args) > 0 {
			m, err := protocol.ParseMode(cmd.args[0])
			if err != nil {
				fmt.Printf("❌ %v\n", err)
				return false
			}
			mode = m
		}
		if err := ctrl.Start(ctx, mode); err != nil {
			fmt.Printf("❌ Start error: %v\n", err)
		}
	case "state":
		if s, ok := ctrl.State(); ok {
			fmt.Println(formatState(s))
		} else {
			fmt.Println("No state yet")
		}
	case "help", "h", "?":
		printHelp()
	default:
		fmt.Printf("❓ Unknown command: %s (use /help for available commands)\n", cmd.name)
	}
	return false
}

func printHelp() {
	fmt.Println(`
Available commands:
  <thrust> [angle]   - Send an action (thrust 0..1, angle -1..1)
  /start [mode]      - Start a new episode (default: manual)
  /stop              - Stop the running episode
  /state             - Print the latest state
  /quit, /exit, /q   - Exit the console
  /help, /h, /?      - Show this help message

Tips:
  - Values outside their range are clamped
  - Use up/down arrows for command history
  - Use Tab to autocomplete slash commands`)
}

// completeInput provides tab completion for the console input.
// It completes slash commands when the input starts with "/". cursor
// counts runes.
func completeInput(line []rune, cursor int) readline.Completions {
	matches := matchingCommands(completionPrefix(line, cursor))
	if len(matches) == 0 {
		return readline.Completions{}
	}

	// Format: value1, desc1, value2, desc2, ...
	pairs := make([]string, 0, len(matches)*2)
	for _, i := range matches {
		pairs = append(pairs, slashCommands[i].name, slashCommands[i].description)
	}
	return readline.CompleteValuesDescribed(pairs...).
		Tag("commands").
		NoSpace('/')
}

// completionPrefix returns the text left of the cursor.
func completionPrefix(line []rune, cursor int) string {
	cursor = min(max(cursor, 0), len(line))
	return string(line[:cursor])
}

// matchingCommands returns the indexes of the slash commands that complete text.
func matchingCommands(text string) []int {
	if !strings.HasPrefix(text, "/") {
		return nil
	}
	var out []int
	for i, cmd := range slashCommands {
		if strings.HasPrefix(cmd.name, text) {
			out = append(out, i)
		}
	}
	return out
}
