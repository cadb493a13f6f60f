package cmd

import (
	"slices"
	"testing"

	"github.com/landingbay/rlbridge/internal/protocol"
)

func commandNames(idx []int) []string {
	names := make([]string, 0, len(idx))
	for _, i := range idx {
		names = append(names, slashCommands[i].name)
	}
	return names
}

func TestMatchingCommands(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"empty input", "", nil},
		{"action input", "0.5 0.1", nil},
		{"slash only shows all commands", "/", []string{"/help", "/h", "/?", "/quit", "/exit", "/q", "/stop", "/start", "/state"}},
		{"partial /h matches help and h", "/h", []string{"/help", "/h"}},
		{"partial /st matches stop, start and state", "/st", []string{"/stop", "/start", "/state"}},
		{"partial /sta matches start and state", "/sta", []string{"/start", "/state"}},
		{"partial /q matches quit and q", "/q", []string{"/quit", "/q"}},
		{"unknown prefix", "/xyz", nil},
		{"full command matches itself", "/help", []string{"/help"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := commandNames(matchingCommands(tt.text))
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("matchingCommands(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestCompleteInput_CursorBeyondLine(t *testing.T) {
	// Must not panic when the cursor is past the end of the line.
	completeInput([]rune("/h"), 100)
	completeInput(nil, 3)
	completeInput([]rune("/é"), -1)
}

func TestCompletionPrefix(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		cursor int
		want   string
	}{
		{"ascii", "/help", 3, "/he"},
		{"cursor at end", "/stop", 5, "/stop"},
		{"cursor beyond line", "/q", 10, "/q"},
		{"negative cursor", "/q", -2, ""},
		{"multibyte before cursor", "/ég", 2, "/é"},
		{"multibyte after cursor", "/sé", 2, "/s"},
		{"wide runes", "🚀 /st", 4, "🚀 /s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := completionPrefix([]rune(tt.line), tt.cursor); got != tt.want {
				t.Errorf("completionPrefix(%q, %d) = %q, want %q", tt.line, tt.cursor, got, tt.want)
			}
		})
	}
}

func TestSlashCommandsDefinition(t *testing.T) {
	seen := make(map[string]bool)
	for _, cmd := range slashCommands {
		if seen[cmd.name] {
			t.Errorf("duplicate command %s", cmd.name)
		}
		seen[cmd.name] = true
		if cmd.description == "" {
			t.Errorf("command %s has empty description", cmd.name)
		}
		if cmd.name[0] != '/' {
			t.Errorf("command %s does not start with a slash", cmd.name)
		}
	}
}

func TestParseConsoleLine(t *testing.T) {
	tests := []struct {
		name       string
		line       string
		wantName   string
		wantArgs   []string
		wantAction protocol.Action
		wantErr    bool
	}{
		{name: "thrust only", line: "0.5", wantAction: protocol.Action{Thrust: 0.5}},
		{name: "thrust and angle", line: "0.8 -0.25", wantAction: protocol.Action{Thrust: 0.8, Angle: -0.25}},
		{name: "values are clamped", line: "3 -7", wantAction: protocol.Action{Thrust: 1, Angle: -1}},
		{name: "extra whitespace", line: "  1\t 0.5 ", wantAction: protocol.Action{Thrust: 1, Angle: 0.5}},
		{name: "slash command", line: "/stop", wantName: "stop", wantArgs: []string{}},
		{name: "command is lowercased", line: "/START train", wantName: "start", wantArgs: []string{"train"}},
		{name: "quoted argument", line: `/start "manual"`, wantName: "start", wantArgs: []string{"manual"}},
		{name: "empty", line: "   ", wantErr: true},
		{name: "not a number", line: "full", wantErr: true},
		{name: "bad angle", line: "0.5 left", wantErr: true},
		{name: "too many values", line: "0.5 0.1 0.2", wantErr: true},
		{name: "unterminated quote", line: `/start "manual`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseConsoleLine(tt.line)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseConsoleLine(%q) = %+v, want error", tt.line, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseConsoleLine(%q) error = %v", tt.line, err)
			}
			if got.name != tt.wantName {
				t.Errorf("name = %q, want %q", got.name, tt.wantName)
			}
			if tt.wantName != "" {
				if !slices.Equal(got.args, tt.wantArgs) {
					t.Errorf("args = %v, want %v", got.args, tt.wantArgs)
				}
				return
			}
			if got.action != tt.wantAction {
				t.Errorf("action = %+v, want %+v", got.action, tt.wantAction)
			}
		})
	}
}
