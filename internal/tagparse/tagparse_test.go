package tagparse_test

import (
	"testing"

	"github.com/SuperGokou/kidsBot/internal/convo"
	"github.com/SuperGokou/kidsBot/internal/tagparse"
)

func TestParseTagFreeText(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain sentence", "Hello there, friend!", "Hello there, friend!"},
		{"whitespace normalised", "Hello   there,\nfriend!", "Hello there, friend!"},
		{"empty", "", ""},
		{"single brackets untouched", "I like [this] and [that].", "I like [this] and [that]."},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cmds, clean := tagparse.Parse(tc.in)
			if !cmds.Empty() {
				t.Errorf("commands = %+v, want empty", cmds)
			}
			if clean != tc.want {
				t.Errorf("clean = %q, want %q", clean, tc.want)
			}
		})
	}
}

func TestParseExtractsCommands(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		in        string
		wantCmds  convo.CommandSet
		wantClean string
	}{
		{
			name:      "mode at start",
			in:        "[[MODE: story]] Once upon a time.",
			wantCmds:  convo.CommandSet{Mode: convo.ModeStory},
			wantClean: "Once upon a time.",
		},
		{
			name:      "all three types",
			in:        "[[MODE: game]] [[ACTION: happy]] [[LANGUAGE: ES]] Vamos a jugar!",
			wantCmds:  convo.CommandSet{Mode: convo.ModeGame, Action: "happy", Language: "es"},
			wantClean: "Vamos a jugar!",
		},
		{
			name:      "tag mid-text",
			in:        "Sure! [[ACTION: dance]] Let me show you.",
			wantCmds:  convo.CommandSet{Action: "dance"},
			wantClean: "Sure! Let me show you.",
		},
		{
			name:      "case-insensitive type, value trimmed",
			in:        "[[mode:  Learning ]] Let's learn.",
			wantCmds:  convo.CommandSet{Mode: convo.ModeLearning},
			wantClean: "Let's learn.",
		},
		{
			name:      "first occurrence wins",
			in:        "[[MODE: chat]] hello [[MODE: story]] world",
			wantCmds:  convo.CommandSet{Mode: convo.ModeChat},
			wantClean: "hello world",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cmds, clean := tagparse.Parse(tc.in)
			if cmds != tc.wantCmds {
				t.Errorf("commands = %+v, want %+v", cmds, tc.wantCmds)
			}
			if clean != tc.wantClean {
				t.Errorf("clean = %q, want %q", clean, tc.wantClean)
			}
		})
	}
}

func TestParseDropsInvalidValues(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		in        string
		wantClean string
	}{
		{"invalid mode", "[[MODE: spaceship]] Blast off!", "Blast off!"},
		{"invalid action", "[[ACTION: backflip]] Watch this!", "Watch this!"},
		{"unknown type", "[[VOLUME: loud]] Hi!", "Hi!"},
		{"malformed empty", "[[]] Hi!", "Hi!"},
		{"no colon", "[[MODESTORY]] Hi!", "Hi!"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cmds, clean := tagparse.Parse(tc.in)
			if !cmds.Empty() {
				t.Errorf("commands = %+v, want empty", cmds)
			}
			if clean != tc.wantClean {
				t.Errorf("clean = %q, want %q", clean, tc.wantClean)
			}
		})
	}
}

func TestParseIdempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"[[MODE: story]] Once upon a time.",
		"Plain text with no tags.",
		"[[ACTION: wave]] [[MODE: game]] Hi there! Want to play?",
		"[[BROKEN junk]] leftover words",
	}

	for _, in := range inputs {
		_, once := tagparse.Parse(in)
		_, twice := tagparse.Parse(once)
		if once != twice {
			t.Errorf("Parse not idempotent for %q: first %q, second %q", in, once, twice)
		}
	}
}

func TestCleanMatchesParseStripping(t *testing.T) {
	t.Parallel()

	in := "[[MODE: story]] Once [[ACTION: think]] upon [[garbage]] a time."
	_, fromParse := tagparse.Parse(in)
	if got := tagparse.Clean(in); got != fromParse {
		t.Errorf("Clean = %q, Parse clean = %q; the two must agree", got, fromParse)
	}
}
