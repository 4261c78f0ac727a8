package exitwords_test

import (
	"testing"

	"github.com/SuperGokou/kidsBot/internal/exitwords"
)

func TestIsFarewell(t *testing.T) {
	t.Parallel()

	d := exitwords.New()

	cases := []struct {
		name string
		in   string
		want bool
	}{
		{"exact goodbye", "goodbye", true},
		{"exact bye", "bye", true},
		{"punctuated", "Bye-bye!", true},
		{"embedded", "okay goodbye robot", true},
		{"see you", "see you tomorrow", true},
		{"quit", "quit", true},
		{"stt mangled", "buy buy", true},
		{"plain chat", "tell me a story", false},
		{"empty", "", false},
		{"whitespace", "   ", false},
		{"long sentence with similar sound", "the boy wanted to buy a big balloon at the fair today", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := d.IsFarewell(tc.in); got != tc.want {
				t.Errorf("IsFarewell(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestExtraPhrases(t *testing.T) {
	t.Parallel()

	d := exitwords.New("good night")
	if !d.IsFarewell("Good night!") {
		t.Error("extra phrase not detected")
	}

	plain := exitwords.New()
	if plain.IsFarewell("good night") {
		t.Error("default detector should not know custom phrases")
	}
}
