// Package convo defines the shared conversation types used across the kidsBot
// loop, parser, and brain packages.
//
// These types form the lingua franca between the state machine, the command
// tag parser, and the response generator. They are intentionally minimal:
// each package defines its own domain types, but cross-cutting data structures
// live here to avoid circular imports.
package convo

import "time"

// Mode selects the companion's personality and system prompt for a session.
type Mode string

const (
	// ModeChat is the default free-form conversation persona.
	ModeChat Mode = "chat"

	// ModeStory tells interactive stories.
	ModeStory Mode = "story"

	// ModeLearning answers questions in a teaching register.
	ModeLearning Mode = "learning"

	// ModeGame plays simple word and guessing games.
	ModeGame Mode = "game"
)

// IsValid reports whether m is a recognised mode.
func (m Mode) IsValid() bool {
	switch m {
	case ModeChat, ModeStory, ModeLearning, ModeGame:
		return true
	}
	return false
}

// Phase is the conversation loop state. Exactly one Phase is active per
// session at any instant.
type Phase int

const (
	// PhaseIdle is both the initial and terminal state of a session.
	PhaseIdle Phase = iota

	// PhaseGreeting speaks the fixed greeting before the first listen.
	PhaseGreeting

	// PhaseListening records one utterance with VAD endpointing.
	PhaseListening

	// PhaseProcessing covers generation and speaking combined: synthesis
	// begins before the response stream finishes, so the two are one phase
	// in the hot path.
	PhaseProcessing
)

// String returns the human-readable name of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseGreeting:
		return "greeting"
	case PhaseListening:
		return "listening"
	case PhaseProcessing:
		return "processing_speaking"
	default:
		return "unknown"
	}
}

// Actions lists the expressive cues the companion may request via an ACTION
// command tag.
var Actions = []string{
	"nod", "shake_head", "dance", "happy", "sad", "wave", "think", "celebrate",
}

// ActionValid reports whether action is a recognised expressive cue.
func ActionValid(action string) bool {
	for _, a := range Actions {
		if a == action {
			return true
		}
	}
	return false
}

// CommandSet is the parsed result of scanning one response for command tags.
// It is ephemeral: recomputed per response and never partially applied: each
// field is either a validated value or empty.
type CommandSet struct {
	// Mode is a requested mode switch, or "" when no valid MODE tag was found.
	Mode Mode

	// Action is a requested expressive cue, or "" when none was found.
	Action string

	// Language is a lowercased language code, or "" when none was found.
	Language string
}

// Empty reports whether no commands were parsed.
func (c CommandSet) Empty() bool {
	return c.Mode == "" && c.Action == "" && c.Language == ""
}

// Turn is one completed exchange: what the speaker said and what the bot
// answered, plus the mode active during the turn and any parsed commands.
// Turns are append-only, never mutated after creation.
type Turn struct {
	// UserText is the transcribed user utterance.
	UserText string

	// BotText is the clean, tag-stripped assistant response. Empty when the
	// turn failed before any text was generated.
	BotText string

	// Mode is the session mode that produced this turn.
	Mode Mode

	// Commands holds the tags parsed from the response.
	Commands CommandSet

	// Timestamp is when the turn completed.
	Timestamp time.Time
}
