// Package tagparse extracts in-band command tags from generated text.
//
// The model is instructed to embed control markers of the form
// [[TYPE: value]] near the start of its responses: mode switches, expressive
// action cues, and language hints. This package finds those tags, validates
// their values against the known enums, and strips every outer-bracket
// fragment (valid or not) from the speakable text.
//
// Parse is designed to be called twice per response with identical semantics:
// once incrementally on the growing text prefix while the stream is live, and
// once on the final complete text as a fallback. It is idempotent: parsing
// already-clean text returns it unchanged apart from whitespace
// normalisation.
package tagparse

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/SuperGokou/kidsBot/internal/convo"
)

var (
	// tagPattern matches a well-formed command tag and captures TYPE and value.
	tagPattern = regexp.MustCompile(`(?i)\[\[([A-Z_]+):\s*([^\]]+)\]\]`)

	// stripPattern matches any outer-bracket fragment, including malformed
	// tags, so no bracket debris ever reaches the speech synthesizer.
	stripPattern = regexp.MustCompile(`\[\[[^\]]*\]\]`)

	// spacePattern collapses the whitespace runs left behind by stripping.
	spacePattern = regexp.MustCompile(`\s+`)
)

// Parse scans text for command tags and returns the validated commands plus
// the clean speakable text.
//
// For each tag TYPE only the first occurrence counts. Unknown types and
// invalid values are logged and dropped; they never populate the CommandSet,
// but their bracket text is still removed from the output. Whitespace in the
// result is collapsed and trimmed.
func Parse(text string) (convo.CommandSet, string) {
	var cmds convo.CommandSet

	for _, m := range tagPattern.FindAllStringSubmatch(text, -1) {
		tagType := strings.ToUpper(m[1])
		value := strings.ToLower(strings.TrimSpace(m[2]))

		switch tagType {
		case "MODE":
			if cmds.Mode != "" {
				continue
			}
			mode := convo.Mode(value)
			if !mode.IsValid() {
				slog.Debug("dropping invalid mode tag", "value", value)
				continue
			}
			cmds.Mode = mode

		case "ACTION":
			if cmds.Action != "" {
				continue
			}
			if !convo.ActionValid(value) {
				slog.Debug("dropping invalid action tag", "value", value)
				continue
			}
			cmds.Action = value

		case "LANGUAGE":
			if cmds.Language != "" {
				continue
			}
			if value == "" {
				continue
			}
			cmds.Language = value

		default:
			slog.Debug("dropping unknown tag type", "type", tagType)
		}
	}

	return cmds, Clean(text)
}

// Clean strips every outer-bracket fragment from text and normalises
// whitespace. It applies the same stripping rule as [Parse] so the two call
// sites can never diverge.
func Clean(text string) string {
	cleaned := stripPattern.ReplaceAllString(text, " ")
	cleaned = spacePattern.ReplaceAllString(cleaned, " ")
	return strings.TrimSpace(cleaned)
}
