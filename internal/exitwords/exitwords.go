// Package exitwords detects when the child is saying goodbye.
//
// Exact matching alone misses a lot: children mumble, and speech-to-text
// mangles short words ("bye bye" becomes "buy buy"). So detection runs in
// two stages, exact phrase containment first, then a phonetic pass using
// Double Metaphone codes with Jaro-Winkler ranking to catch near-misses.
package exitwords

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// phrases are the farewells that end a conversation session.
var phrases = []string{
	"goodbye",
	"bye bye",
	"bye",
	"see you",
	"quit",
	"exit",
}

// jwThreshold is the minimum Jaro-Winkler score for a phonetic candidate to
// count as a farewell.
const jwThreshold = 0.78

// Detector decides whether an utterance is a farewell.
// The zero value is not usable; call New.
type Detector struct {
	phrases []string
	codes   []map[string]struct{}
}

// New builds a Detector over the standard farewell phrases plus any extra
// phrases supplied (e.g., farewells in another language).
func New(extra ...string) *Detector {
	all := make([]string, 0, len(phrases)+len(extra))
	all = append(all, phrases...)
	for _, e := range extra {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			all = append(all, e)
		}
	}

	d := &Detector{phrases: all}
	for _, p := range all {
		d.codes = append(d.codes, codesForTokens(strings.Fields(p)))
	}
	return d
}

// IsFarewell reports whether text should end the session.
func (d *Detector) IsFarewell(text string) bool {
	text = normalize(text)
	if text == "" {
		return false
	}

	// Stage 1: exact containment on word boundaries, so "mosquito" never
	// triggers "quit".
	padded := " " + text + " "
	for _, p := range d.phrases {
		if strings.Contains(padded, " "+p+" ") {
			return true
		}
	}

	// Stage 2: phonetic. Only very short utterances qualify; a sentence that
	// merely contains something sounding like "bye" should not end the
	// session.
	tokens := strings.Fields(text)
	if len(tokens) > 2 {
		return false
	}
	textCodes := codesForTokens(tokens)

	for i, p := range d.phrases {
		if !codesOverlap(textCodes, d.codes[i]) {
			continue
		}
		if bestJWScore(text, tokens, p) >= jwThreshold {
			return true
		}
	}
	return false
}

// normalize lowercases and strips punctuation so "Bye-bye!" matches
// "bye bye".
func normalize(text string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		default:
			sb.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}

// codesForTokens returns the union of Double Metaphone codes for the tokens.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore is the highest Jaro-Winkler similarity between the utterance
// and the phrase, comparing full strings, space-stripped strings, and each
// token pair.
func bestJWScore(text string, tokens []string, phrase string) float64 {
	score := matchr.JaroWinkler(text, phrase, false)

	phraseTokens := strings.Fields(phrase)
	if len(tokens) > 1 || len(phraseTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(tokens, ""), strings.Join(phraseTokens, ""), false); s > score {
			score = s
		}
	}
	for _, tt := range tokens {
		for _, pt := range phraseTokens {
			if s := matchr.JaroWinkler(tt, pt, false); s > score {
				score = s
			}
		}
	}
	return score
}
