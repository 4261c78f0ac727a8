// Package speech turns streaming LLM text into audible output.
//
// The Chunker accumulates text fragments and cuts complete sentences as soon
// as they appear, so playback starts while the model is still generating.
// The Speaker synthesizes each sentence and plays it through the audio
// device.
package speech

import "strings"

// sentenceTerminals are the runes that end a speakable sentence, covering
// both Latin and CJK punctuation.
var sentenceTerminals = []rune{'.', '!', '?', '。', '？', '！'}

// Chunker buffers streaming text and emits complete sentences.
//
// Chunker is not safe for concurrent use; the conversation loop feeds it from
// a single goroutine.
type Chunker struct {
	buf strings.Builder
}

// Feed appends fragment to the buffer and returns any complete speakable
// text. The cut happens at the LAST sentence terminal currently in the
// buffer, so a burst of several short sentences comes back as one chunk and
// produces one synthesis round-trip instead of many.
func (c *Chunker) Feed(fragment string) string {
	c.buf.WriteString(fragment)

	text := c.buf.String()
	cut := lastTerminal(text)
	if cut < 0 {
		return ""
	}

	// A terminal inside an unterminated command tag ("[[ACTION: wow!") is
	// not a sentence end. Hold the cut until the tag closes so bracket
	// debris never reaches the synthesizer.
	if open := openTag(text); open >= 0 && cut > open {
		cut = lastTerminal(text[:open])
		if cut < 0 {
			return ""
		}
	}

	complete := text[:cut]
	rest := text[cut:]
	c.buf.Reset()
	c.buf.WriteString(rest)

	return strings.TrimSpace(complete)
}

// Flush returns whatever text remains in the buffer, trimmed, and resets the
// chunker. Called once after the stream ends so a response without a trailing
// terminal is still spoken.
func (c *Chunker) Flush() string {
	rest := strings.TrimSpace(c.buf.String())
	c.buf.Reset()
	return rest
}

// Pending returns the current unterminated buffer content without consuming
// it.
func (c *Chunker) Pending() string {
	return c.buf.String()
}

// openTag returns the byte index of the last "[[" in s that has no closing
// "]]" after it, or -1 when every tag is closed.
func openTag(s string) int {
	open := strings.LastIndex(s, "[[")
	if open < 0 || strings.Contains(s[open:], "]]") {
		return -1
	}
	return open
}

// lastTerminal returns the byte index just past the last sentence terminal
// in s, or -1 if none is present.
func lastTerminal(s string) int {
	last := -1
	for i, r := range s {
		for _, t := range sentenceTerminals {
			if r == t {
				last = i + len(string(r))
				break
			}
		}
	}
	return last
}
