package brain

import (
	"fmt"
	"strings"

	"github.com/SuperGokou/kidsBot/internal/convo"
)

// basePrompt is shared by every mode and sets the persona and safety rules.
const basePrompt = `You are %s, a warm and playful voice companion for a young child.
Keep every reply short, cheerful, and easy to understand when read aloud.
Use simple words, short sentences, and never more than three sentences unless telling a story.
Never discuss violence, scary topics, or anything inappropriate for a small child.
If the child asks about something unsafe, gently steer the conversation somewhere fun.`

// commandInstruction teaches the model the in-band tag grammar. Tags are
// stripped before speech, so they must appear exactly in this format.
const commandInstruction = `You can control the robot with special tags at the START of your reply:
[[MODE: chat]] [[MODE: story]] [[MODE: learning]] [[MODE: game]] switch conversation mode.
[[ACTION: nod]] [[ACTION: shake_head]] [[ACTION: dance]] [[ACTION: happy]] [[ACTION: sad]] [[ACTION: wave]] [[ACTION: think]] [[ACTION: celebrate]] play an expressive animation.
[[LANGUAGE: en]] or [[LANGUAGE: zh]] switch speaking language.
Only emit a tag when the child asks for it or it clearly fits. Never explain the tags.`

// modePrompts adds per-mode behaviour on top of the base persona.
var modePrompts = map[convo.Mode]string{
	convo.ModeChat: `Right now you are in chat mode: have a friendly back-and-forth conversation.
Ask a small question back now and then to keep the child engaged.`,

	convo.ModeStory: `Right now you are in story mode: tell imaginative, gentle stories.
Tell the story a few sentences at a time and pause so the child can react.
Stories should have friendly characters and happy endings.`,

	convo.ModeLearning: `Right now you are in learning mode: explain things in a fun, simple way.
Use playful comparisons a small child would know, and praise curiosity.`,

	convo.ModeGame: `Right now you are in game mode: play simple spoken games like
riddles, "I spy", counting games, or animal sounds. Keep rounds short, take
turns, and celebrate when the child gets something right.`,
}

// greetings spoken when a mode becomes active.
var greetings = map[convo.Mode]string{
	convo.ModeChat:     "Hi! I'm %s. How can I help you today?",
	convo.ModeStory:    "Story time! What kind of story would you like to hear?",
	convo.ModeLearning: "Let's learn something fun! What are you curious about?",
	convo.ModeGame:     "Let's play a game! Want a riddle or an animal sound game?",
}

// apologies are spoken when the response pipeline fails mid-turn.
var apologies = []string{
	"Oops, I got a little mixed up. Can you say that again?",
	"Hmm, my ears went fuzzy for a second. One more time?",
	"Sorry, I lost my thought! What were we saying?",
}

// Greeting returns the spoken greeting for a mode, with the bot's name
// substituted where the template calls for it.
func Greeting(mode convo.Mode, botName string) string {
	g, ok := greetings[mode]
	if !ok {
		g = greetings[convo.ModeChat]
	}
	if strings.Contains(g, "%s") {
		return fmt.Sprintf(g, botName)
	}
	return g
}

// systemPrompt assembles the full system prompt for one turn.
func systemPrompt(botName string, mode convo.Mode, facts []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, basePrompt, botName)
	sb.WriteString("\n\n")
	sb.WriteString(commandInstruction)

	if mp, ok := modePrompts[mode]; ok {
		sb.WriteString("\n\n")
		sb.WriteString(mp)
	}

	if len(facts) > 0 {
		sb.WriteString("\n\nThings you remember about this child:\n")
		for _, f := range facts {
			sb.WriteString("- ")
			sb.WriteString(f)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// factExtractionPrompt asks the model to mine one durable fact from an
// utterance. The reply protocol is a single line: "NO" or "YES|<fact>".
const factExtractionPrompt = `You review one sentence a child said to their robot companion.
If it reveals a lasting fact about the child (a favourite thing, a family member, a pet, a fear, an important event), reply with exactly:
YES|<the fact in one short sentence>
Otherwise reply with exactly:
NO
Reply with nothing else.`

// reportPrompt turns a day of facts and conversation topics into a short
// parent-facing summary.
const reportPrompt = `You write a short daily note to a parent about their child's chats with a robot companion.
Write 3-5 warm, observational sentences in the style of a Montessori teacher: what the child was curious about, what they practised, and one gentle suggestion for the parent.
Do not mention that you are an AI or quote the child verbatim.`
