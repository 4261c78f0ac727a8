// Package brain builds LLM requests for the conversation loop: per-mode
// system prompts, memory-augmented context, streaming responses, fact
// extraction, and the daily parent report.
package brain

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/SuperGokou/kidsBot/internal/convo"
	"github.com/SuperGokou/kidsBot/pkg/memory"
	"github.com/SuperGokou/kidsBot/pkg/provider/embeddings"
	"github.com/SuperGokou/kidsBot/pkg/provider/llm"
)

const (
	// responseTemperature keeps replies lively without going off the rails.
	responseTemperature = 0.7

	// responseMaxTokens caps reply length; spoken answers must stay short.
	responseMaxTokens = 256

	// extractionTemperature keeps fact mining near-deterministic.
	extractionTemperature = 0.1

	// historyWindow is how many recent turns are sent as context.
	historyWindow = 10

	// factTopK is how many remembered facts are folded into the prompt.
	factTopK = 5
)

// Brain owns the LLM-facing half of a conversation turn.
type Brain struct {
	llm        llm.Provider
	store      memory.Store
	embeddings embeddings.Provider
	botName    string
	childID    string
	log        *slog.Logger
}

// Option is a functional option for Brain.
type Option func(*Brain)

// WithMemory wires the long-term fact store and its embeddings provider.
// Without it the brain still converses, just without personalisation.
func WithMemory(store memory.Store, emb embeddings.Provider) Option {
	return func(b *Brain) {
		b.store = store
		b.embeddings = emb
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(b *Brain) {
		b.log = log
	}
}

// New creates a Brain. botName is the name the bot uses for itself; childID
// scopes memory to one child.
func New(provider llm.Provider, botName, childID string, opts ...Option) (*Brain, error) {
	if provider == nil {
		return nil, fmt.Errorf("brain: llm provider must not be nil")
	}
	if botName == "" {
		botName = "Kiko"
	}
	b := &Brain{
		llm:     provider,
		botName: botName,
		childID: childID,
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// BotName returns the configured bot name.
func (b *Brain) BotName() string {
	return b.botName
}

// Respond streams the reply to userText given the conversation so far. The
// returned channel follows the llm.Provider contract: closed when generation
// finishes, mid-stream failures surfaced as a Chunk with FinishReason
// "error".
func (b *Brain) Respond(ctx context.Context, mode convo.Mode, history []convo.Turn, userText string) (<-chan llm.Chunk, error) {
	facts := b.relevantFacts(ctx, userText)

	messages := make([]llm.Message, 0, 2*historyWindow+1)
	start := len(history) - historyWindow
	if start < 0 {
		start = 0
	}
	for _, turn := range history[start:] {
		messages = append(messages,
			llm.Message{Role: "user", Content: turn.UserText},
			llm.Message{Role: "assistant", Content: turn.BotText},
		)
	}
	messages = append(messages, llm.Message{Role: "user", Content: userText})

	return b.llm.StreamCompletion(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt(b.botName, mode, facts),
		Messages:     messages,
		Temperature:  responseTemperature,
		MaxTokens:    responseMaxTokens,
	})
}

// ExtractAndRemember mines userText for a durable fact and stores it.
// Returns the stored fact, or "" when the utterance held nothing worth
// remembering. Failures are logged and swallowed; fact extraction must never
// break a conversation turn.
func (b *Brain) ExtractAndRemember(ctx context.Context, userText string) string {
	if b.store == nil || b.embeddings == nil {
		return ""
	}

	resp, err := b.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: factExtractionPrompt,
		Messages:     []llm.Message{{Role: "user", Content: userText}},
		Temperature:  extractionTemperature,
		MaxTokens:    64,
	})
	if err != nil {
		b.log.Warn("fact extraction failed", "error", err)
		return ""
	}

	line := strings.TrimSpace(resp.Content)
	if !strings.HasPrefix(strings.ToUpper(line), "YES|") {
		return ""
	}
	fact := strings.TrimSpace(line[len("YES|"):])
	if fact == "" {
		return ""
	}

	vec, err := b.embeddings.Embed(ctx, fact)
	if err != nil {
		b.log.Warn("fact embedding failed", "error", err)
		return ""
	}
	err = b.store.AddFact(ctx, memory.Fact{
		ID:        uuid.NewString(),
		ChildID:   b.childID,
		Content:   fact,
		Embedding: vec,
		Source:    "conversation",
	})
	if err != nil {
		b.log.Warn("fact storage failed", "error", err)
		return ""
	}
	b.log.Info("remembered fact", "fact", fact)
	return fact
}

// DailyReport summarises the facts learned since the given time into a short
// parent-facing note. Returns "" when nothing was learned.
func (b *Brain) DailyReport(ctx context.Context, since time.Time) (string, error) {
	if b.store == nil {
		return "", nil
	}

	facts, err := b.store.RecentFacts(ctx, b.childID, since)
	if err != nil {
		return "", fmt.Errorf("brain: daily report: %w", err)
	}
	if len(facts) == 0 {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString("Today the child shared:\n")
	for _, f := range facts {
		sb.WriteString("- ")
		sb.WriteString(f.Content)
		sb.WriteString("\n")
	}

	resp, err := b.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: reportPrompt,
		Messages:     []llm.Message{{Role: "user", Content: sb.String()}},
		Temperature:  responseTemperature,
		MaxTokens:    responseMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("brain: daily report: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}

// Apology returns a random spoken apology for a failed turn.
func Apology() string {
	return apologies[rand.Intn(len(apologies))]
}

// relevantFacts retrieves the stored facts most related to userText. Any
// failure degrades to an empty list.
func (b *Brain) relevantFacts(ctx context.Context, userText string) []string {
	if b.store == nil || b.embeddings == nil {
		return nil
	}

	vec, err := b.embeddings.Embed(ctx, userText)
	if err != nil {
		b.log.Warn("query embedding failed", "error", err)
		return nil
	}
	results, err := b.store.SearchFacts(ctx, b.childID, vec, factTopK)
	if err != nil {
		b.log.Warn("fact search failed", "error", err)
		return nil
	}

	facts := make([]string, 0, len(results))
	for _, r := range results {
		facts = append(facts, r.Content)
	}
	return facts
}
