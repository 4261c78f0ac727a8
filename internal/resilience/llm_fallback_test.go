package resilience

import (
	"context"
	"testing"

	"github.com/SuperGokou/kidsBot/pkg/provider/llm"
	llmmock "github.com/SuperGokou/kidsBot/pkg/provider/llm/mock"
)

func TestLLMFallback_StreamFailsOver(t *testing.T) {
	primary := &llmmock.Provider{StreamErr: errTest}
	backup := &llmmock.Provider{StreamChunks: []llm.Chunk{
		{Text: "Hello!"},
		{FinishReason: "stop"},
	}}

	f := NewLLMFallback(primary, "primary", FallbackConfig{})
	f.AddFallback("backup", backup)

	req := llm.CompletionRequest{Messages: []llm.Message{{Role: "user", Content: "hi"}}}
	ch, err := f.StreamCompletion(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var text string
	for chunk := range ch {
		text += chunk.Text
	}
	if text != "Hello!" {
		t.Errorf("stream text = %q, want %q", text, "Hello!")
	}
	if len(primary.StreamCalls) != 1 {
		t.Errorf("primary calls = %d, want 1", len(primary.StreamCalls))
	}
	if len(backup.StreamCalls) != 1 {
		t.Errorf("backup calls = %d, want 1", len(backup.StreamCalls))
	}
}

func TestLLMFallback_CompleteUsesPrimary(t *testing.T) {
	primary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "from primary"}}
	backup := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "from backup"}}

	f := NewLLMFallback(primary, "primary", FallbackConfig{})
	f.AddFallback("backup", backup)

	req := llm.CompletionRequest{Messages: []llm.Message{{Role: "user", Content: "hi"}}}
	resp, err := f.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "from primary" {
		t.Errorf("content = %q, want from primary", resp.Content)
	}
	if len(backup.CompleteCalls) != 0 {
		t.Errorf("backup calls = %d, want 0", len(backup.CompleteCalls))
	}
}

func TestLLMFallback_Capabilities(t *testing.T) {
	primary := &llmmock.Provider{ModelCapabilities: llm.ModelCapabilities{ContextWindow: 64000}}
	f := NewLLMFallback(primary, "primary", FallbackConfig{})

	if got := f.Capabilities().ContextWindow; got != 64000 {
		t.Errorf("ContextWindow = %d, want 64000", got)
	}
}
