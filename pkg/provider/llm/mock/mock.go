// Package mock provides a mock implementation of llm.Provider for testing.
package mock

import (
	"context"
	"sync"

	"github.com/SuperGokou/kidsBot/pkg/provider/llm"
)

// Compile-time assertion that Provider implements llm.Provider.
var _ llm.Provider = (*Provider)(nil)

// Provider is a configurable mock LLM provider. All fields may be set before
// use; the recorded call slices are safe for concurrent access.
type Provider struct {
	mu sync.Mutex

	// StreamChunks are emitted in order by StreamCompletion before the channel
	// is closed.
	StreamChunks []llm.Chunk

	// StreamErr, when non-nil, is returned by StreamCompletion instead of a
	// channel.
	StreamErr error

	// CompleteResponse is returned by Complete when CompleteErr is nil.
	CompleteResponse *llm.CompletionResponse

	// CompleteErr, when non-nil, is returned by Complete.
	CompleteErr error

	// TokenCount is returned by CountTokens when TokenCountErr is nil.
	TokenCount int

	// TokenCountErr, when non-nil, is returned by CountTokens.
	TokenCountErr error

	// ModelCapabilities is returned by Capabilities.
	ModelCapabilities llm.ModelCapabilities

	// StreamFn, when set, overrides the canned StreamChunks behaviour. It runs
	// in the caller's goroutine and must return a channel that will be closed.
	StreamFn func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error)

	// StreamCalls records every request passed to StreamCompletion.
	StreamCalls []llm.CompletionRequest

	// CompleteCalls records every request passed to Complete.
	CompleteCalls []llm.CompletionRequest
}

// StreamCompletion implements llm.Provider.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.StreamCalls = append(p.StreamCalls, req)
	streamFn := p.StreamFn
	streamErr := p.StreamErr
	chunks := make([]llm.Chunk, len(p.StreamChunks))
	copy(chunks, p.StreamChunks)
	p.mu.Unlock()

	if streamFn != nil {
		return streamFn(ctx, req)
	}
	if streamErr != nil {
		return nil, streamErr
	}

	ch := make(chan llm.Chunk, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.CompleteCalls = append(p.CompleteCalls, req)
	resp := p.CompleteResponse
	err := p.CompleteErr
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if resp == nil {
		return &llm.CompletionResponse{}, nil
	}
	return resp, nil
}

// CountTokens implements llm.Provider.
func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.TokenCountErr != nil {
		return 0, p.TokenCountErr
	}
	return p.TokenCount, nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelCapabilities
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StreamCalls = nil
	p.CompleteCalls = nil
}
