package agent

import (
	"context"
	"sync"

	"github.com/crabclaw/crabclaw/pkg/models"
)

// fakeProvider replays scripted responses and records each request.
type fakeProvider struct {
	mu        sync.Mutex
	responses []fakeResponse
	requests  []*CompletionRequest
}

type fakeResponse struct {
	text  string
	calls []models.ToolCall
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	idx := len(p.requests) - 1
	if idx >= len(p.responses) {
		idx = len(p.responses) - 1
	}
	resp := p.responses[idx]
	p.mu.Unlock()

	chunks := make(chan *CompletionChunk)
	go func() {
		defer close(chunks)
		for _, fragment := range splitFragments(resp.text) {
			chunks <- &CompletionChunk{Text: fragment}
		}
		for i, call := range resp.calls {
			chunks <- &CompletionChunk{ToolCallStart: &ToolCallStart{
				Index: i,
				ID:    call.ID,
				Name:  call.Function.Name,
			}}
			if call.Function.Arguments != "" {
				chunks <- &CompletionChunk{ToolCallArg: &ToolCallArgument{
					Index: i,
					Text:  call.Function.Arguments,
				}}
			}
		}
		chunks <- &CompletionChunk{Done: true}
	}()
	return chunks, nil
}

func (p *fakeProvider) requestCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// splitFragments cuts text into two pieces so streaming assembly is
// actually exercised.
func splitFragments(text string) []string {
	if len(text) < 2 {
		if text == "" {
			return nil
		}
		return []string{text}
	}
	mid := len(text) / 2
	return []string{text[:mid], text[mid:]}
}
