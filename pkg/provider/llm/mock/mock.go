// Package mock provides a scriptable [llm.Provider] for tests.
//
// Complete answers, in order of precedence, from CompleteFunc, then from the
// Replies queue, then with CompleteResponse and CompleteErr:
//
//	p := &mock.Provider{Replies: []string{"Hallo Welt.", "Wie geht's?"}}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/captionflow/pkg/provider/llm"
)

// CompleteCall is one recorded Complete invocation.
type CompleteCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider is a test double for [llm.Provider]. Configure it before first use.
type Provider struct {
	CompleteFunc     func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
	Replies          []string // consumed one per call
	CompleteResponse *llm.CompletionResponse
	CompleteErr      error

	TokenCount        int
	CountTokensErr    error
	ModelCapabilities llm.ModelCapabilities

	mu            sync.Mutex
	CompleteCalls []CompleteCall
}

var _ llm.Provider = (*Provider)(nil)

func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	fn := p.CompleteFunc
	var reply *llm.CompletionResponse
	if fn == nil && len(p.Replies) > 0 {
		reply = &llm.CompletionResponse{Content: p.Replies[0]}
		p.Replies = p.Replies[1:]
	}
	resp, err := p.CompleteResponse, p.CompleteErr
	p.mu.Unlock()

	switch {
	case fn != nil:
		return fn(ctx, req)
	case reply != nil:
		return reply, nil
	}
	return resp, err
}

// CountTokens returns TokenCount and CountTokensErr.
func (p *Provider) CountTokens([]llm.Message) (int, error) {
	return p.TokenCount, p.CountTokensErr
}

// Capabilities returns ModelCapabilities.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	return p.ModelCapabilities
}

// Calls returns a snapshot of the recorded Complete calls.
func (p *Provider) Calls() []CompleteCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]CompleteCall(nil), p.CompleteCalls...)
}

// LastRequest returns the most recent Complete request, if any.
func (p *Provider) LastRequest() (llm.CompletionRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.CompleteCalls) == 0 {
		return llm.CompletionRequest{}, false
	}
	return p.CompleteCalls[len(p.CompleteCalls)-1].Req, true
}
