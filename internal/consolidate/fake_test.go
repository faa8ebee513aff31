package consolidate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sokinpui/coda/internal/llm"
)

// fakeClient replays scripted replies and records every request.
type fakeClient struct {
	mu        sync.Mutex
	completes []func() (string, error)
	calls     []func() (llm.Response, error)
	requests  [][]llm.Message
	tools     []string
}

func (f *fakeClient) onComplete(text string, err error) *fakeClient {
	f.completes = append(f.completes, func() (string, error) { return text, err })
	return f
}

func (f *fakeClient) onCall(resp llm.Response, err error) *fakeClient {
	f.calls = append(f.calls, func() (llm.Response, error) { return resp, err })
	return f
}

func (f *fakeClient) Complete(_ context.Context, messages []llm.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, messages)
	if len(f.completes) == 0 {
		return "", fmt.Errorf("unexpected Complete call %d", len(f.requests))
	}
	next := f.completes[0]
	f.completes = f.completes[1:]
	return next()
}

func (f *fakeClient) CallFunction(_ context.Context, messages []llm.Message, tool llm.Tool) (llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, messages)
	f.tools = append(f.tools, tool.Name)
	if len(f.calls) == 0 {
		return llm.Response{}, fmt.Errorf("unexpected CallFunction call %d", len(f.requests))
	}
	next := f.calls[0]
	f.calls = f.calls[1:]
	return next()
}

func (f *fakeClient) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type change struct {
	FilePath string  `json:"filePath"`
	Action   string  `json:"action"`
	Content  *string `json:"content,omitempty"`
}

func str(s string) *string { return &s }

func proposeCall(changes ...change) llm.Response {
	args, err := json.Marshal(map[string]any{"changes": changes})
	if err != nil {
		panic(err)
	}
	return llm.Response{Call: &llm.FunctionCall{Name: llm.ProposeChangesName, Arguments: args}}
}
