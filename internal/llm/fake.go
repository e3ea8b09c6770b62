package llm

import (
	"context"
	"sync"
)

// FakeProvider replays scripted responses in order. Tests use it to drive
// the tool loop deterministically.
type FakeProvider struct {
	mu        sync.Mutex
	responses []*Response
	errs      []error
	calls     int

	// Requests records every request received, for assertions.
	Requests []*Request
}

// NewFakeProvider scripts the given responses. A nil entry in errs (or a
// shorter errs slice) means that call succeeds.
func NewFakeProvider(responses ...*Response) *FakeProvider {
	return &FakeProvider{responses: responses}
}

// FailWith scripts an error for the call at index i.
func (f *FakeProvider) FailWith(i int, err error) *FakeProvider {
	f.mu.Lock()
	defer f.mu.Unlock()
	for len(f.errs) <= i {
		f.errs = append(f.errs, nil)
	}
	f.errs[i] = err
	return f
}

// Name implements Provider.
func (f *FakeProvider) Name() string { return "fake" }

// Complete implements Provider.
func (f *FakeProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	i := f.calls
	f.calls++
	f.Requests = append(f.Requests, req)

	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i >= len(f.responses) {
		return nil, ErrEmptyCompletion
	}
	return f.responses[i], nil
}

// Calls returns how many completions were requested.
func (f *FakeProvider) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
