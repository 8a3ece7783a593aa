// Package mock provides a test double for the vision.Analyzer interface.
//
// Use Analyzer in unit tests to verify that the analysis loop sends the
// expected rolling context and to feed controlled observations without a live
// model backend.
//
// Example:
//
//	a := &mock.Analyzer{
//	    Results: []vision.Result{{Observation: vision.Observation{Commentary: "Hi."}}},
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/adroast/pkg/provider/vision"
)

// AnalyzeCall records a single invocation of Analyze.
type AnalyzeCall struct {
	// Ctx is the context passed to Analyze.
	Ctx context.Context
	// Req is the Request passed to Analyze.
	Req vision.Request
}

// Analyzer is a mock implementation of vision.Analyzer.
//
// Results are returned in order; once exhausted the last result is repeated.
// Errs, when set, is consulted by index first: a non-nil entry is returned as
// the error for that call.
type Analyzer struct {
	mu sync.Mutex

	// Results is the sequence of results returned by Analyze.
	Results []vision.Result

	// Errs holds per-call errors aligned with call order.
	Errs []error

	// Err, if non-nil, is returned from every call not covered by Errs.
	Err error

	// Block, if non-nil, makes Analyze wait until the channel is closed or
	// ctx is done. Useful for exercising in-flight behaviour.
	Block chan struct{}

	// Calls records every invocation of Analyze in order.
	Calls []AnalyzeCall
}

// Analyze records the call and returns the next configured result or error.
func (a *Analyzer) Analyze(ctx context.Context, req vision.Request) (vision.Result, error) {
	a.mu.Lock()
	idx := len(a.Calls)
	a.Calls = append(a.Calls, AnalyzeCall{Ctx: ctx, Req: req})
	block := a.Block
	a.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return vision.Result{}, ctx.Err()
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if idx < len(a.Errs) && a.Errs[idx] != nil {
		return vision.Result{}, a.Errs[idx]
	}
	if a.Err != nil && idx >= len(a.Errs) {
		return vision.Result{}, a.Err
	}
	if len(a.Results) == 0 {
		return vision.Result{}, nil
	}
	if idx >= len(a.Results) {
		idx = len(a.Results) - 1
	}
	return a.Results[idx], nil
}

// CallCount returns the number of Analyze invocations so far.
func (a *Analyzer) CallCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.Calls)
}

// LastRequest returns the most recent request, or the zero value.
func (a *Analyzer) LastRequest() vision.Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.Calls) == 0 {
		return vision.Request{}
	}
	return a.Calls[len(a.Calls)-1].Req
}

// Reset clears all recorded calls.
func (a *Analyzer) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Calls = nil
}

// Ensure Analyzer implements vision.Analyzer at compile time.
var _ vision.Analyzer = (*Analyzer)(nil)
