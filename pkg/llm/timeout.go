// Copyright 2026 © The Waspnest Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/jllopis/waspnest/pkg/errors"
)

type timeoutProvider struct {
	next Provider
	d    time.Duration
}

// WithTimeout bounds every Chat call of next by d. A call that exceeds it
// returns a TIMEOUT error; a call whose caller cancels it returns the
// cancellation. A non-positive d returns next unchanged.
func WithTimeout(next Provider, d time.Duration) Provider {
	if d <= 0 {
		return next
	}
	return &timeoutProvider{next: next, d: d}
}

func (p *timeoutProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, p.d)
	defer cancel()

	type result struct {
		resp *ChatResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := p.next.Chat(ctx, req)
		done <- result{resp, err}
	}()

	select {
	case <-ctx.Done():
		if !stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ctx.Err()
		}
		return nil, p.timeoutError(ctx, req)
	case res := <-done:
		if res.err != nil && stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, p.timeoutError(ctx, req)
		}
		return res.resp, res.err
	}
}

func (p *timeoutProvider) timeoutError(ctx context.Context, req ChatRequest) error {
	return errors.New(errors.CodeTimeout, "llm call exceeded timeout", ctx.Err()).
		WithContext("timeout", p.d.String()).
		WithContext("model", req.Model).
		WithRecoverable(true)
}
