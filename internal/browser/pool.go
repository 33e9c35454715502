// Package browser drives headless Chrome for form filling and submission.
// Browser sessions are expensive, so a bounded pool hands them out with
// scoped acquire/release semantics.
package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/chromedp"
	"golang.org/x/sync/semaphore"
)

// Pool bounds the number of concurrent browser sessions. All sessions share
// one exec allocator so they reuse a single Chrome process tree.
type Pool struct {
	allocCtx    context.Context
	cancelAlloc context.CancelFunc
	slots       *semaphore.Weighted
}

// NewPool creates a pool allowing at most size concurrent sessions.
// Requires Chrome/Chromium to be installed on the system.
func NewPool(ctx context.Context, size int) *Pool {
	if size < 1 {
		size = 1
	}

	allocCtx, cancel := chromedp.NewExecAllocator(ctx,
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)...,
	)

	return &Pool{
		allocCtx:    allocCtx,
		cancelAlloc: cancel,
		slots:       semaphore.NewWeighted(int64(size)),
	}
}

// WithSession acquires a session slot, runs fn with a fresh browser tab
// context, and releases the slot when fn returns. The session cannot escape
// fn's scope.
func (p *Pool) WithSession(ctx context.Context, fn func(sessionCtx context.Context) error) error {
	if err := p.slots.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("failed to acquire browser session: %w", err)
	}
	defer p.slots.Release(1)

	sessionCtx, cancel := chromedp.NewContext(p.allocCtx)
	defer cancel()

	// The caller's deadline still applies inside the session.
	if deadline, ok := ctx.Deadline(); ok {
		sessionCtx, cancel = context.WithDeadline(sessionCtx, deadline)
		defer cancel()
	}

	return fn(sessionCtx)
}

// Close shuts down the shared browser process tree.
func (p *Pool) Close() {
	p.cancelAlloc()
}
