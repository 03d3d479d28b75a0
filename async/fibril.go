// Copyright 2024 The gomicrokernel Authors. All Rights Reserved.

package async

import (
	"context"
	"sync"

	"github.com/gomicrokernel/ipc"
)

// FibrilPool dispatches inbound requests arriving on an answerbox to
// handler goroutines, the same "spawn a goroutine per inbound op, bound the
// number in flight" structure the original jacobsa/fuse connection uses for
// its ReadOp loop, standing in for HelenOS's cooperative fibrils: Go
// already gives each handler its own stack and scheduler slot, so the
// fibril scheduler's job reduces to bounding concurrency and making sure
// every handler eventually answers what it was given.
type FibrilPool struct {
	box     *ipc.Answerbox
	handler func(context.Context, *ipc.Call)

	sem chan struct{}
	wg  sync.WaitGroup
}

// NewFibrilPool creates a pool that will call handler for every call
// received on box, running at most maxConcurrent handlers at once (0 means
// unbounded). handler is responsible for eventually calling ipc.Answer (or
// ipc.Forward) on the call it is given.
func NewFibrilPool(box *ipc.Answerbox, maxConcurrent int, handler func(context.Context, *ipc.Call)) *FibrilPool {
	p := &FibrilPool{box: box, handler: handler}
	if maxConcurrent > 0 {
		p.sem = make(chan struct{}, maxConcurrent)
	}
	return p
}

// Run receives calls from the pool's answerbox until ctx is done, dispatching
// each to a handler goroutine. It returns once ctx is done and every
// in-flight handler has returned.
func (p *FibrilPool) Run(ctx context.Context) {
	for {
		c, src := p.box.Wait(ctx, 0, 0)
		if c == nil {
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if src == ipc.SourceAnswer {
			// A reply to a request this pool itself originated; nothing to
			// dispatch, it's the caller's own async.Manager's job to
			// collect these. Drop it rather than misrouting it to handler.
			continue
		}

		if p.sem != nil {
			p.sem <- struct{}{}
		}
		p.wg.Add(1)
		go func(c *ipc.Call) {
			defer p.wg.Done()
			if p.sem != nil {
				defer func() { <-p.sem }()
			}
			p.handler(ctx, c)
		}(c)
	}
	p.wg.Wait()
}
