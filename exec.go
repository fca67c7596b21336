package bpp

import (
	"context"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/bpp-build/bpp/internal/ui"
)

// execute drains the planned order with a fixed pool of workers. Each
// worker pops the back of the shared queue, waits for the popped
// step's dependencies and inputs, then performs the step if its
// artifact is not already cached. The first error wins and cancels the
// pool: no step partway through a failed build gets a second chance,
// the next invocation re-enters at the failed step via cache miss.
func (b *Build) execute(order []*Step) error {
	queue := make([]*Step, len(order))
	copy(queue, order)
	var mu sync.Mutex

	pop := func() *Step {
		mu.Lock()
		defer mu.Unlock()
		if len(queue) == 0 {
			return nil
		}
		s := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		return s
	}

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < b.Jobs; i++ {
		g.Go(func() error {
			for ctx.Err() == nil {
				step := pop()
				if step == nil {
					return nil
				}
				for _, dep := range step.deps {
					if !awaitStep(ctx, dep) {
						return nil
					}
				}
				for _, in := range step.inputs {
					if in.Step != nil && !awaitStep(ctx, in.Step) {
						return nil
					}
				}
				if err := b.performIfNeeded(step); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// awaitStep blocks on the step's completion latch. A cancelled pool
// wakes the waiter; the return reports whether the step completed.
func awaitStep(ctx context.Context, s *Step) bool {
	select {
	case <-s.done:
		return true
	case <-ctx.Done():
		return false
	}
}

// performIfNeeded derives the step's fingerprint, short-circuits on a
// cache hit for non-phony steps, and otherwise runs the action and
// promotes its output.
func (b *Build) performIfNeeded(step *Step) error {
	if step.isCompleted() {
		return nil
	}

	// Dependency fingerprints are final here: completion latches were
	// awaited before this call.
	var h Fingerprint
	for _, dep := range step.deps {
		h = h.CombineUnordered(dep.fp)
	}
	for _, in := range step.inputs {
		if in.Step != nil {
			h = h.CombineUnordered(in.Step.fp)
		}
	}
	if step.Hash != nil {
		var err error
		h, err = step.Hash(h)
		if err != nil {
			return &ActionError{Step: step.opts.Name, Err: err}
		}
	}
	step.fp = h
	step.fpSet = true

	if !step.opts.Phony {
		if b.store.Contains(h) {
			if !step.opts.Silent && ui.Verbose() {
				ui.Stepf(step.opts.Name, "up-to-date")
			}
			step.markCompleted()
			return nil
		}
		if !step.opts.Silent {
			ui.Verbosef("%s %s needs to be performed, cache miss at %s",
				ui.Gray("[step]"), ui.Yellow(step.opts.Name), b.store.ArtifactPath(h))
		}
	}

	if step.Action != nil {
		tmp := b.store.TempPath()
		if err := step.Action(tmp); err != nil {
			return &ActionError{Step: step.opts.Name, Err: err}
		}
		if _, err := os.Lstat(tmp); err == nil {
			if err := b.store.Promote(h, tmp); err != nil {
				return err
			}
		}
	}

	if !step.opts.Silent {
		ui.Stepf(step.opts.Name, "completed")
	}
	step.markCompleted()
	return nil
}
