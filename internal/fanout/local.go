package fanout

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// RunFunc executes one task and reports its result. It must not return
// a zero Result for a failed task.
type RunFunc func(ctx context.Context, t Task) Result

// ContinueFunc is the fan-in continuation.
type ContinueFunc func(ctx context.Context, results []Result) error

// RunLocal runs every task of plan on goroutines, at most concurrency at
// a time, and calls cont once from the goroutine whose result completes
// the barrier. It returns cont's error.
func RunLocal(ctx context.Context, plan *Plan, concurrency int, barrier Barrier, run RunFunc, cont ContinueFunc) error {
	if plan.Total() == 0 {
		return cont(ctx, nil)
	}

	g := new(errgroup.Group)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}

	var contErr error
	for _, task := range plan.Tasks {
		g.Go(func() error {
			res := run(ctx, task)
			res.Index = task.Index
			res.Name = task.Name
			res.Main = task.Main

			results, fire, err := barrier.Arrive(ctx, plan.GroupID, plan.Total(), res)
			if err != nil {
				return fmt.Errorf("task %s: %w", task.Name, err)
			}
			if fire {
				contErr = cont(ctx, results)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return contErr
}
