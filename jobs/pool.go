/* Copyright 2026 Comcast Cable Communications Management, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package jobs

import (
	"context"
	"sync/atomic"

	"github.com/Comcast/pvm/storage"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Executor runs one locked job.  *Runner is one.
type Executor interface {
	Execute(ctx context.Context, j storage.Job) error
}

// Pool executes jobs with bounded concurrency.
//
// Run executes a batch and waits for it.  Submit starts one job and
// returns at once; Wait waits for every submitted job.
type Pool struct {
	Executor Executor

	n    int64
	busy atomic.Int64
	sem  *semaphore.Weighted
	g    errgroup.Group
}

// NewPool makes a Pool that runs at most n jobs at once.
func NewPool(e Executor, n int) *Pool {
	if n <= 0 {
		n = 1
	}
	return &Pool{
		Executor: e,
		n:        int64(n),
		sem:      semaphore.NewWeighted(int64(n)),
	}
}

// Free is the number of idle slots.
func (p *Pool) Free() int {
	return int(p.n - p.busy.Load())
}

func (p *Pool) acquire(ctx context.Context) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	p.busy.Add(1)
	return nil
}

func (p *Pool) release() {
	p.busy.Add(-1)
	p.sem.Release(1)
}

// Run executes the jobs and waits for them all.  The first Executor
// error cancels the jobs that haven't started.
func (p *Pool) Run(parent context.Context, js []storage.Job) error {
	g, ctx := errgroup.WithContext(parent)
	for _, j := range js {
		if err := p.acquire(ctx); err != nil {
			break
		}
		j := j
		g.Go(func() error {
			defer p.release()
			return p.Executor.Execute(ctx, j)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return parent.Err()
}

// Submit waits for a free slot and starts the job without waiting for
// it to finish.
func (p *Pool) Submit(ctx context.Context, j storage.Job) error {
	if err := p.acquire(ctx); err != nil {
		return err
	}
	p.g.Go(func() error {
		defer p.release()
		return p.Executor.Execute(ctx, j)
	})
	return nil
}

// Wait waits for the submitted jobs and returns the first error one of
// them returned.
func (p *Pool) Wait() error {
	return p.g.Wait()
}
