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
	"errors"
	"log/slog"

	"github.com/Comcast/pvm/command"
	"github.com/Comcast/pvm/internal/slogx"
	"github.com/Comcast/pvm/storage"
)

// Worker acquires and executes jobs until its context is done.
type Worker struct {
	Config   Config
	Acquirer *Acquirer
	Runner   *Runner
	Pool     *Pool
	Logger   *slog.Logger
}

// NewWorker wires an Acquirer, a Runner with the standard handlers,
// and a Pool for the executor's store.
func NewWorker(x *command.Executor, c Config, logger *slog.Logger) (*Worker, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slogx.LoggerName("jobs"), "owner", c.Owner)
	r := &Runner{
		Executor: x,
		Config:   c,
		Handlers: StandardHandlers(),
		Logger:   logger,
	}
	return &Worker{
		Config: c,
		Acquirer: &Acquirer{
			Store:  x.Store,
			Config: c,
			Now:    x.Now,
			Logger: logger,
		},
		Runner: r,
		Pool:   NewPool(r, c.Concurrency),
		Logger: logger,
	}, nil
}

// RunOnce runs one acquisition cycle and executes what it got.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	js, err := w.Acquirer.Cycle(ctx)
	if err != nil && len(js) == 0 {
		return 0, err
	}
	if perr := w.Pool.Run(ctx, js); perr != nil {
		return len(js), perr
	}
	return len(js), err
}

// Drain runs cycles until one finds nothing to do.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := w.RunOnce(ctx)
		total += n
		if err != nil || n == 0 {
			return total, err
		}
	}
}

// Run acquires jobs until ctx is done, submitting them to the Pool
// without waiting for them.  Each cycle locks no more jobs than the
// Pool has free slots.  Run returns after the running jobs finish.
func (w *Worker) Run(ctx context.Context) error {
	w.Logger.InfoContext(ctx, "worker starting")
	a := *w.Acquirer
	a.Capacity = w.Pool.Free
	err := a.Run(ctx, w.submit)
	if perr := w.Pool.Wait(); perr != nil && !errors.Is(perr, ctx.Err()) {
		w.Logger.WarnContext(ctx, "jobs at shutdown", slogx.Error(perr))
	}
	return err
}

func (w *Worker) submit(ctx context.Context, js []storage.Job) error {
	for _, j := range js {
		if err := w.Pool.Submit(ctx, j); err != nil {
			return err
		}
	}
	return nil
}
