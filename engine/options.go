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

package engine

import (
	"log/slog"
	"time"

	"github.com/Comcast/pvm/core"
	"github.com/Comcast/pvm/events"
	"github.com/Comcast/pvm/graph"
	"github.com/Comcast/pvm/jobs"
	"github.com/Comcast/pvm/storage"
)

// Option configures an Engine.
type Option func(*Engine)

// WithStore sets the store.  The default is an in-memory store.
func WithStore(s storage.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithInterpreters sets the interpreters used to compile definitions.
func WithInterpreters(is map[string]graph.Interpreter) Option {
	return func(e *Engine) { e.interpreters = is }
}

// WithBehaviors sets the activity behaviors.
func WithBehaviors(bs core.Behaviors) Option {
	return func(e *Engine) { e.behaviors = bs }
}

// WithJobConfig sets the job subsystem's settings.
func WithJobConfig(c jobs.Config) Option {
	return func(e *Engine) { e.jobConfig = c }
}

// WithListener adds a pre-commit event listener.
func WithListener(l events.Listener) Option {
	return func(e *Engine) { e.listeners = append(e.listeners, l) }
}

// WithPublisher adds a post-commit event publisher.  A publisher that
// is also an io.Closer is closed by Engine.Close.
func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) { e.publishers = append(e.publishers, p) }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithControl sets the interpreter Control.
func WithControl(c *core.Control) Option {
	return func(e *Engine) { e.control = c }
}

// WithRetries sets how many times commands are attempted when they
// hit optimistic conflicts.
func WithRetries(n int) Option {
	return func(e *Engine) { e.retries = n }
}
