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

package command

import (
	"context"
	"time"

	"github.com/Comcast/pvm/internal/slogx"
	"github.com/Comcast/pvm/storage"

	"github.com/dogmatiq/linger"
	"github.com/dogmatiq/linger/backoff"
)

// DefaultRetryBackoff spaces out re-runs after conflicts.
var DefaultRetryBackoff backoff.Strategy = backoff.WithTransforms(
	backoff.Exponential(5*time.Millisecond),
	linger.FullJitter,
	linger.Limiter(0, time.Second),
)

// Retrying executes cmd, re-running it in a fresh unit of work when
// the commit hits an optimistic conflict, up to attempts times in all.
//
// Inside another Command, cmd just runs once: the outer Command's
// unit of work is the one that commits.
func Retrying(ctx context.Context, x *Executor, cmd Command, attempts int, s backoff.Strategy) (interface{}, error) {
	if cc := FromContext(ctx); cc != nil && cc.x == x {
		return x.Execute(ctx, cmd)
	}
	if s == nil {
		s = DefaultRetryBackoff
	}
	var failures uint
	for {
		r, err := x.Execute(ctx, cmd)
		if err == nil || !storage.IsConflict(err) {
			return r, err
		}
		failures++
		if attempts <= int(failures) {
			return nil, err
		}
		d := s(err, failures)
		x.logger().WarnContext(ctx, "retrying after conflict", "cmd", nameOf(cmd), "attempt", failures+1, "delay", d, slogx.Error(err))
		if err := linger.Sleep(ctx, d); err != nil {
			return nil, err
		}
	}
}
