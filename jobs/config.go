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

// Package jobs runs the engine's asynchronous jobs: timers, async
// continuations, and timer starts.
//
// An Acquirer locks due jobs by compare-and-set on their lease, a Pool
// executes them with bounded concurrency, and a Runner executes each
// job's handler in a command whose unit of work also removes (or
// reschedules) the job.  A failed job is retried later with backoff
// until its retries run out.
package jobs

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Comcast/pvm/core"

	"github.com/dogmatiq/linger"
	"github.com/dogmatiq/linger/backoff"
	"github.com/google/uuid"
)

// Config tunes acquisition and execution.
type Config struct {
	// Owner identifies this worker in job leases.
	Owner string `json:"owner,omitempty" yaml:",omitempty"`

	// BatchSize is the most jobs one acquisition cycle locks.
	BatchSize int `json:"batchSize" yaml:"batchSize"`

	// Interval is the pause between cycles that found less than a
	// full batch.
	Interval time.Duration `json:"interval" yaml:"interval"`

	// Lease is how long a lock lasts.  A job whose worker dies
	// becomes acquirable again when its lease expires.
	Lease time.Duration `json:"lease" yaml:"lease"`

	// Concurrency is the most jobs executing at once.
	Concurrency int `json:"concurrency" yaml:"concurrency"`

	// MaxRetries is the number of attempts new jobs get.
	MaxRetries int `json:"maxRetries" yaml:"maxRetries"`

	// Backoff delays a failed job's next attempt.  The failure
	// count starts at one.
	Backoff backoff.Strategy `json:"-" yaml:"-"`

	// Partition and Partitions restrict this worker to jobs whose
	// ids hash into Partition (when Partitions > 1).
	Partition  int `json:"partition,omitempty" yaml:",omitempty"`
	Partitions int `json:"partitions,omitempty" yaml:",omitempty"`
}

// DefaultBackoff is exponential from one second, jittered, at most an
// hour.
var DefaultBackoff backoff.Strategy = backoff.WithTransforms(
	backoff.Exponential(time.Second),
	linger.FullJitter,
	linger.Limiter(0, time.Hour),
)

// DefaultConfig returns reasonable settings with a fresh Owner.
func DefaultConfig() Config {
	host, _ := os.Hostname()
	return Config{
		Owner:       host + "-" + uuid.NewString()[:8],
		BatchSize:   16,
		Interval:    time.Second,
		Lease:       5 * time.Minute,
		Concurrency: 4,
		MaxRetries:  core.DefaultJobRetries,
		Backoff:     DefaultBackoff,
	}
}

// Validate checks the settings.
func (c Config) Validate() error {
	switch {
	case c.Owner == "":
		return errors.New("jobs: no owner")
	case c.BatchSize <= 0:
		return fmt.Errorf("jobs: bad batch size %d", c.BatchSize)
	case c.Interval <= 0:
		return fmt.Errorf("jobs: bad interval %v", c.Interval)
	case c.Lease <= 0:
		return fmt.Errorf("jobs: bad lease %v", c.Lease)
	case c.Concurrency <= 0:
		return fmt.Errorf("jobs: bad concurrency %d", c.Concurrency)
	case c.MaxRetries <= 0:
		return fmt.Errorf("jobs: bad max retries %d", c.MaxRetries)
	case c.Partitions < 0 || (1 < c.Partitions && (c.Partition < 0 || c.Partitions <= c.Partition)):
		return fmt.Errorf("jobs: bad partition %d of %d", c.Partition, c.Partitions)
	}
	return nil
}

func (c Config) backoff() backoff.Strategy {
	if c.Backoff == nil {
		return DefaultBackoff
	}
	return c.Backoff
}
