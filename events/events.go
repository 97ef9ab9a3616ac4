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

// Package events carries lifecycle events out of the runtime.
//
// Events are buffered during a unit of work in the order the
// interpreter produced them.  Just before commit they are handed to
// Listeners, which run inside the unit of work and can still veto the
// commit by returning an error.  After a successful commit they are
// handed to Publishers, which cannot undo anything.  Nothing is
// published for a unit of work that rolls back.
package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/multierr"
)

// Event types.
const (
	InstanceStarted   = "instance-started"
	InstanceEnded     = "instance-ended"
	InstanceCancelled = "instance-cancelled"
	InstanceSuspended = "instance-suspended"
	InstanceResumed   = "instance-resumed"
	ActivityEntered   = "activity-entered"
	ActivityLeft      = "activity-left"
	TransitionTaken   = "transition-taken"
	VariableSet       = "variable-set"
	MessageEmitted    = "message-emitted"
	JobFailed         = "job-failed"
	JobDead           = "job-dead"
	FaultCaught       = "fault-caught"
)

// Event is something that happened to an instance.
type Event struct {
	Type         string      `json:"type"`
	InstanceID   string      `json:"instance,omitempty"`
	ExecutionID  string      `json:"exec,omitempty"`
	DefinitionID string      `json:"def,omitempty"`
	ActivityID   string      `json:"activity,omitempty"`
	TransitionID string      `json:"transition,omitempty"`
	JobID        string      `json:"job,omitempty"`
	At           time.Time   `json:"at"`
	Data         interface{} `json:"data,omitempty"`
}

// Listener sees events before commit.  A Listener error rolls the
// unit of work back.
type Listener interface {
	Listen(ctx context.Context, es []Event) error
}

// ListenerFunc adapts a function to a Listener.
type ListenerFunc func(ctx context.Context, es []Event) error

func (f ListenerFunc) Listen(ctx context.Context, es []Event) error {
	return f(ctx, es)
}

// Publisher sees events after commit.
type Publisher interface {
	Publish(ctx context.Context, es []Event) error
}

// PublisherFunc adapts a function to a Publisher.
type PublisherFunc func(ctx context.Context, es []Event) error

func (f PublisherFunc) Publish(ctx context.Context, es []Event) error {
	return f(ctx, es)
}

// PublishError reports publisher failures after a successful commit.
// The committed state stands.
type PublishError struct {
	// Err combines every publisher error (see multierr.Errors).
	Err error
}

func (e *PublishError) Error() string {
	return "events committed but not published: " + e.Err.Error()
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// Listeners fans out to several listeners.  Every listener is called;
// the errors are combined.
type Listeners []Listener

func (ls Listeners) Listen(ctx context.Context, es []Event) error {
	var err error
	for _, l := range ls {
		err = multierr.Append(err, l.Listen(ctx, es))
	}
	return err
}

// Publishers fans out to several publishers.  Every publisher is
// called; the errors are combined.
type Publishers []Publisher

func (ps Publishers) Publish(ctx context.Context, es []Event) error {
	var err error
	for _, p := range ps {
		err = multierr.Append(err, p.Publish(ctx, es))
	}
	return err
}

// Buffer accumulates the events of one unit of work.
type Buffer struct {
	events []Event
}

// Add appends an event.
func (b *Buffer) Add(e Event) {
	b.events = append(b.events, e)
}

// Events returns the buffered events in order.
func (b *Buffer) Events() []Event {
	return b.events
}

// Len returns the number of buffered events.
func (b *Buffer) Len() int {
	return len(b.events)
}

// Recorder is a Listener and a Publisher that remembers what it saw.
// Handy in tests.
type Recorder struct {
	sync.Mutex
	events []Event
}

func (r *Recorder) Listen(ctx context.Context, es []Event) error {
	return r.Publish(ctx, es)
}

func (r *Recorder) Publish(ctx context.Context, es []Event) error {
	r.Lock()
	r.events = append(r.events, es...)
	r.Unlock()
	return nil
}

// Events returns a copy of what has been recorded.
func (r *Recorder) Events() []Event {
	r.Lock()
	defer r.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []string {
	r.Lock()
	defer r.Unlock()
	acc := make([]string, len(r.events))
	for i, e := range r.events {
		acc[i] = e.Type
	}
	return acc
}

// Reset forgets everything.
func (r *Recorder) Reset() {
	r.Lock()
	r.events = nil
	r.Unlock()
}
