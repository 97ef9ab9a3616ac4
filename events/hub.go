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

package events

import (
	"context"
	"log/slog"
	"sync"
)

// Hub is a Publisher that fans committed events out to subscribers,
// such as websocket clients.
//
// A subscriber that isn't keeping up loses events rather than
// blocking publication.
type Hub struct {
	Logger *slog.Logger

	mu   sync.RWMutex
	subs map[string]chan Event
}

// Subscribe registers a subscriber.  Call the returned function to
// unsubscribe, which closes the channel.
func (h *Hub) Subscribe(id string, buffer int) (<-chan Event, func()) {
	c := make(chan Event, buffer)
	h.mu.Lock()
	if h.subs == nil {
		h.subs = make(map[string]chan Event)
	}
	h.subs[id] = c
	h.mu.Unlock()
	var once sync.Once
	return c, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			close(c)
			h.mu.Unlock()
		})
	}
}

// Publish implements Publisher.
func (h *Hub) Publish(ctx context.Context, es []Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, c := range h.subs {
		for _, e := range es {
			select {
			case c <- e:
			default:
				h.logger().Warn("event subscriber blocked", "subscriber", id, "type", e.Type)
			}
		}
	}
	return nil
}

func (h *Hub) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}
