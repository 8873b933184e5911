/*
Copyright 2024 Flotilla Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package events implements the process-wide broadcast of update list
// items. One fanout instance is created at process start; the update
// lifecycle service publishes into it and every live websocket
// connection holds its own subscription.
//
// Delivery is best-effort: publishing never blocks, a subscription only
// observes items published after it was created, and a subscriber that
// falls behind by more than the configured capacity loses its oldest
// unread items without affecting any other subscriber.
package events

import (
	"context"
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/flotilla-dev/flotilla/api/types"
	"github.com/flotilla-dev/flotilla/lib/defaults"
)

// ErrFanoutClosed is returned from Next once the fanout has been closed.
var ErrFanoutClosed = errors.New("update fanout closed")

// ErrSubscriptionClosed is returned from Next after Close on the
// subscription.
var ErrSubscriptionClosed = errors.New("update subscription closed")

var (
	publishedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flotilla_updates_published_total",
		Help: "Number of update list items published to the fanout.",
	})
	droppedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flotilla_updates_dropped_total",
		Help: "Number of update list items dropped for lagging subscribers.",
	})
	subscriberGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flotilla_update_subscribers",
		Help: "Number of live fanout subscriptions.",
	})
)

func init() {
	prometheus.MustRegister(publishedCounter, droppedCounter, subscriberGauge)
}

// FanoutConfig configures a Fanout.
type FanoutConfig struct {
	// Capacity bounds each subscriber's unread queue.
	Capacity int
}

// SetDefaults fills in unset values.
func (c *FanoutConfig) SetDefaults() {
	if c.Capacity <= 0 {
		c.Capacity = defaults.FanoutCapacity
	}
}

// Fanout broadcasts update list items to an arbitrary number of
// subscribers. Methods are safe for concurrent use.
type Fanout struct {
	cfg    FanoutConfig
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

// NewFanout allocates a fanout instance.
func NewFanout(cfg FanoutConfig) *Fanout {
	cfg.SetDefaults()
	return &Fanout{
		cfg:  cfg,
		subs: make(map[*Subscription]struct{}),
	}
}

// Subscribe registers a new subscriber. The subscription observes only
// items published after this call returns. Callers must Close the
// subscription when done with it.
func (f *Fanout) Subscribe() *Subscription {
	s := &Subscription{
		fanout: f,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		s.err = ErrFanoutClosed
		close(s.done)
		return s
	}
	f.subs[s] = struct{}{}
	subscriberGauge.Inc()
	return s
}

// Publish appends the item to every live subscriber's queue. It never
// blocks; a subscriber whose queue is already at capacity loses its
// oldest unread item to make room.
func (f *Fanout) Publish(item types.UpdateListItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	publishedCounter.Inc()
	for s := range f.subs {
		s.push(item, f.cfg.Capacity)
	}
}

// Close terminates every subscription. Publishing after Close is a
// no-op; pending Next calls return ErrFanoutClosed after draining.
func (f *Fanout) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for s := range f.subs {
		s.terminate(ErrFanoutClosed)
	}
	f.subs = nil
}

func (f *Fanout) unsubscribe(s *Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[s]; ok {
		delete(f.subs, s)
		subscriberGauge.Dec()
	}
}

// Subscription is one subscriber's bounded FIFO view of the fanout.
// Next and Close may be called concurrently with Publish.
type Subscription struct {
	fanout *Fanout

	mu    sync.Mutex
	queue []types.UpdateListItem
	err   error

	// notify carries a single wakeup token; the queue itself is the
	// source of truth for pending items.
	notify chan struct{}
	done   chan struct{}
}

func (s *Subscription) push(item types.UpdateListItem, capacity int) {
	s.mu.Lock()
	if len(s.queue) >= capacity {
		// Drop the oldest unread item for this subscriber only.
		s.queue = s.queue[1:]
		droppedCounter.Inc()
	}
	s.queue = append(s.queue, item)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next blocks until an item is available, the context is cancelled, or
// the subscription terminates. Items are returned in publish order.
func (s *Subscription) Next(ctx context.Context) (types.UpdateListItem, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			item := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return item, nil
		}
		err := s.err
		s.mu.Unlock()
		if err != nil {
			return types.UpdateListItem{}, err
		}

		select {
		case <-s.notify:
		case <-s.done:
			// Re-check the queue: items may have raced in ahead of
			// termination and terminal errors are only reported after
			// the queue drains.
		case <-ctx.Done():
			return types.UpdateListItem{}, ctx.Err()
		}
	}
}

// Close detaches the subscription from the fanout. Idempotent.
func (s *Subscription) Close() {
	s.fanout.unsubscribe(s)
	s.terminate(ErrSubscriptionClosed)
}

func (s *Subscription) terminate(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
		close(s.done)
	}
}
