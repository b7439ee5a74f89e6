// Cardmon
// Copyright (c) 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Cardmon.
//
// Cardmon is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Cardmon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Cardmon.  If not, see <http://www.gnu.org/licenses/>.

// Package broker fans messages out to any number of subscribers without
// letting a slow subscriber hold up the publisher.
package broker

import (
	"context"

	"github.com/ZaparooProject/cardmon/pkg/helpers/syncutil"
	"github.com/rs/zerolog/log"
)

// Broker delivers every published message to all current subscribers. A
// subscriber whose buffer is full misses the message.
type Broker[T any] struct {
	subscribers map[int]chan T
	name        string
	mu          syncutil.RWMutex
	nextID      int
	closed      bool
}

// New creates a broker. name only shows up in logs.
func New[T any](name string) *Broker[T] {
	return &Broker[T]{
		name:        name,
		subscribers: make(map[int]chan T),
	}
}

// Publish sends msg to every subscriber. Messages published by one goroutine
// arrive at each subscriber in the same order.
func (b *Broker[T]) Publish(msg T) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- msg:
		default:
			log.Warn().
				Str("broker", b.name).
				Int("subscriber_id", id).
				Msg("subscriber channel full, dropping message")
		}
	}
}

// Run publishes everything read from source until source is closed or ctx
// is done, then closes all subscriptions.
func (b *Broker[T]) Run(ctx context.Context, source <-chan T) {
	defer b.Close()
	for {
		select {
		case msg, ok := <-source:
			if !ok {
				log.Debug().Str("broker", b.name).Msg("source channel closed")
				return
			}
			b.Publish(msg)
		case <-ctx.Done():
			log.Debug().Str("broker", b.name).Msg("context cancelled, shutting down")
			return
		}
	}
}

// Subscribe registers a subscriber with room for bufferSize undelivered
// messages. The channel is closed by Unsubscribe or Close. Subscribing to a
// closed broker returns an already closed channel.
func (b *Broker[T]) Subscribe(bufferSize int) (ch <-chan T, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id = b.nextID
	b.nextID++

	c := make(chan T, bufferSize)
	if b.closed {
		close(c)
		return c, id
	}
	b.subscribers[id] = c

	log.Debug().
		Str("broker", b.name).
		Int("subscriber_id", id).
		Int("buffer_size", bufferSize).
		Msg("new subscriber registered")
	return c, id
}

// Unsubscribe removes a subscriber and closes its channel. Unknown or
// already removed IDs are ignored.
func (b *Broker[T]) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(ch)
		log.Debug().Str("broker", b.name).Int("subscriber_id", id).Msg("subscriber unsubscribed")
	}
}

// Close closes every subscription. Later Publish calls do nothing.
func (b *Broker[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}

// Len returns the number of subscribers.
func (b *Broker[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
