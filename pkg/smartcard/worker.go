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

package smartcard

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/ZaparooProject/cardmon/pkg/assuan"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// worker is the goroutine side of ReaderStatus. Everything in it except rs
// is touched only by run.
type worker struct {
	rs       *ReaderStatus
	dialer   assuan.Dialer
	prober   *Prober
	fs       afero.Fs
	clock    clockwork.Clock
	sess     assuan.Session
	homeDir  string
	interval time.Duration
	counter  EventCounter
}

func (w *worker) run(ctx context.Context) {
	defer close(w.rs.done)
	defer w.rs.events.Close()
	defer w.discardSession()

	for {
		if ctx.Err() != nil {
			return
		}

		if w.sess == nil {
			if err := w.acquire(ctx); err != nil {
				log.Error().Err(err).Msg("no usable gpg-agent, smartcard monitor stopped")
				w.rs.mu.Lock()
				w.rs.err = err
				w.rs.mu.Unlock()
				return
			}
		}

		req, old, ok := w.next(ctx)
		if !ok {
			return
		}
		log.Debug().Stringer("kind", req.kind).Msg("smartcard worker iteration")

		switch req.kind {
		case KindQuit:
			return
		case KindCheck:
			if !w.eventCounterChanged(ctx) {
				continue
			}
			w.update(ctx, old)
		case KindUpdate:
			w.update(ctx, old)
		case KindCommand:
			w.runCommand(ctx, req)
		}

		// the iteration may itself have moved the counter
		w.refreshEventCounter(ctx)
	}
}

// acquire creates a new session. Only a missing agent is returned as an
// error; other failures are logged and retried on the next iteration.
func (w *worker) acquire(ctx context.Context) error {
	sess, err := w.dialer.NewSession(ctx)
	if errors.Is(err, assuan.ErrNotSupported) {
		return err //nolint:wrapcheck // already carries context
	}
	if err != nil {
		log.Warn().Err(err).Msg("failed to create agent session")
		return nil
	}
	w.sess = sess
	return nil
}

// next blocks until a request is queued, synthesising a Check at the front
// of the queue whenever the check interval passes without one. It returns
// the request and a copy of the table as it was when the request was taken.
func (w *worker) next(ctx context.Context) (*Request, Table, bool) {
	rs := w.rs
	for {
		rs.mu.Lock()
		if len(rs.queue) > 0 {
			req := rs.queue[0]
			rs.queue[0] = nil
			rs.queue = rs.queue[1:]
			old := rs.cardInfos.Clone()
			rs.mu.Unlock()
			return req, old, true
		}
		rs.mu.Unlock()

		timer := w.clock.NewTimer(w.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, nil, false
		case <-rs.wake:
			timer.Stop()
		case <-timer.Chan():
			rs.mu.Lock()
			rs.queue = slices.Insert(rs.queue, 0, newRequest(KindCheck))
			rs.mu.Unlock()
		}
	}
}

// update reprobes, publishes the new table and then its events.
func (w *worker) update(ctx context.Context, old Table) {
	cur := w.probeAll(ctx)

	n := max(len(old), len(cur))
	old = padTable(old, n)
	cur = padTable(cur, n)

	w.rs.mu.Lock()
	w.rs.cardInfos = cur
	w.rs.mu.Unlock()

	events, anyError := diffTables(old, cur)
	for _, ev := range events {
		if ev.Kind == EventCardStatusChanged {
			entry := log.Info().
				Uint("slot", ev.Slot).
				Stringer("from", old[ev.Slot].Status).
				Stringer("to", ev.Status)
			if flag, ok := ev.Status.ScdFlag(); ok {
				entry = entry.Str("scd", flag)
			}
			entry.Msg("card status changed")
		}
		w.rs.events.Publish(ev)
	}

	if anyError {
		log.Debug().Msg("card error, resetting agent session")
		w.discardSession()
	}
}

func (w *worker) probeAll(ctx context.Context) Table {
	if exists, err := afero.DirExists(w.fs, w.homeDir); err != nil || !exists {
		log.Warn().Str("path", w.homeDir).Msg("gnupg home does not exist")
	}

	ci := w.prober.Probe(ctx, w.transactor(), probedSlot, statusFileName(w.homeDir, probedSlot))
	return Table{ci}
}

func (w *worker) runCommand(ctx context.Context, req *Request) {
	if t := w.transactor(); t != nil {
		_, req.err = t.Transact(ctx, req.command)
	} else {
		req.err = ErrNoSession
	}
	if req.err != nil {
		log.Debug().Err(req.err).Str("command", req.command).Msg("agent command failed")
	}

	w.rs.mu.Lock()
	w.rs.finished = append(w.rs.finished, req)
	w.rs.mu.Unlock()

	select {
	case w.rs.finishedSig <- struct{}{}:
	default:
	}
}

func (w *worker) eventCounterChanged(ctx context.Context) bool {
	prev := w.counter
	w.counter = w.readEventCounter(ctx)
	if prev == w.counter {
		return false
	}
	log.Debug().Uint32("from", uint32(prev)).Uint32("to", uint32(w.counter)).Msg("event counter changed")
	return true
}

func (w *worker) refreshEventCounter(ctx context.Context) {
	w.counter = w.readEventCounter(ctx)
}

func (w *worker) readEventCounter(ctx context.Context) EventCounter {
	if w.sess == nil {
		return UnknownEventCounter
	}
	resp, err := w.Transact(ctx, cmdGetEventCounter)
	if err != nil {
		log.Debug().Err(err).Msg("failed to read event counter")
		return UnknownEventCounter
	}
	return ParseEventCounter(resp.FirstStatusLine("EVENTCOUNTER"))
}

// transactor returns the worker as a Transactor, or nil without a session.
func (w *worker) transactor() Transactor {
	if w.sess == nil {
		return nil
	}
	return w
}

// Transact runs command on the current session and throws the session away
// after a protocol error.
func (w *worker) Transact(ctx context.Context, command string) (*assuan.Response, error) {
	if w.sess == nil {
		return nil, ErrNoSession
	}
	resp, err := w.sess.Transact(ctx, command)
	if err != nil && assuan.IsProtocolError(err) {
		log.Debug().Err(err).Msg("assuan problem, resetting agent session")
		w.discardSession()
	}
	return resp, err //nolint:wrapcheck // codes are inspected by callers
}

func (w *worker) discardSession() {
	if w.sess == nil {
		return
	}
	if err := w.sess.Close(); err != nil {
		log.Debug().Err(err).Msg("failed to close agent session")
	}
	w.sess = nil
}
