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
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/ZaparooProject/cardmon/pkg/assuan"
	"github.com/ZaparooProject/cardmon/pkg/helpers/syncutil"
	"github.com/ZaparooProject/cardmon/pkg/service/broker"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

const (
	DefaultCheckInterval = 2000 * time.Millisecond
	DefaultStopTimeout   = 100 * time.Millisecond
)

// ErrNoSession is the completion error of a command that ran while no
// agent session existed.
var ErrNoSession = errors.New("no agent session")

// Options configures a ReaderStatus. Dialer is required; zero values of the
// other fields select the defaults.
type Options struct {
	Dialer        assuan.Dialer
	KeyLookup     KeyLookup
	Clock         clockwork.Clock
	Fs            afero.Fs
	GnuPGHome     string
	CheckInterval time.Duration
	StopTimeout   time.Duration
}

// ReaderStatus is the card monitor. Its accessors only copy the latest
// snapshot under a mutex and never wait for the agent; all agent traffic
// happens on the worker goroutine started by StartMonitoring.
type ReaderStatus struct {
	worker      *worker
	events      *broker.Broker[Event]
	cancel      context.CancelFunc
	err         error
	wake        chan struct{}
	finishedSig chan struct{}
	done        chan struct{}
	cardInfos   Table
	queue       []*Request
	finished    []*Request
	stopTimeout time.Duration
	mu          syncutil.Mutex
	started     bool
	stopping    bool
}

// New builds a monitor with one Update request already queued, so the
// first worker iteration scans the readers.
func New(opts Options) *ReaderStatus {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = DefaultCheckInterval
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}

	rs := &ReaderStatus{
		events:      broker.New[Event]("smartcard"),
		wake:        make(chan struct{}, 1),
		finishedSig: make(chan struct{}, 1),
		done:        make(chan struct{}),
		queue:       []*Request{newRequest(KindUpdate)},
		stopTimeout: opts.StopTimeout,
	}
	rs.worker = &worker{
		rs:       rs,
		dialer:   opts.Dialer,
		prober:   NewProber(opts.KeyLookup),
		fs:       opts.Fs,
		clock:    opts.Clock,
		homeDir:  opts.GnuPGHome,
		interval: opts.CheckInterval,
		counter:  UnknownEventCounter,
	}
	return rs
}

// StartMonitoring starts the worker goroutine. Calls after the first, or
// after Stop, do nothing.
func (rs *ReaderStatus) StartMonitoring(ctx context.Context) {
	rs.mu.Lock()
	if rs.started || rs.stopping {
		rs.mu.Unlock()
		return
	}
	rs.started = true
	wctx, cancel := context.WithCancel(ctx)
	rs.cancel = cancel
	rs.mu.Unlock()

	log.Info().Msg("starting smartcard monitor")
	go rs.worker.run(wctx)
}

// Stop asks the worker to quit before anything else still queued, waits up
// to the stop timeout, and then cancels the worker's context so a blocked
// agent call aborts. It returns once the worker has exited.
func (rs *ReaderStatus) Stop() {
	rs.mu.Lock()
	if rs.stopping || !rs.started {
		rs.stopping = true
		started := rs.started
		rs.mu.Unlock()
		if started {
			<-rs.done
		}
		return
	}
	rs.stopping = true
	rs.queue = slices.Insert(rs.queue, 0, newRequest(KindQuit))
	rs.mu.Unlock()
	rs.signal()

	// wall clock: the worker's clock may be fake and never advanced
	timer := time.NewTimer(rs.stopTimeout)
	defer timer.Stop()

	select {
	case <-rs.done:
	case <-timer.C:
		log.Warn().Dur("timeout", rs.stopTimeout).Msg("smartcard worker did not stop in time, cancelling")
		rs.cancel()
		<-rs.done
	}
	rs.cancel()
}

// Shutdown queues a Quit behind everything already queued, so pending
// commands still run, and waits for the worker. If ctx ends first the worker
// is cancelled as in Stop.
func (rs *ReaderStatus) Shutdown(ctx context.Context) error {
	rs.mu.Lock()
	if rs.stopping || !rs.started {
		rs.stopping = true
		started := rs.started
		rs.mu.Unlock()
		if started {
			<-rs.done
		}
		return nil
	}
	rs.stopping = true
	rs.queue = append(rs.queue, newRequest(KindQuit))
	rs.mu.Unlock()
	rs.signal()

	select {
	case <-rs.done:
		rs.cancel()
		return nil
	case <-ctx.Done():
		rs.cancel()
		<-rs.done
		return fmt.Errorf("smartcard worker shutdown: %w", ctx.Err())
	}
}

// Done is closed when the worker goroutine has exited.
func (rs *ReaderStatus) Done() <-chan struct{} {
	return rs.done
}

// Err returns the error that ended the worker, if it was a fatal one.
func (rs *ReaderStatus) Err() error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.err
}

// CardInfos returns a copy of the current snapshot table.
func (rs *ReaderStatus) CardInfos() Table {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.cardInfos.Clone()
}

// CardStatus returns the status of slot, NoCard for unknown slots.
func (rs *ReaderStatus) CardStatus(slot uint) Status {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.cardInfos.Status(slot)
}

// PinStates returns the PIN states of slot, or nil for unknown slots.
func (rs *ReaderStatus) PinStates(slot uint) []PinState {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if slot >= uint(len(rs.cardInfos)) {
		return nil
	}
	return slices.Clone(rs.cardInfos[slot].PinStates)
}

// AnyCardHasNullPin reports whether any slot is CardHasNullPin.
func (rs *ReaderStatus) AnyCardHasNullPin() bool {
	return rs.anyStatus(CardHasNullPin)
}

// AnyCardCanLearnKeys reports whether any slot is CardCanLearnKeys.
func (rs *ReaderStatus) AnyCardCanLearnKeys() bool {
	return rs.anyStatus(CardCanLearnKeys)
}

func (rs *ReaderStatus) anyStatus(s Status) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return slices.ContainsFunc(rs.cardInfos, func(ci CardInfo) bool {
		return ci.Status == s
	})
}

// UpdateStatus queues a forced reprobe.
func (rs *ReaderStatus) UpdateStatus() {
	rs.enqueue(newRequest(KindUpdate))
}

// StartSimpleTransaction queues command for the agent. When it has run,
// callback (if not nil) receives the result with handle from the next
// DeliverFinished call. The returned ID is also in the Completion.
func (rs *ReaderStatus) StartSimpleTransaction(
	command string,
	handle any,
	callback func(Completion),
) uuid.UUID {
	req := newCommandRequest(command, handle, callback)
	rs.enqueue(req)
	return req.id
}

// Finished receives a value whenever a command has completed since the last
// receive. Consumers should call DeliverFinished in response.
func (rs *ReaderStatus) Finished() <-chan struct{} {
	return rs.finishedSig
}

// DeliverFinished runs the callbacks of all completed commands on the
// calling goroutine and returns how many completions were taken.
func (rs *ReaderStatus) DeliverFinished() int {
	rs.mu.Lock()
	done := rs.finished
	rs.finished = nil
	rs.mu.Unlock()

	for _, req := range done {
		if req.callback != nil {
			req.callback(req.completion())
		}
	}
	return len(done)
}

// Subscribe returns a channel of card events. A subscriber that falls more
// than bufferSize events behind misses events. The channel is closed when
// the worker exits or on Unsubscribe.
func (rs *ReaderStatus) Subscribe(bufferSize int) (events <-chan Event, id int) {
	return rs.events.Subscribe(bufferSize)
}

func (rs *ReaderStatus) Unsubscribe(id int) {
	rs.events.Unsubscribe(id)
}

// StatusFileName returns the marker file of slot in the GnuPG home.
func (rs *ReaderStatus) StatusFileName(slot uint) string {
	return statusFileName(rs.worker.homeDir, slot)
}

func statusFileName(home string, slot uint) string {
	return filepath.Join(home, fmt.Sprintf("reader_%d.status", slot))
}

func (rs *ReaderStatus) enqueue(req *Request) {
	rs.mu.Lock()
	rs.queue = append(rs.queue, req)
	rs.mu.Unlock()
	rs.signal()
}

func (rs *ReaderStatus) signal() {
	select {
	case rs.wake <- struct{}{}:
	default:
	}
}
