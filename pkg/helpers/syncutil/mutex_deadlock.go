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

//go:build deadlock

// Package syncutil wraps the sync mutexes so that the whole tree can be
// switched to go-deadlock with -tags=deadlock. The worker, facade and config
// locks all go through here.
package syncutil

import (
	"bytes"

	"github.com/rs/zerolog/log"
	deadlock "github.com/sasha-s/go-deadlock"
)

// DeadlockEnabled is true if the deadlock detector is enabled.
const DeadlockEnabled = true

func init() {
	deadlock.Opts.DeadlockTimeout = DeadlockTimeout()

	var report bytes.Buffer
	deadlock.Opts.LogBuf = &report
	deadlock.Opts.OnPotentialDeadlock = func() {
		log.Error().
			Dur("timeout", deadlock.Opts.DeadlockTimeout).
			Str("report", report.String()).
			Msg("potential deadlock detected")
		panic("potential deadlock")
	}
}

// Mutex is a mutual exclusion lock checked by go-deadlock.
type Mutex struct {
	deadlock.Mutex
}

// RWMutex is a reader/writer lock checked by go-deadlock.
type RWMutex struct {
	deadlock.RWMutex
}
