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

package syncutil

import (
	"os"
	"time"
)

const (
	// TimeoutEnv overrides the deadlock detector timeout in deadlock builds.
	TimeoutEnv = "CARDMON_DEADLOCK_TIMEOUT"

	// DefaultDeadlockTimeout is long enough to cover a slow card probe,
	// which holds no lock but can stall the worker for several seconds.
	DefaultDeadlockTimeout = 30 * time.Second
)

// ParseTimeout reads a detector timeout. Empty, malformed and non-positive
// values fall back to def.
func ParseTimeout(v string, def time.Duration) time.Duration {
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// DeadlockTimeout is the detector timeout this process would use.
func DeadlockTimeout() time.Duration {
	return ParseTimeout(os.Getenv(TimeoutEnv), DefaultDeadlockTimeout)
}
