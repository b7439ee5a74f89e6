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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMutexGuardsCounter(t *testing.T) {
	t.Parallel()

	var mu Mutex
	counter := 0
	done := make(chan struct{})

	for range 4 {
		go func() {
			for range 250 {
				mu.Lock()
				counter++
				mu.Unlock()
			}
			done <- struct{}{}
		}()
	}
	for range 4 {
		<-done
	}

	assert.Equal(t, 1000, counter)
}

func TestRWMutexReadersSeeWrites(t *testing.T) {
	t.Parallel()

	var mu RWMutex
	value := 0

	mu.Lock()
	value = 42
	mu.Unlock()

	mu.RLock()
	mu.RLock()
	got := value
	mu.RUnlock()
	mu.RUnlock()

	assert.Equal(t, 42, got)
}

func TestParseTimeout(t *testing.T) {
	t.Parallel()

	def := 30 * time.Second
	tests := []struct {
		name string
		in   string
		want time.Duration
	}{
		{name: "empty", in: "", want: def},
		{name: "valid", in: "5s", want: 5 * time.Second},
		{name: "minutes", in: "2m", want: 2 * time.Minute},
		{name: "malformed", in: "soon", want: def},
		{name: "zero", in: "0s", want: def},
		{name: "negative", in: "-1s", want: def},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ParseTimeout(tt.in, def))
		})
	}
}

func TestDeadlockTimeoutFromEnv(t *testing.T) {
	t.Setenv(TimeoutEnv, "45s")
	assert.Equal(t, 45*time.Second, DeadlockTimeout())

	t.Setenv(TimeoutEnv, "")
	assert.Equal(t, DefaultDeadlockTimeout, DeadlockTimeout())
}
