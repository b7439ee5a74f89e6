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

package config

import "time"

const (
	DefaultCheckIntervalMs = 2000
	DefaultWatchDelayMs    = 100
	DefaultStopTimeoutMs   = 100
)

type Monitor struct {
	// GnuPGHome overrides GNUPGHOME and gpgconf's homedir.
	GnuPGHome string `toml:"gnupg_home,omitempty"`
	// AgentSocket overrides gpgconf's agent-socket.
	AgentSocket     string `toml:"agent_socket,omitempty"`
	CheckIntervalMs int    `toml:"check_interval_ms,omitempty"`
	WatchDelayMs    int    `toml:"watch_delay_ms,omitempty"`
	StopTimeoutMs   int    `toml:"stop_timeout_ms,omitempty"`
	DisableWatcher  bool   `toml:"disable_watcher,omitempty"`
}

func millis(v, fallback int) time.Duration {
	if v <= 0 {
		v = fallback
	}
	return time.Duration(v) * time.Millisecond
}

func (c *Instance) CheckInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return millis(c.vals.Monitor.CheckIntervalMs, DefaultCheckIntervalMs)
}

func (c *Instance) WatchDelay() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return millis(c.vals.Monitor.WatchDelayMs, DefaultWatchDelayMs)
}

func (c *Instance) StopTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return millis(c.vals.Monitor.StopTimeoutMs, DefaultStopTimeoutMs)
}

func (c *Instance) GnuPGHome() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Monitor.GnuPGHome
}

func (c *Instance) SetGnuPGHome(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.Monitor.GnuPGHome = path
}

func (c *Instance) AgentSocket() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Monitor.AgentSocket
}

func (c *Instance) SetAgentSocket(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.Monitor.AgentSocket = path
}

func (c *Instance) WatcherEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.vals.Monitor.DisableWatcher
}
