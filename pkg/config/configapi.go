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

const (
	DefaultAPIListen         = "127.0.0.1:7498"
	DefaultRequestsPerMinute = 120
	DefaultBurst             = 20
)

type API struct {
	Enabled           *bool    `toml:"enabled,omitempty"`
	Listen            string   `toml:"listen,omitempty"`
	AllowedOrigins    []string `toml:"allowed_origins,omitempty"`
	RequestsPerMinute int      `toml:"requests_per_minute,omitempty"`
	Burst             int      `toml:"burst,omitempty"`
}

// APIEnabled defaults to false; the status API is opt-in.
func (c *Instance) APIEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.API.Enabled == nil {
		return false
	}
	return *c.vals.API.Enabled
}

func (c *Instance) SetAPIEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.API.Enabled = &enabled
}

func (c *Instance) APIListen() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.API.Listen == "" {
		return DefaultAPIListen
	}
	return c.vals.API.Listen
}

func (c *Instance) AllowedOrigins() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	origins := make([]string, len(c.vals.API.AllowedOrigins))
	copy(origins, c.vals.API.AllowedOrigins)
	return origins
}

// RateLimit returns requests per minute and burst size for the API limiter.
func (c *Instance) RateLimit() (perMinute, burst int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	perMinute = c.vals.API.RequestsPerMinute
	if perMinute <= 0 {
		perMinute = DefaultRequestsPerMinute
	}
	burst = c.vals.API.Burst
	if burst <= 0 {
		burst = DefaultBurst
	}
	return perMinute, burst
}
