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

package assuan

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/ZaparooProject/cardmon/pkg/helpers/syncutil"
)

// Session is one conversation with the agent. Sessions are not safe for
// concurrent use; the card monitor gives each one to a single goroutine.
type Session interface {
	Transact(ctx context.Context, command string) (*Response, error)
	Close() error
}

// Dialer creates sessions. An error wrapping ErrNotSupported means there is
// no usable agent on this host at all; any other error is transient.
type Dialer interface {
	NewSession(ctx context.Context) (Session, error)
}

var errNoLocator = errors.New("no agent socket configured and no locator available")

// SocketLocator finds the agent's socket path.
type SocketLocator func(ctx context.Context) (string, error)

// SocketDialer connects to the agent over its unix socket.
type SocketDialer struct {
	Locate      SocketLocator
	Path        string
	located     string
	DialTimeout time.Duration
	mu          syncutil.Mutex
}

func (d *SocketDialer) socketPath(ctx context.Context) (string, error) {
	if d.Path != "" {
		return d.Path, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.located != "" {
		return d.located, nil
	}
	if d.Locate == nil {
		return "", fmt.Errorf("%w: %w", ErrNotSupported, errNoLocator)
	}
	path, err := d.Locate(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to locate agent socket: %w", err)
	}
	d.located = path
	return path, nil
}

// NewSession resolves the socket path and returns a lazy Conn for it.
func (d *SocketDialer) NewSession(ctx context.Context) (Session, error) {
	path, err := d.socketPath(ctx)
	if err != nil {
		return nil, err
	}

	timeout := d.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return NewConn(func(ctx context.Context) (net.Conn, error) {
		nd := net.Dialer{Timeout: timeout}
		nc, err := nd.DialContext(ctx, "unix", path)
		if err != nil {
			return nil, fmt.Errorf("failed to dial %s: %w", path, err)
		}
		return nc, nil
	}), nil
}
