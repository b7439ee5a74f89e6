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
	"bufio"
	"context"
	"errors"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAgent serves one pipe connection. handle gets each command line and
// returns the lines to send back.
type fakeAgent struct {
	handle   func(cmd string) []string
	greeting string
	received chan string
}

func newFakeAgent(handle func(cmd string) []string) *fakeAgent {
	return &fakeAgent{
		handle:   handle,
		greeting: "OK Pleased to meet you",
		received: make(chan string, 32),
	}
}

func (a *fakeAgent) serve(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	w := bufio.NewWriter(conn)
	_, _ = w.WriteString(a.greeting + "\n")
	_ = w.Flush()

	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSuffix(line, "\n")
		a.received <- line
		if line == "BYE" {
			return
		}
		for _, out := range a.handle(line) {
			_, _ = w.WriteString(out + "\n")
		}
		_ = w.Flush()
	}
}

func (a *fakeAgent) dial(_ context.Context) (net.Conn, error) {
	client, server := net.Pipe()
	go a.serve(server)
	return client, nil
}

func TestConn_StatusAndData(t *testing.T) {
	t.Parallel()

	agent := newFakeAgent(func(cmd string) []string {
		if cmd != "SCD SERIALNO" {
			return []string{"ERR 536871187 Unknown IPC command"}
		}
		return []string{
			"# a comment",
			"S SERIALNO D27600012401 0",
			"D hello%20world%25",
			"OK",
		}
	})
	c := NewConn(agent.dial)
	t.Cleanup(func() { _ = c.Close() })

	resp, err := c.Transact(context.Background(), "SCD SERIALNO")
	require.NoError(t, err)
	assert.Equal(t, "D27600012401 0", resp.FirstStatusLine("SERIALNO"))
	assert.Equal(t, "hello world%", string(resp.Data))
	assert.Empty(t, resp.FirstStatusLine("APPTYPE"))
}

func TestConn_ErrLine(t *testing.T) {
	t.Parallel()

	agent := newFakeAgent(func(string) []string {
		// source 6 (scdaemon), code 108
		return []string{"ERR 100663404 Card removed <SCD>"}
	})
	c := NewConn(agent.dial)
	t.Cleanup(func() { _ = c.Close() })

	_, err := c.Transact(context.Background(), "SCD SERIALNO")
	require.Error(t, err)

	var ae *Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, CodeCardRemoved, ae.Code)
	assert.Equal(t, uint32(6), ae.Source)
	assert.Equal(t, "Card removed <SCD>", ae.Description)
	assert.True(t, IsCardAbsent(err))
	assert.False(t, IsProtocolError(err))
}

func TestConn_InquiryIsCancelled(t *testing.T) {
	t.Parallel()

	agent := newFakeAgent(func(cmd string) []string {
		switch cmd {
		case "SCD PKSIGN":
			return []string{"INQUIRE NEEDPIN Please enter the PIN"}
		case "CAN":
			return []string{"ERR 83886179 Operation cancelled"}
		default:
			return []string{"OK"}
		}
	})
	c := NewConn(agent.dial)
	t.Cleanup(func() { _ = c.Close() })

	_, err := c.Transact(context.Background(), "SCD PKSIGN")
	require.ErrorIs(t, err, ErrUnknownInquire)
	assert.True(t, IsProtocolError(err))

	// the connection survives a cancelled inquiry
	_, err = c.Transact(context.Background(), "GETINFO version")
	require.NoError(t, err)
}

func TestConn_RejectsBadCommands(t *testing.T) {
	t.Parallel()

	dialed := false
	c := NewConn(func(context.Context) (net.Conn, error) {
		dialed = true
		return nil, errors.New("should not dial")
	})

	tests := []struct {
		name    string
		command string
		code    Code
	}{
		{name: "newline", command: "SCD\nBYE", code: CodeInvValue},
		{name: "carriage return", command: "SCD\rBYE", code: CodeInvValue},
		{name: "too long", command: strings.Repeat("A", MaxLineLength), code: CodeAssLineTooLong},
	}

	for _, tt := range tests {
		_, err := c.Transact(context.Background(), tt.command)
		assert.Equal(t, tt.code, CodeOf(err), tt.name)
	}
	assert.False(t, dialed)
}

func TestConn_DialFailureIsProtocolError(t *testing.T) {
	t.Parallel()

	c := NewConn(func(context.Context) (net.Conn, error) {
		return nil, errors.New("connection refused")
	})

	_, err := c.Transact(context.Background(), "GETINFO version")
	require.Error(t, err)
	assert.Equal(t, CodeAssConnect, CodeOf(err))
	assert.True(t, IsProtocolError(err))
}

func TestConn_RefusedGreeting(t *testing.T) {
	t.Parallel()

	agent := newFakeAgent(func(string) []string { return nil })
	agent.greeting = "ERR 16777343 Not allowed"
	c := NewConn(agent.dial)

	_, err := c.Transact(context.Background(), "GETINFO version")
	require.Error(t, err)
	assert.Equal(t, Code(127), CodeOf(err))
}

func TestConn_ContextCancelUnblocksRead(t *testing.T) {
	t.Parallel()

	agent := newFakeAgent(func(string) []string { return nil })
	c := NewConn(agent.dial)
	t.Cleanup(func() { _ = c.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Transact(ctx, "SCD SERIALNO")
	require.Error(t, err)
	assert.Equal(t, CodeAssReadError, CodeOf(err))
	assert.True(t, IsProtocolError(err))
}

func TestConn_InvalidResponseLine(t *testing.T) {
	t.Parallel()

	agent := newFakeAgent(func(string) []string { return []string{"WHAT"} })
	c := NewConn(agent.dial)
	t.Cleanup(func() { _ = c.Close() })

	_, err := c.Transact(context.Background(), "NOP")
	assert.Equal(t, CodeAssInvResponse, CodeOf(err))
}

func TestConn_CloseSaysBye(t *testing.T) {
	t.Parallel()

	agent := newFakeAgent(func(string) []string { return []string{"OK"} })
	c := NewConn(agent.dial)

	_, err := c.Transact(context.Background(), "NOP")
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.Equal(t, "NOP", <-agent.received)
	assert.Equal(t, "BYE", <-agent.received)

	_, err = c.Transact(context.Background(), "NOP")
	assert.Equal(t, CodeAssConnect, CodeOf(err))
}

func TestSocketDialer_NotSupported(t *testing.T) {
	t.Parallel()

	d := &SocketDialer{}
	_, err := d.NewSession(context.Background())
	require.ErrorIs(t, err, ErrNotSupported)
}

func TestSocketDialer_LocateError(t *testing.T) {
	t.Parallel()

	d := &SocketDialer{
		Locate: func(context.Context) (string, error) {
			return "", ErrNotSupported
		},
	}
	_, err := d.NewSession(context.Background())
	require.ErrorIs(t, err, ErrNotSupported)
}

func TestSocketDialer_UnixSocket(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "S.gpg-agent")
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	agent := newFakeAgent(func(cmd string) []string {
		return []string{"S ECHO " + cmd, "OK"}
	})
	go func() {
		conn, acceptErr := ln.Accept()
		if acceptErr != nil {
			return
		}
		agent.serve(conn)
	}()

	located := 0
	d := &SocketDialer{
		Locate: func(context.Context) (string, error) {
			located++
			return path, nil
		},
	}
	sess, err := d.NewSession(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })

	resp, err := sess.Transact(context.Background(), "GETINFO pid")
	require.NoError(t, err)
	assert.Equal(t, "GETINFO pid", resp.FirstStatusLine("ECHO"))

	_, err = d.NewSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, located)
}
