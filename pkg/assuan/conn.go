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
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// MaxLineLength is the Assuan line limit, excluding the trailing LF.
const MaxLineLength = 1000

const byeTimeout = 100 * time.Millisecond

// DialFunc opens the raw connection to the agent.
type DialFunc func(ctx context.Context) (net.Conn, error)

// Conn is a Session that connects lazily on the first transaction, the same
// way a fresh gpgme assuan context only talks to the agent when used.
type Conn struct {
	conn   net.Conn
	r      *bufio.Reader
	dial   DialFunc
	closed bool
}

func NewConn(dial DialFunc) *Conn {
	return &Conn{dial: dial}
}

// Transact sends one command and collects the response up to OK or ERR.
// An ERR line comes back as *Error; transport failures come back as *Error
// with an Assuan read/write/connect code so IsProtocolError catches them.
func (c *Conn) Transact(ctx context.Context, command string) (*Response, error) {
	if c.closed {
		return nil, &Error{Code: CodeAssConnect, Description: "session closed"}
	}
	if strings.ContainsAny(command, "\r\n") {
		return nil, &Error{Code: CodeInvValue, Description: "command contains a line break"}
	}
	if len(command) >= MaxLineLength {
		return nil, &Error{Code: CodeAssLineTooLong, Description: "command too long"}
	}

	if c.conn == nil {
		if err := c.connect(ctx); err != nil {
			return nil, err
		}
	}

	log.Debug().Str("command", command).Msg("agent transaction")

	stop := c.watch(ctx)
	defer stop()

	if _, err := c.conn.Write([]byte(command + "\n")); err != nil {
		c.drop()
		return nil, &Error{Code: CodeAssWriteError, Description: "writing command", Err: err}
	}

	resp, err := c.readResponse()
	if err != nil {
		log.Debug().Str("command", command).Err(err).Msg("agent transaction failed")
		return nil, err
	}
	return resp, nil
}

// Close says goodbye to the agent and closes the connection. It is safe to
// call more than once.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if c.conn == nil {
		return nil
	}
	_ = c.conn.SetDeadline(time.Now().Add(byeTimeout))
	_, _ = c.conn.Write([]byte("BYE\n"))
	err := c.conn.Close()
	c.conn = nil
	c.r = nil
	if err != nil {
		return fmt.Errorf("failed to close agent connection: %w", err)
	}
	return nil
}

func (c *Conn) connect(ctx context.Context) error {
	nc, err := c.dial(ctx)
	if err != nil {
		return &Error{Code: CodeAssConnect, Description: "connecting to agent", Err: err}
	}
	c.conn = nc
	c.r = bufio.NewReaderSize(nc, MaxLineLength+2)

	stop := c.watch(ctx)
	defer stop()

	// the server greets with OK, or ERR if it refuses us
	if _, err := c.readResponse(); err != nil {
		c.drop()
		return err
	}
	return nil
}

// watch makes blocking I/O on the current connection respect ctx.
func (c *Conn) watch(ctx context.Context) func() {
	nc := c.conn
	if deadline, ok := ctx.Deadline(); ok {
		_ = nc.SetDeadline(deadline)
	}
	stopAfter := context.AfterFunc(ctx, func() {
		_ = nc.SetDeadline(time.Now())
	})
	return func() {
		stopAfter()
		_ = nc.SetDeadline(time.Time{})
	}
}

func (c *Conn) drop() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = nil
	c.r = nil
}

func (c *Conn) readLine() (string, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		c.drop()
		return "", &Error{Code: CodeAssReadError, Description: "reading response", Err: err}
	}
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	if len(line) > MaxLineLength {
		c.drop()
		return "", &Error{Code: CodeAssLineTooLong, Description: "response line too long"}
	}
	return line, nil
}

func (c *Conn) readResponse() (*Response, error) {
	resp := &Response{}
	inquiry := ""

	for {
		line, err := c.readLine()
		if err != nil {
			return nil, err
		}

		switch {
		case line == "OK" || strings.HasPrefix(line, "OK "):
			if inquiry != "" {
				return nil, inquiryError(inquiry)
			}
			return resp, nil
		case strings.HasPrefix(line, "ERR "):
			if inquiry != "" {
				return nil, inquiryError(inquiry)
			}
			return nil, parseErrLine(line[len("ERR "):])
		case strings.HasPrefix(line, "S "):
			resp.Status = append(resp.Status, parseStatusLine(line[len("S "):]))
		case strings.HasPrefix(line, "D "):
			resp.Data = append(resp.Data, Unescape(line[len("D "):])...)
		case line == "" || strings.HasPrefix(line, "#"):
			continue
		case strings.HasPrefix(line, "INQUIRE "):
			keyword, _, _ := strings.Cut(line[len("INQUIRE "):], " ")
			inquiry = keyword
			if _, err := c.conn.Write([]byte("CAN\n")); err != nil {
				c.drop()
				return nil, &Error{Code: CodeAssWriteError, Description: "cancelling inquiry", Err: err}
			}
		default:
			c.drop()
			return nil, &Error{Code: CodeAssInvResponse, Description: "unexpected response line: " + line}
		}
	}
}

func inquiryError(keyword string) error {
	return &Error{
		Code:        CodeAssUnknownInq,
		Description: "unknown inquiry " + keyword,
		Err:         ErrUnknownInquire,
	}
}

var _ Session = (*Conn)(nil)
