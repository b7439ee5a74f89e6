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
	"github.com/google/uuid"
)

// Kind says what the worker should do with a Request.
type Kind int

const (
	// KindCheck reprobes only when the agent's event counter moved.
	KindCheck Kind = iota
	// KindUpdate always reprobes.
	KindUpdate
	// KindQuit ends the worker; nothing queued after it runs.
	KindQuit
	// KindCommand sends Command to the agent verbatim.
	KindCommand
)

func (k Kind) String() string {
	switch k {
	case KindCheck:
		return "check"
	case KindUpdate:
		return "update"
	case KindQuit:
		return "quit"
	case KindCommand:
		return "command"
	default:
		return "unknown"
	}
}

// Completion is the result of a pass-through command, handed back to the
// requester by DeliverFinished.
type Completion struct {
	Err     error
	Handle  any
	Command string
	ID      uuid.UUID
}

// Request is one entry of the worker queue.
type Request struct {
	err      error
	handle   any
	callback func(Completion)
	command  string
	id       uuid.UUID
	kind     Kind
}

func newRequest(kind Kind) *Request {
	return &Request{kind: kind, id: uuid.New()}
}

func newCommandRequest(command string, handle any, callback func(Completion)) *Request {
	return &Request{
		kind:     KindCommand,
		id:       uuid.New(),
		command:  command,
		handle:   handle,
		callback: callback,
	}
}

func (r *Request) completion() Completion {
	return Completion{
		ID:      r.id,
		Command: r.command,
		Handle:  r.handle,
		Err:     r.err,
	}
}
