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
	"fmt"
	"strings"
	"sync"

	"github.com/ZaparooProject/cardmon/pkg/assuan"
)

// card is what the fake agent reports for slot 0.
type card struct {
	errs     map[string]error
	serial   string
	appType  string
	version  string
	chv      string
	keyPairs []string
}

func nksCard(chv string, keyPairs ...string) card {
	return card{
		serial:   "D27600000000000000000000",
		appType:  "NKS",
		version:  "3",
		chv:      chv,
		keyPairs: keyPairs,
	}
}

func absentCard() card {
	return card{errs: map[string]error{
		cmdSerialNo: assuan.NewError(6<<24|uint32(assuan.CodeCardNotPresent), "Card not present"),
	}}
}

// fakeAgent plays gpg-agent for the prober and the worker.
type fakeAgent struct {
	hook     func(ctx context.Context, command string) error
	card     card
	log      []string
	counter  uint32
	sessions int
	closed   int
	mu       sync.Mutex
}

func newFakeAgent(c card) *fakeAgent {
	return &fakeAgent{card: c, counter: 1}
}

func (a *fakeAgent) setCard(c card) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.card = c
}

func (a *fakeAgent) bumpCounter() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.counter++
}

func (a *fakeAgent) commands() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.log...)
}

func (a *fakeAgent) resetLog() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.log = nil
}

func (a *fakeAgent) counts() (sessions, closed int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessions, a.closed
}

func status(keyword, args string) *assuan.Response {
	return &assuan.Response{Status: []assuan.StatusLine{{Keyword: keyword, Args: args}}}
}

func (a *fakeAgent) Transact(ctx context.Context, command string) (*assuan.Response, error) {
	a.mu.Lock()
	a.log = append(a.log, command)
	c := a.card
	counter := a.counter
	hook := a.hook
	a.mu.Unlock()

	if err, ok := c.errs[command]; ok {
		return nil, err
	}

	switch {
	case command == cmdGetEventCounter:
		return status("EVENTCOUNTER", fmt.Sprintf("0 0 %d 0", counter)), nil
	case command == cmdSerialNo:
		return status("SERIALNO", c.serial+" 0"), nil
	case strings.HasPrefix(command, cmdGetAttr):
		attr := strings.TrimPrefix(command, cmdGetAttr)
		switch attr {
		case "APPTYPE":
			return status(attr, c.appType), nil
		case "NKS-VERSION":
			return status(attr, c.version), nil
		case "CHV-STATUS":
			return status(attr, c.chv), nil
		}
		return &assuan.Response{}, nil
	case command == cmdLearnKeyPairs:
		resp := &assuan.Response{}
		for _, kp := range c.keyPairs {
			resp.Status = append(resp.Status, assuan.StatusLine{Keyword: "KEYPAIRINFO", Args: kp})
		}
		return resp, nil
	}

	if hook != nil {
		if err := hook(ctx, command); err != nil {
			return nil, err
		}
	}
	return &assuan.Response{}, nil
}

type fakeSession struct {
	agent *fakeAgent
}

func (s *fakeSession) Transact(ctx context.Context, command string) (*assuan.Response, error) {
	return s.agent.Transact(ctx, command)
}

func (s *fakeSession) Close() error {
	s.agent.mu.Lock()
	defer s.agent.mu.Unlock()
	s.agent.closed++
	return nil
}

type fakeDialer struct {
	agent *fakeAgent
	err   error
}

func (d *fakeDialer) NewSession(context.Context) (assuan.Session, error) {
	if d.err != nil {
		return nil, d.err
	}
	d.agent.mu.Lock()
	d.agent.sessions++
	d.agent.mu.Unlock()
	return &fakeSession{agent: d.agent}, nil
}

type fakeLookup struct {
	err   error
	known map[string]bool
	calls []string
}

func (l *fakeLookup) Has(_ context.Context, pattern string) (bool, error) {
	l.calls = append(l.calls, pattern)
	if l.err != nil {
		return false, l.err
	}
	return l.known[pattern], nil
}
