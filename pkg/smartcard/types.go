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

// Package smartcard monitors the smartcard readers known to gpg-agent. A
// single worker goroutine owns the agent session, serves a request queue
// and publishes a snapshot table of per-slot card state that any goroutine
// may read without waiting on the agent.
package smartcard

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Status is the classification of one reader slot.
type Status int

const (
	NoCard Status = iota
	CardPresent
	CardActive
	CardUsable
	CardCanLearnKeys
	CardHasNullPin
	CardError
)

var statusNames = [...]string{
	"NoCard",
	"CardPresent",
	"CardActive",
	"CardUsable",
	"CardCanLearnKeys",
	"CardHasNullPin",
	"CardError",
}

// scdaemon's own names for the first four states
var scdFlags = [...]string{
	"NOCARD",
	"PRESENT",
	"ACTIVE",
	"USABLE",
}

var errUnknownValue = errors.New("unknown value")

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

// ScdFlag returns the scdaemon flag name for states scdaemon knows about.
func (s Status) ScdFlag() (string, bool) {
	if s < 0 || int(s) >= len(scdFlags) {
		return "", false
	}
	return scdFlags[s], true
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	i := slices.Index(statusNames[:], string(text))
	if i < 0 {
		return fmt.Errorf("status %q: %w", text, errUnknownValue)
	}
	*s = Status(i)
	return nil
}

// AppType is the card application reported by scdaemon.
type AppType int

const (
	UnknownApplication AppType = iota
	OpenPGPApplication
	NksApplication
	P15Application
	DinSigApplication
	GeldkarteApplication
)

// appTypeNames are the APPTYPE tokens; index 0 never matches a real card.
var appTypeNames = [...]string{
	"_",
	"openpgp",
	"nks",
	"p15",
	"dinsig",
	"geldkarte",
}

func (a AppType) String() string {
	if a <= UnknownApplication || int(a) >= len(appTypeNames) {
		return "unknown"
	}
	return appTypeNames[a]
}

func (a AppType) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *AppType) UnmarshalText(text []byte) error {
	if string(text) == "unknown" {
		*a = UnknownApplication
		return nil
	}
	parsed := ParseAppType(string(text))
	if parsed == UnknownApplication {
		return fmt.Errorf("app type %q: %w", text, errUnknownValue)
	}
	*a = parsed
	return nil
}

// ParseAppType maps an APPTYPE token case-insensitively.
func ParseAppType(s string) AppType {
	for i, name := range appTypeNames {
		if strings.EqualFold(s, name) {
			return AppType(i)
		}
	}
	return UnknownApplication
}

// PinState is the state of one PIN as reported by CHV-STATUS.
type PinState int

const (
	UnknownPinState PinState = iota
	NullPin
	PinBlocked
	NoPin
	PinOk
)

var pinStateNames = [...]string{
	"UnknownPinState",
	"NullPin",
	"PinBlocked",
	"NoPin",
	"PinOk",
}

func (p PinState) String() string {
	if p < 0 || int(p) >= len(pinStateNames) {
		return fmt.Sprintf("PinState(%d)", int(p))
	}
	return pinStateNames[p]
}

func (p PinState) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *PinState) UnmarshalText(text []byte) error {
	i := slices.Index(pinStateNames[:], string(text))
	if i < 0 {
		return fmt.Errorf("pin state %q: %w", text, errUnknownValue)
	}
	*p = PinState(i)
	return nil
}

// UnknownAppVersion is the AppVersion of a card whose version was never read.
const UnknownAppVersion = -1

// CardInfo is the snapshot of one reader slot. Status is always derived by
// the prober from the other fields.
type CardInfo struct {
	FileName     string     `json:"fileName"`
	SerialNumber string     `json:"serialNumber"`
	PinStates    []PinState `json:"pinStates"`
	Slot         uint       `json:"slot"`
	Status       Status     `json:"status"`
	AppType      AppType    `json:"appType"`
	AppVersion   int        `json:"appVersion"`
}

func newCardInfo(slot uint, fileName string, status Status) CardInfo {
	return CardInfo{
		Slot:       slot,
		FileName:   fileName,
		Status:     status,
		AppVersion: UnknownAppVersion,
	}
}

// Clone returns a copy that shares no memory with ci.
func (ci CardInfo) Clone() CardInfo {
	ci.PinStates = slices.Clone(ci.PinStates)
	return ci
}

// Table holds one CardInfo per slot, indexed by slot number. A slot past the
// end of the table has no card.
type Table []CardInfo

// Clone deep-copies the table.
func (t Table) Clone() Table {
	if t == nil {
		return nil
	}
	out := make(Table, len(t))
	for i := range t {
		out[i] = t[i].Clone()
	}
	return out
}

// Status returns the status at slot, NoCard when the slot is not in the table.
func (t Table) Status(slot uint) Status {
	if slot >= uint(len(t)) {
		return NoCard
	}
	return t[slot].Status
}

// At returns a copy of the entry for slot, or an empty NoCard entry when
// the slot is not in the table.
func (t Table) At(slot uint) CardInfo {
	if slot >= uint(len(t)) {
		return newCardInfo(slot, "", NoCard)
	}
	return t[slot].Clone()
}

// padTable extends t with empty NoCard entries until it has n slots.
func padTable(t Table, n int) Table {
	for len(t) < n {
		t = append(t, newCardInfo(uint(len(t)), "", NoCard))
	}
	return t
}

// EventCounter is gpg-agent's card event counter.
type EventCounter uint32

// UnknownEventCounter is used whenever the counter could not be read.
const UnknownEventCounter = ^EventCounter(0)
