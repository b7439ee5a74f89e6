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
	"strconv"
	"strings"

	"github.com/ZaparooProject/cardmon/pkg/assuan"
	"github.com/rs/zerolog/log"
)

// Agent commands used while probing.
const (
	cmdSerialNo        = "SCD SERIALNO"
	cmdGetAttr         = "SCD GETATTR "
	cmdLearnKeyPairs   = "SCD LEARN --keypairinfo"
	cmdGetEventCounter = "GETEVENTCOUNTER"
)

// probedSlot is the only reader slot that is ever queried.
const probedSlot = 0

// nksPinVersion is the only NetKey version whose PIN and key semantics are
// understood.
const nksPinVersion = 3

// Transactor runs one agent command. The worker hands the prober its
// session through this so protocol errors discard the session centrally.
type Transactor interface {
	Transact(ctx context.Context, command string) (*assuan.Response, error)
}

// KeyLookup reports whether a certificate matching pattern is known.
type KeyLookup interface {
	Has(ctx context.Context, pattern string) (bool, error)
}

// Prober classifies a reader slot by querying the agent step by step,
// stopping as soon as a step rules out the deeper checks.
type Prober struct {
	lookup KeyLookup
}

// NewProber returns a prober. lookup may be nil when no key lookup is
// available; cards with learnable keys then stay CardUsable.
func NewProber(lookup KeyLookup) *Prober {
	return &Prober{lookup: lookup}
}

// Probe returns the snapshot of slot. Only slot 0 is queried; any other
// slot, or a nil agent, yields a CardUsable snapshot without contacting the
// agent.
func (p *Prober) Probe(ctx context.Context, agent Transactor, slot uint, fileName string) CardInfo {
	ci := newCardInfo(slot, fileName, CardUsable)
	if slot != probedSlot || agent == nil {
		return ci
	}

	resp, err := agent.Transact(ctx, cmdSerialNo)
	if assuan.IsCardAbsent(err) {
		ci.Status = NoCard
		return ci
	}
	if err != nil {
		log.Debug().Err(err).Uint("slot", slot).Msg("serial number query failed")
		ci.Status = CardError
		return ci
	}
	ci.SerialNumber = serialNumber(resp)

	appType, err := getAttr(ctx, agent, "APPTYPE")
	ci.AppType = ParseAppType(appType)
	if err != nil {
		return ci
	}
	if ci.AppType != NksApplication {
		log.Debug().Stringer("app", ci.AppType).Msg("not a NetKey card, giving up")
		return ci
	}

	version, err := getAttr(ctx, agent, "NKS-VERSION")
	ci.AppVersion = atoi(version)
	if err != nil {
		return ci
	}
	if ci.AppVersion != nksPinVersion {
		log.Debug().Int("version", ci.AppVersion).Msg("not a NetKey v3 card, giving up")
		return ci
	}

	chv, err := getAttr(ctx, agent, "CHV-STATUS")
	if err != nil {
		return ci
	}
	ci.PinStates = ParsePinStates(chv)
	for _, ps := range ci.PinStates {
		if ps == NullPin {
			ci.Status = CardHasNullPin
			return ci
		}
	}

	if p.hasUnlearnedKeys(ctx, agent) {
		ci.Status = CardCanLearnKeys
	}
	return ci
}

func (p *Prober) hasUnlearnedKeys(ctx context.Context, agent Transactor) bool {
	resp, err := agent.Transact(ctx, cmdLearnKeyPairs)
	if err != nil || resp == nil {
		return false
	}
	infos := resp.StatusLines("KEYPAIRINFO")
	if len(infos) == 0 || p.lookup == nil {
		return false
	}
	for _, info := range infos {
		pattern := KeyPairInfoPattern(info)
		found, err := p.lookup.Has(ctx, pattern)
		if err != nil {
			log.Debug().Err(err).Str("pattern", pattern).Msg("key lookup failed")
		}
		if err != nil || !found {
			return true
		}
	}
	return false
}

func getAttr(ctx context.Context, agent Transactor, attr string) (string, error) {
	resp, err := agent.Transact(ctx, cmdGetAttr+attr)
	if err != nil {
		log.Debug().Err(err).Str("attr", attr).Msg("getattr failed")
		return "", err //nolint:wrapcheck // callers only compare codes
	}
	return resp.FirstStatusLine(attr), nil
}

// serialNumber takes the serial from the SERIALNO status line, or from the
// data lines when the agent sent it that way.
func serialNumber(resp *assuan.Response) string {
	if line := resp.FirstStatusLine("SERIALNO"); line != "" {
		serial, _, _ := strings.Cut(line, " ")
		return serial
	}
	if resp == nil {
		return ""
	}
	return string(resp.Data)
}

// ParsePinState maps one CHV-STATUS field. Only the leading integer counts,
// so garbage reads as 0 and counts as PinOk.
func ParsePinState(s string) PinState {
	switch i := atoi(s); {
	case i == -4:
		return NullPin
	case i == -3:
		return PinBlocked
	case i == -2:
		return NoPin
	case i < 0:
		return UnknownPinState
	default:
		return PinOk
	}
}

// ParsePinStates splits a CHV-STATUS line on spaces and tabs, ignoring
// empty fields.
func ParsePinStates(s string) []PinState {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '\t'
	})
	states := make([]PinState, 0, len(fields))
	for _, f := range fields {
		states = append(states, ParsePinState(f))
	}
	return states
}

// KeyPairInfoPattern turns a KEYPAIRINFO line into a keygrip search
// pattern: "&" followed by the leading hex digits.
func KeyPairInfoPattern(info string) string {
	end := strings.IndexFunc(info, func(r rune) bool {
		return !isHexDigit(r)
	})
	if end < 0 {
		end = len(info)
	}
	return "&" + info[:end]
}

func isHexDigit(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}

// ParseEventCounter reads the third number of an EVENTCOUNTER status line.
func ParseEventCounter(s string) EventCounter {
	fields := strings.Fields(s)
	if len(fields) < 3 {
		return UnknownEventCounter
	}
	for _, f := range fields[:2] {
		if _, err := strconv.ParseUint(f, 10, 32); err != nil {
			return UnknownEventCounter
		}
	}
	v, err := strconv.ParseUint(leadingDigits(fields[2]), 10, 32)
	if err != nil {
		return UnknownEventCounter
	}
	return EventCounter(v)
}

func leadingDigits(s string) string {
	end := strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' })
	if end < 0 {
		return s
	}
	return s[:end]
}

// atoi parses an optional sign and the leading decimal digits of s after
// skipping whitespace, returning 0 when there are none.
func atoi(s string) int {
	s = strings.TrimLeft(s, " \t\n\v\f\r")
	neg := false
	if s != "" && (s[0] == '-' || s[0] == '+') {
		neg = s[0] == '-'
		s = s[1:]
	}
	n, err := strconv.Atoi(leadingDigits(s))
	if err != nil {
		return 0
	}
	if neg {
		return -n
	}
	return n
}
