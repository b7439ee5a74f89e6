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

// EventKind identifies what an Event reports.
type EventKind int

const (
	// EventCardStatusChanged means Slot now has Status.
	EventCardStatusChanged EventKind = iota
	// EventAnyCardHasNullPin carries the aggregate in Value. It is sent after
	// every reprobe, not only when the value flips.
	EventAnyCardHasNullPin
	// EventAnyCardCanLearnKeys is the same for learnable keys.
	EventAnyCardCanLearnKeys
)

func (k EventKind) String() string {
	switch k {
	case EventCardStatusChanged:
		return "card_status_changed"
	case EventAnyCardHasNullPin:
		return "any_card_has_null_pin"
	case EventAnyCardCanLearnKeys:
		return "any_card_can_learn_keys"
	default:
		return "unknown"
	}
}

// Event is published after each reprobe. Within one cycle status changes
// come first in slot order, followed by the two aggregates.
type Event struct {
	Kind   EventKind
	Slot   uint
	Status Status
	Value  bool
}

// diffTables compares two tables of equal length and returns the events of
// one reprobe plus whether any slot is in CardError.
func diffTables(old, cur Table) (events []Event, anyError bool) {
	anyNullPin := false
	anyLearn := false
	for i := range cur {
		if i < len(old) && old[i].Status != cur[i].Status {
			events = append(events, Event{
				Kind:   EventCardStatusChanged,
				Slot:   uint(i),
				Status: cur[i].Status,
			})
		}
		switch cur[i].Status {
		case CardCanLearnKeys:
			anyLearn = true
		case CardHasNullPin:
			anyNullPin = true
		case CardError:
			anyError = true
		case NoCard, CardPresent, CardActive, CardUsable:
		}
	}
	events = append(events,
		Event{Kind: EventAnyCardHasNullPin, Value: anyNullPin},
		Event{Kind: EventAnyCardCanLearnKeys, Value: anyLearn},
	)
	return events, anyError
}
