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
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPadTable(t *testing.T) {
	t.Parallel()

	tbl := padTable(Table{newCardInfo(0, "f", CardUsable)}, 3)
	require.Len(t, tbl, 3)
	assert.Equal(t, CardUsable, tbl[0].Status)
	assert.Equal(t, uint(2), tbl[2].Slot)
	assert.Equal(t, NoCard, tbl[2].Status)
	assert.Equal(t, UnknownAppVersion, tbl[2].AppVersion)

	assert.Len(t, padTable(tbl, 1), 3)
}

func TestDiffTables(t *testing.T) {
	t.Parallel()

	old := Table{
		newCardInfo(0, "", CardUsable),
		newCardInfo(1, "", CardUsable),
		newCardInfo(2, "", NoCard),
	}
	cur := Table{
		newCardInfo(0, "", CardUsable),
		newCardInfo(1, "", CardError),
		newCardInfo(2, "", CardHasNullPin),
	}

	events, anyError := diffTables(old, cur)
	assert.True(t, anyError)
	assert.Equal(t, []Event{
		{Kind: EventCardStatusChanged, Slot: 1, Status: CardError},
		{Kind: EventCardStatusChanged, Slot: 2, Status: CardHasNullPin},
		{Kind: EventAnyCardHasNullPin, Value: true},
		{Kind: EventAnyCardCanLearnKeys, Value: false},
	}, events)

	events, _ = diffTables(cur, cur)
	assert.Len(t, events, 2, "aggregates are sent even without changes")
}

func TestTableClone(t *testing.T) {
	t.Parallel()

	orig := Table{{Slot: 0, Status: CardUsable, PinStates: []PinState{PinOk}}}
	c := orig.Clone()
	c[0].PinStates[0] = NullPin
	c[0].Status = CardError

	assert.Equal(t, PinOk, orig[0].PinStates[0])
	assert.Equal(t, CardUsable, orig[0].Status)
	assert.Nil(t, Table(nil).Clone())
	assert.Equal(t, NoCard, orig.Status(4))
}

func TestCardInfoJSON(t *testing.T) {
	t.Parallel()

	ci := CardInfo{
		Slot:         0,
		Status:       CardCanLearnKeys,
		SerialNumber: "D276",
		AppType:      NksApplication,
		AppVersion:   3,
		PinStates:    []PinState{PinOk, NoPin},
	}
	data, err := json.Marshal(ci)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"fileName": "",
		"serialNumber": "D276",
		"pinStates": ["PinOk", "NoPin"],
		"slot": 0,
		"status": "CardCanLearnKeys",
		"appType": "nks",
		"appVersion": 3
	}`, string(data))

	var back CardInfo
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, ci, back)
}
