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

package models

import (
	"github.com/ZaparooProject/cardmon/pkg/smartcard"
	"github.com/google/uuid"
)

type ReadersResponse struct {
	Readers []smartcard.CardInfo `json:"readers"`
}

type PinsResponse struct {
	PinStates []smartcard.PinState `json:"pinStates"`
	Slot      uint                 `json:"slot"`
}

type SummaryResponse struct {
	Readers             smartcard.Table `json:"readers"`
	AnyCardHasNullPin   bool            `json:"anyCardHasNullPin"`
	AnyCardCanLearnKeys bool            `json:"anyCardCanLearnKeys"`
}

type TransactionResponse struct {
	ID uuid.UUID `json:"id"`
}
