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

type ReaderStatusParams struct {
	Status smartcard.Status `json:"status"`
	Slot   uint             `json:"slot"`
}

type FlagParams struct {
	Value bool `json:"value"`
}

type TransactionFinishedParams struct {
	Command string    `json:"command"`
	Error   string    `json:"error,omitempty"`
	Code    uint32    `json:"code"`
	ID      uuid.UUID `json:"id"`
}

// TransactionRequest is the body of POST /api/transactions.
type TransactionRequest struct {
	Command string `json:"command"`
}
