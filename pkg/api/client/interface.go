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

package client

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ZaparooProject/cardmon/pkg/api/models"
)

// APIClient abstracts API communication for testability.
type APIClient interface {
	Summary(ctx context.Context) (models.SummaryResponse, error)
	Update(ctx context.Context) error
	Transact(ctx context.Context, timeout time.Duration, command string) (models.TransactionFinishedParams, error)
	WaitNotification(ctx context.Context, timeout time.Duration, method string) (json.RawMessage, error)
}

var _ APIClient = (*Client)(nil)
