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
	"encoding/json"
)

// Notification methods pushed to WebSocket clients.
const (
	NotificationReadersStatus        = "readers.status"
	NotificationReadersNullPin       = "readers.null_pin"
	NotificationReadersLearnKeys     = "readers.learn_keys"
	NotificationTransactionsFinished = "transactions.finished"
)

// Notification is one server-to-client message before it is wrapped in a
// JSON-RPC envelope.
type Notification struct {
	Method string
	Params json.RawMessage
}

// NotificationObject is a JSON-RPC 2.0 notification (a request without ID).
type NotificationObject struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type ErrorObject struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error ErrorObject `json:"error"`
}
