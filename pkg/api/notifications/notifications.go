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

// Package notifications builds the card monitor's WebSocket notifications.
package notifications

import (
	"encoding/json"

	"github.com/ZaparooProject/cardmon/pkg/api/models"
	"github.com/ZaparooProject/cardmon/pkg/assuan"
	"github.com/ZaparooProject/cardmon/pkg/smartcard"
	"github.com/rs/zerolog/log"
)

// sendNotification marshals payload and queues it without blocking. A full
// channel drops the notification.
func sendNotification(ns chan<- models.Notification, method string, payload any) {
	var params json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			log.Error().Err(err).Str("method", method).Msg("failed to marshal notification payload")
			return
		}
		params = data
	}

	select {
	case ns <- models.Notification{Method: method, Params: params}:
	default:
		log.Warn().Str("method", method).Msg("notification channel full, dropping notification")
	}
}

func ReaderStatusChanged(ns chan<- models.Notification, slot uint, status smartcard.Status) {
	sendNotification(ns, models.NotificationReadersStatus, models.ReaderStatusParams{
		Slot:   slot,
		Status: status,
	})
}

func AnyCardHasNullPin(ns chan<- models.Notification, value bool) {
	sendNotification(ns, models.NotificationReadersNullPin, models.FlagParams{Value: value})
}

func AnyCardCanLearnKeys(ns chan<- models.Notification, value bool) {
	sendNotification(ns, models.NotificationReadersLearnKeys, models.FlagParams{Value: value})
}

func TransactionFinished(ns chan<- models.Notification, c smartcard.Completion) {
	params := models.TransactionFinishedParams{
		ID:      c.ID,
		Command: c.Command,
		Code:    uint32(assuan.CodeOf(c.Err)),
	}
	if c.Err != nil {
		params.Error = c.Err.Error()
	}
	sendNotification(ns, models.NotificationTransactionsFinished, params)
}

// FromEvent forwards a card monitor event as the matching notification.
func FromEvent(ns chan<- models.Notification, ev smartcard.Event) {
	switch ev.Kind {
	case smartcard.EventCardStatusChanged:
		ReaderStatusChanged(ns, ev.Slot, ev.Status)
	case smartcard.EventAnyCardHasNullPin:
		AnyCardHasNullPin(ns, ev.Value)
	case smartcard.EventAnyCardCanLearnKeys:
		AnyCardCanLearnKeys(ns, ev.Value)
	}
}
