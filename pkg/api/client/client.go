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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ZaparooProject/cardmon/pkg/api/models"
	"github.com/ZaparooProject/cardmon/pkg/config"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrRequestTimeout   = errors.New("request timed out")
	ErrRequestCancelled = errors.New("request cancelled")
	ErrConnectionClosed = errors.New("connection closed")
)

const EventsPath = "/api/events"

// Client talks to a running card monitor's status API.
type Client struct {
	http *http.Client
	host string
}

// NewClient returns a client for the API listening on host ("ip:port").
func NewClient(host string) *Client {
	return &Client{
		host: host,
		http: &http.Client{Timeout: config.APIRequestTimeout},
	}
}

func (c *Client) url(scheme, path string) string {
	u := url.URL{Scheme: scheme, Host: c.host, Path: path}
	return u.String()
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url("http", path), reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing response body")
		}
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr models.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("%s %s: %s (%d)", method, path, apiErr.Error.Message, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) Summary(ctx context.Context) (models.SummaryResponse, error) {
	var resp models.SummaryResponse
	err := c.do(ctx, http.MethodGet, "/api/readers/summary", nil, &resp)
	return resp, err
}

func (c *Client) Update(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/readers/update", nil, nil)
}

// Transact queues command and waits for its transactions.finished
// notification. The event stream is opened before the command is posted so
// the completion cannot be missed.
func (c *Client) Transact(
	ctx context.Context,
	timeout time.Duration,
	command string,
) (models.TransactionFinishedParams, error) {
	var result models.TransactionFinishedParams

	conn, err := c.dialEvents(ctx)
	if err != nil {
		return result, err
	}
	defer closeConn(conn)

	var resp models.TransactionResponse
	err = c.do(ctx, http.MethodPost, "/api/transactions", models.TransactionRequest{Command: command}, &resp)
	if err != nil {
		return result, err
	}

	params, err := waitFor(ctx, conn, timeout, func(n models.NotificationObject) bool {
		if n.Method != models.NotificationTransactionsFinished {
			return false
		}
		var p models.TransactionFinishedParams
		if err := json.Unmarshal(n.Params, &p); err != nil {
			return false
		}
		return p.ID == resp.ID
	})
	if err != nil {
		return result, err
	}
	if err := json.Unmarshal(params, &result); err != nil {
		return result, fmt.Errorf("failed to decode notification: %w", err)
	}
	return result, nil
}

// WaitNotification blocks until a notification with the given method is
// received and returns its params. A zero timeout uses the API request
// timeout; a negative one waits until ctx is done.
func (c *Client) WaitNotification(
	ctx context.Context,
	timeout time.Duration,
	method string,
) (json.RawMessage, error) {
	conn, err := c.dialEvents(ctx)
	if err != nil {
		return nil, err
	}
	defer closeConn(conn)

	return waitFor(ctx, conn, timeout, func(n models.NotificationObject) bool {
		return n.Method == method
	})
}

func (c *Client) dialEvents(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.url("ws", EventsPath), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dial websocket: %w", err)
	}
	return conn, nil
}

func closeConn(conn *websocket.Conn) {
	if err := conn.Close(); err != nil {
		log.Warn().Err(err).Msg("error closing websocket")
	}
}

func waitFor(
	ctx context.Context,
	conn *websocket.Conn,
	timeout time.Duration,
	match func(models.NotificationObject) bool,
) (json.RawMessage, error) {
	done := make(chan struct{})
	var found json.RawMessage
	var ok bool

	go func() {
		defer close(done)
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				log.Debug().Err(err).Msg("websocket read ended")
				return
			}

			var n models.NotificationObject
			if err := json.Unmarshal(message, &n); err != nil {
				continue
			}
			if n.JSONRPC != "2.0" {
				log.Error().Msg("invalid jsonrpc version")
				continue
			}
			if match(n) {
				found = n.Params
				ok = true
				return
			}
		}
	}()

	var timerChan <-chan time.Time
	switch {
	case timeout == 0:
		timer := time.NewTimer(config.APIRequestTimeout)
		defer timer.Stop()
		timerChan = timer.C
	case timeout > 0:
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timerChan = timer.C
	}
	// or else leave chan nil, which will never receive

	select {
	case <-done:
	case <-timerChan:
		closeConn(conn)
		<-done
		return nil, ErrRequestTimeout
	case <-ctx.Done():
		closeConn(conn)
		<-done
		return nil, ErrRequestCancelled
	}

	if !ok {
		return nil, ErrConnectionClosed
	}
	return found, nil
}
