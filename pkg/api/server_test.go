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

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ZaparooProject/cardmon/pkg/api/models"
	"github.com/ZaparooProject/cardmon/pkg/config"
	"github.com/ZaparooProject/cardmon/pkg/smartcard"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMonitor struct {
	events    chan smartcard.Event
	callbacks []func(smartcard.Completion)
	commands  []string
	table     smartcard.Table
	updates   int
	mu        sync.Mutex
	nullPin   bool
	learnKeys bool
}

func newFakeMonitor() *fakeMonitor {
	return &fakeMonitor{
		events: make(chan smartcard.Event, 8),
		table: smartcard.Table{{
			FileName:     "/home/u/.gnupg/reader_0.status",
			SerialNumber: "D27600012401",
			Status:       smartcard.CardCanLearnKeys,
			AppType:      smartcard.NksApplication,
			AppVersion:   3,
			PinStates:    []smartcard.PinState{smartcard.PinOk, smartcard.NullPin},
		}},
		learnKeys: true,
	}
}

func (m *fakeMonitor) CardInfos() smartcard.Table { return m.table.Clone() }

func (m *fakeMonitor) PinStates(slot uint) []smartcard.PinState {
	return m.table.At(slot).PinStates
}

func (m *fakeMonitor) AnyCardHasNullPin() bool   { return m.nullPin }
func (m *fakeMonitor) AnyCardCanLearnKeys() bool { return m.learnKeys }

func (m *fakeMonitor) UpdateStatus() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
}

func (m *fakeMonitor) StartSimpleTransaction(
	command string,
	_ any,
	callback func(smartcard.Completion),
) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = append(m.commands, command)
	m.callbacks = append(m.callbacks, callback)
	return uuid.New()
}

func (m *fakeMonitor) Subscribe(int) (events <-chan smartcard.Event, id int) {
	return m.events, 1
}

func (m *fakeMonitor) Unsubscribe(int) {}

func testConfig(t *testing.T, api config.API) *config.Instance {
	t.Helper()
	defaults := config.BaseDefaults
	defaults.API = api
	cfg, err := config.NewConfig(t.TempDir(), defaults)
	require.NoError(t, err)
	return cfg
}

func newTestServer(t *testing.T) (*Server, *fakeMonitor) {
	t.Helper()
	m := newFakeMonitor()
	return NewServer(testConfig(t, config.BaseDefaults.API), m, nil), m
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, http.NoBody)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, r)
	return w
}

func TestReaders(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)

	w := do(t, s, http.MethodGet, "/api/readers", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp models.ReadersResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Readers, 1)
	assert.Equal(t, "D27600012401", resp.Readers[0].SerialNumber)
	assert.Equal(t, smartcard.CardCanLearnKeys, resp.Readers[0].Status)
}

func TestReader(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)

	tests := []struct {
		name   string
		path   string
		status smartcard.Status
		code   int
	}{
		{name: "known slot", path: "/api/readers/0", code: http.StatusOK, status: smartcard.CardCanLearnKeys},
		{name: "unknown slot", path: "/api/readers/5", code: http.StatusOK, status: smartcard.NoCard},
		{name: "invalid slot", path: "/api/readers/abc", code: http.StatusBadRequest},
		{name: "negative slot", path: "/api/readers/-1", code: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w := do(t, s, http.MethodGet, tt.path, "")
			require.Equal(t, tt.code, w.Code)
			if tt.code != http.StatusOK {
				var resp models.ErrorResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				assert.Equal(t, tt.code, resp.Error.Code)
				return
			}
			var info smartcard.CardInfo
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
			assert.Equal(t, tt.status, info.Status)
		})
	}
}

func TestPins(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)

	w := do(t, s, http.MethodGet, "/api/readers/0/pins", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp models.PinsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []smartcard.PinState{smartcard.PinOk, smartcard.NullPin}, resp.PinStates)

	w = do(t, s, http.MethodGet, "/api/readers/3/pins", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"pinStates":[]`)
}

func TestSummary(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)

	w := do(t, s, http.MethodGet, "/api/readers/summary", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp models.SummaryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.AnyCardCanLearnKeys)
	assert.False(t, resp.AnyCardHasNullPin)
	assert.Len(t, resp.Readers, 1)
}

func TestUpdate(t *testing.T) {
	t.Parallel()
	s, m := newTestServer(t)

	w := do(t, s, http.MethodPost, "/api/readers/update", "")
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, 1, m.updates)

	w = do(t, s, http.MethodGet, "/api/readers/update", "")
	assert.Equal(t, http.StatusBadRequest, w.Code, "GET falls through to the slot route")
}

func TestTransactionValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		code int
	}{
		{name: "valid", body: `{"command":"SCD SERIALNO"}`, code: http.StatusAccepted},
		{name: "empty", body: `{"command":""}`, code: http.StatusBadRequest},
		{name: "blank", body: `{"command":"   "}`, code: http.StatusBadRequest},
		{name: "newline", body: `{"command":"SCD SERIALNO\nBYE"}`, code: http.StatusBadRequest},
		{name: "carriage return", body: `{"command":"GETINFO\r"}`, code: http.StatusBadRequest},
		{name: "too long", body: `{"command":"` + strings.Repeat("A", 1000) + `"}`, code: http.StatusBadRequest},
		{name: "not json", body: `SCD SERIALNO`, code: http.StatusBadRequest},
		{name: "unknown field", body: `{"cmd":"SCD SERIALNO"}`, code: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, m := newTestServer(t)
			w := do(t, s, http.MethodPost, "/api/transactions", tt.body)
			assert.Equal(t, tt.code, w.Code)
			if tt.code == http.StatusAccepted {
				assert.Equal(t, []string{"SCD SERIALNO"}, m.commands)
			} else {
				assert.Empty(t, m.commands)
			}
		})
	}
}

func TestTransactionRequiresJSONContentType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		contentType string
		code        int
	}{
		{name: "json", contentType: "application/json", code: http.StatusAccepted},
		{name: "json with charset", contentType: "application/json; charset=utf-8", code: http.StatusAccepted},
		{name: "text plain", contentType: "text/plain", code: http.StatusUnsupportedMediaType},
		{name: "form", contentType: "application/x-www-form-urlencoded", code: http.StatusUnsupportedMediaType},
		{name: "missing", contentType: "", code: http.StatusUnsupportedMediaType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, m := newTestServer(t)

			r := httptest.NewRequest(http.MethodPost, "/api/transactions",
				strings.NewReader(`{"command":"SCD RESET"}`))
			if tt.contentType != "" {
				r.Header.Set("Content-Type", tt.contentType)
			}
			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, r)

			assert.Equal(t, tt.code, w.Code)
			if tt.code == http.StatusAccepted {
				assert.Equal(t, []string{"SCD RESET"}, m.commands)
			} else {
				assert.Empty(t, m.commands)
			}
		})
	}
}

func TestPostRejectsForeignOrigin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		path    string
		origin  string
		allowed []string
		code    int
	}{
		{name: "transaction from foreign page", path: "/api/transactions",
			origin: "http://evil.example", code: http.StatusForbidden},
		{name: "update from foreign page", path: "/api/readers/update",
			origin: "http://evil.example", code: http.StatusForbidden},
		{name: "transaction without origin", path: "/api/transactions",
			code: http.StatusAccepted},
		{name: "transaction from allowed origin", path: "/api/transactions",
			origin: "http://localhost:3000", allowed: []string{"http://localhost:3000"}, code: http.StatusAccepted},
		{name: "update from same host", path: "/api/readers/update",
			origin: "http://example.com", code: http.StatusAccepted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := newFakeMonitor()
			s := NewServer(testConfig(t, config.API{AllowedOrigins: tt.allowed}), m, nil)

			r := httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(`{"command":"SCD RESET"}`))
			r.Header.Set("Content-Type", "application/json")
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, r)

			assert.Equal(t, tt.code, w.Code)
			if tt.code == http.StatusForbidden {
				assert.Empty(t, m.commands)
				assert.Zero(t, m.updates)
			}
		})
	}
}

func TestTransactionCompletionNotifies(t *testing.T) {
	t.Parallel()
	s, m := newTestServer(t)

	w := do(t, s, http.MethodPost, "/api/transactions", `{"command":"SCD SERIALNO"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	var resp models.TransactionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, m.callbacks, 1)

	m.callbacks[0](smartcard.Completion{
		ID:      resp.ID,
		Command: "SCD SERIALNO",
		Err:     errors.New("boom"),
	})

	select {
	case n := <-s.notifications:
		assert.Equal(t, models.NotificationTransactionsFinished, n.Method)
		var params models.TransactionFinishedParams
		require.NoError(t, json.Unmarshal(n.Params, &params))
		assert.Equal(t, resp.ID, params.ID)
		assert.Equal(t, "boom", params.Error)
	default:
		t.Fatal("no notification queued")
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()
	m := newFakeMonitor()
	s := NewServer(testConfig(t, config.API{RequestsPerMinute: 1, Burst: 2}), m, nil)

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/api/readers", "").Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/api/readers", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(t, s, http.MethodGet, "/api/readers", "").Code)
}

func TestCheckWebSocketOrigin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		origin  string
		allowed []string
		want    bool
	}{
		{name: "no origin", want: true},
		{name: "same host", origin: "http://example.com:7498", want: true},
		{name: "foreign", origin: "https://evil.test"},
		{name: "configured", origin: "https://app.test", allowed: []string{"https://app.test"}, want: true},
		{name: "wildcard", origin: "https://any.test", allowed: []string{"*"}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest(http.MethodGet, "http://example.com:7498/api/events", http.NoBody)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, checkWebSocketOrigin(r, tt.allowed))
		})
	}
}

func serve(t *testing.T) (*fakeMonitor, string) {
	t.Helper()
	s, m := newTestServer(t)

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not shut down")
		}
	})

	return m, "ws://" + ln.Addr().String() + "/api/events"
}

func dialEvents(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	c, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))
	return c
}

func TestWebSocketPing(t *testing.T) {
	t.Parallel()
	_, url := serve(t)
	c := dialEvents(t, url)

	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte("ping")))
	_, msg, err := c.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "pong", string(msg))
}

func TestWebSocketBroadcastsEvents(t *testing.T) {
	t.Parallel()
	m, url := serve(t)
	c := dialEvents(t, url)

	// the session is registered once the upgrade has completed, which a
	// ping round trip confirms
	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte("ping")))
	_, _, err := c.ReadMessage()
	require.NoError(t, err)

	m.events <- smartcard.Event{Kind: smartcard.EventCardStatusChanged, Slot: 0, Status: smartcard.CardPresent}

	_, msg, err := c.ReadMessage()
	require.NoError(t, err)

	var n models.NotificationObject
	require.NoError(t, json.NewDecoder(bytes.NewReader(msg)).Decode(&n))
	assert.Equal(t, "2.0", n.JSONRPC)
	assert.Equal(t, models.NotificationReadersStatus, n.Method)

	var params models.ReaderStatusParams
	require.NoError(t, json.Unmarshal(n.Params, &params))
	assert.Equal(t, smartcard.CardPresent, params.Status)
	assert.Equal(t, uint(0), params.Slot)
}
