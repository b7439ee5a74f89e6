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

package mocks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ZaparooProject/cardmon/pkg/api/models"
	"github.com/stretchr/testify/mock"
)

type MockAPIClient struct {
	mock.Mock
}

func NewMockAPIClient() *MockAPIClient {
	return &MockAPIClient{}
}

func (m *MockAPIClient) Summary(ctx context.Context) (models.SummaryResponse, error) {
	args := m.Called(ctx)
	if resp, ok := args.Get(0).(models.SummaryResponse); ok {
		return resp, args.Error(1)
	}
	return models.SummaryResponse{}, args.Error(1)
}

func (m *MockAPIClient) Update(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockAPIClient) Transact(
	ctx context.Context,
	timeout time.Duration,
	command string,
) (models.TransactionFinishedParams, error) {
	args := m.Called(ctx, timeout, command)
	if resp, ok := args.Get(0).(models.TransactionFinishedParams); ok {
		return resp, args.Error(1)
	}
	return models.TransactionFinishedParams{}, args.Error(1)
}

func (m *MockAPIClient) WaitNotification(
	ctx context.Context,
	timeout time.Duration,
	method string,
) (json.RawMessage, error) {
	args := m.Called(ctx, timeout, method)
	if raw, ok := args.Get(0).(json.RawMessage); ok {
		return raw, args.Error(1)
	}
	return nil, args.Error(1)
}

// SetupSummary makes Summary return resp.
func (m *MockAPIClient) SetupSummary(resp models.SummaryResponse) {
	m.On("Summary", mock.Anything).Return(resp, nil)
}

func (m *MockAPIClient) SetupSummaryError(err error) {
	m.On("Summary", mock.Anything).Return(nil, err)
}
