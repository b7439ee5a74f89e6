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

	"github.com/stretchr/testify/mock"
)

// MockCommandExecutor is a testify mock for helpers.CommandExecutor.
// It lets the gnupg helpers be tested without gpgconf or gpgsm installed.
type MockCommandExecutor struct {
	mock.Mock
}

// Run mocks the execution of a system command.
//
// Example:
//
//	mockCmd := &MockCommandExecutor{}
//	mockCmd.On("Run", mock.Anything, "gpgconf", mock.Anything).Return(nil)
func (m *MockCommandExecutor) Run(ctx context.Context, name string, args ...string) error {
	called := m.Called(ctx, name, args)
	//nolint:wrapcheck // Mock returns are already wrapped by caller
	return called.Error(0)
}

// Output mocks running a command and capturing its stdout. Args are matched
// as a single []string.
//
// Example:
//
//	mockCmd.On("Output", mock.Anything, "gpgconf",
//		[]string{"--list-dirs", "agent-socket"}).Return([]byte("/run/S.gpg-agent\n"), nil)
func (m *MockCommandExecutor) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	called := m.Called(ctx, name, args)
	var out []byte
	if b, ok := called.Get(0).([]byte); ok {
		out = b
	}
	//nolint:wrapcheck // Mock returns are already wrapped by caller
	return out, called.Error(1)
}

// LookPath mocks binary lookup.
func (m *MockCommandExecutor) LookPath(name string) (string, error) {
	called := m.Called(name)
	//nolint:wrapcheck // Mock returns are already wrapped by caller
	return called.String(0), called.Error(1)
}
