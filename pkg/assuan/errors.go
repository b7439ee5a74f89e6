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

// Package assuan is a minimal client for the Assuan line protocol spoken by
// gpg-agent. It only covers what the card monitor needs: plain commands,
// status and data lines, and cancelling inquiries.
package assuan

import (
	"errors"
	"fmt"
)

// Code is a libgpg-error error code (the low 16 bits of a gpg_error_t).
type Code uint32

const (
	CodeNoError        Code = 0
	CodeGeneral        Code = 1
	CodeInvValue       Code = 55
	CodeNotSupported   Code = 60
	CodeCanceled       Code = 99
	CodeCardRemoved    Code = 108
	CodeCardNotPresent Code = 112
	CodeAssGeneral     Code = 257
	CodeAssConnect     Code = 259
	CodeAssInvResponse Code = 260
	CodeAssLineTooLong Code = 263
	CodeAssReadError   Code = 270
	CodeAssWriteError  Code = 271
	CodeAssUnknownInq  Code = 281
)

const (
	errorCodeMask    = 0xFFFF
	errorSourceShift = 24
	errorSourceMask  = 0x7F
)

// Error is an error reported by the agent in an ERR line, or a transport
// failure mapped onto the matching Assuan code.
type Error struct {
	Err         error
	Description string
	Code        Code
	Source      uint32
}

func (e *Error) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("assuan error %d", e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s (%d): %v", e.Description, e.Code, e.Err)
	}
	return fmt.Sprintf("%s (%d)", e.Description, e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error carrying the same code, so sentinels like
// ErrNotSupported work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

var (
	// ErrNotSupported means no compatible agent exists on this host.
	ErrNotSupported = &Error{Code: CodeNotSupported, Description: "not supported"}
	// ErrUnknownInquire is returned when the agent asked for data we can't give.
	ErrUnknownInquire = &Error{Code: CodeAssUnknownInq, Description: "unknown inquiry"}
)

// NewError splits a raw gpg_error_t value into source and code.
func NewError(value uint32, description string) *Error {
	return &Error{
		Code:        Code(value & errorCodeMask),
		Source:      (value >> errorSourceShift) & errorSourceMask,
		Description: description,
	}
}

// CodeOf returns the gpg-error code of err, CodeGeneral for foreign errors
// and CodeNoError for nil.
func CodeOf(err error) Code {
	if err == nil {
		return CodeNoError
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeGeneral
}

// IsProtocolError reports whether err is in the Assuan general to
// unknown-inquire range. A session that hit one must be thrown away.
func IsProtocolError(err error) bool {
	code := CodeOf(err)
	return code >= CodeAssGeneral && code <= CodeAssUnknownInq
}

// IsCardAbsent reports whether err means there is no card in the reader.
func IsCardAbsent(err error) bool {
	code := CodeOf(err)
	return code == CodeCardNotPresent || code == CodeCardRemoved
}
