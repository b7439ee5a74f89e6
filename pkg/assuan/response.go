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

package assuan

import (
	"bytes"
	"strconv"
	"strings"
)

// StatusLine is one "S <keyword> <args>" line.
type StatusLine struct {
	Keyword string
	Args    string
}

// Response collects everything the agent sent for one command.
type Response struct {
	Data   []byte
	Status []StatusLine
}

// FirstStatusLine returns the arguments of the first status line with the
// given keyword, or "" if there is none.
func (r *Response) FirstStatusLine(keyword string) string {
	if r == nil {
		return ""
	}
	for _, s := range r.Status {
		if s.Keyword == keyword {
			return s.Args
		}
	}
	return ""
}

// StatusLines returns the arguments of all status lines with the keyword.
func (r *Response) StatusLines(keyword string) []string {
	if r == nil {
		return nil
	}
	var lines []string
	for _, s := range r.Status {
		if s.Keyword == keyword {
			lines = append(lines, s.Args)
		}
	}
	return lines
}

// Unescape decodes Assuan percent escapes (%25, %0A, %0D and friends).
// Malformed escapes are kept verbatim.
func Unescape(s string) []byte {
	if !strings.Contains(s, "%") {
		return []byte(s)
	}
	var buf bytes.Buffer
	buf.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) {
			if b, err := strconv.ParseUint(s[i+1:i+3], 16, 8); err == nil {
				buf.WriteByte(byte(b))
				i += 2
				continue
			}
		}
		buf.WriteByte(s[i])
	}
	return buf.Bytes()
}

func parseStatusLine(rest string) StatusLine {
	keyword, args, _ := strings.Cut(rest, " ")
	return StatusLine{
		Keyword: keyword,
		Args:    string(Unescape(strings.TrimLeft(args, " "))),
	}
}

// parseErrLine parses the text after "ERR ".
func parseErrLine(rest string) *Error {
	num, desc, _ := strings.Cut(rest, " ")
	value, err := strconv.ParseUint(num, 10, 32)
	if err != nil {
		return &Error{Code: CodeAssInvResponse, Description: "malformed ERR line: " + rest}
	}
	return NewError(uint32(value), strings.TrimSpace(desc))
}
