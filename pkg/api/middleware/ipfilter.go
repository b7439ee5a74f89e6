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

package middleware

import (
	"net"
)

// ParseRemoteIP extracts the IP from a RemoteAddr, with or without a port.
// It returns nil when no IP can be parsed.
func ParseRemoteIP(remoteAddr string) net.IP {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	return net.ParseIP(host)
}

// IsLoopbackAddr checks if a RemoteAddr string represents a loopback address.
func IsLoopbackAddr(remoteAddr string) bool {
	ip := ParseRemoteIP(remoteAddr)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}

// clientKey is the limiter key for a request: its IP, or the raw address
// when that does not parse.
func clientKey(remoteAddr string) string {
	if ip := ParseRemoteIP(remoteAddr); ip != nil {
		return ip.String()
	}
	return remoteAddr
}
