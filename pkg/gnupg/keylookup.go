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

package gnupg

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/ZaparooProject/cardmon/pkg/helpers"
)

const gpgsmBin = "gpgsm"

// EphemeralKeyLookup checks whether the CMS keyring knows a certificate for
// a keygrip, including ephemeral certificates. The card monitor uses it to
// decide if a card has keys that were never learned.
type EphemeralKeyLookup struct {
	exec helpers.CommandExecutor
	bin  string
}

// NewEphemeralKeyLookup fails when gpgsm is not installed, which the prober
// treats as "no key lookup available".
func NewEphemeralKeyLookup(cmd helpers.CommandExecutor) (*EphemeralKeyLookup, error) {
	bin, err := cmd.LookPath(gpgsmBin)
	if err != nil {
		return nil, fmt.Errorf("failed to find %s: %w", gpgsmBin, err)
	}
	return &EphemeralKeyLookup{exec: cmd, bin: bin}, nil
}

// Has runs a colon-format key listing for pattern. No match is (false, nil);
// any other failure is returned as an error.
func (k *EphemeralKeyLookup) Has(ctx context.Context, pattern string) (bool, error) {
	out, err := k.exec.Output(ctx, k.bin,
		"--batch", "--with-colons", "--with-ephemeral-keys", "--list-keys", pattern)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// gpgsm exits non-zero when nothing matched
			return hasCertificate(out), nil
		}
		return false, fmt.Errorf("failed to list keys for %s: %w", pattern, err)
	}
	return hasCertificate(out), nil
}

func hasCertificate(listing []byte) bool {
	scanner := bufio.NewScanner(bytes.NewReader(listing))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "crt:") || strings.HasPrefix(line, "crs:") {
			return true
		}
	}
	return false
}
