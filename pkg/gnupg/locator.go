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

// Package gnupg finds the parts of a local GnuPG installation the card
// monitor talks to, by asking gpgconf and gpgsm.
package gnupg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ZaparooProject/cardmon/pkg/assuan"
	"github.com/ZaparooProject/cardmon/pkg/helpers"
	"github.com/rs/zerolog/log"
)

const gpgconfBin = "gpgconf"

var errEmptyDir = errors.New("gpgconf returned an empty path")

// Locator resolves GnuPG directories. Zero fields fall back to the real
// environment.
type Locator struct {
	Exec    helpers.CommandExecutor
	Getenv  func(string) string
	UserDir func() (string, error)
}

func NewLocator(cmd helpers.CommandExecutor) *Locator {
	return &Locator{
		Exec:    cmd,
		Getenv:  os.Getenv,
		UserDir: os.UserHomeDir,
	}
}

func (l *Locator) listDir(ctx context.Context, name string) (string, error) {
	out, err := l.Exec.Output(ctx, gpgconfBin, "--list-dirs", name)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", fmt.Errorf("%w: %s not installed", assuan.ErrNotSupported, gpgconfBin)
		}
		return "", fmt.Errorf("failed to run %s --list-dirs %s: %w", gpgconfBin, name, err)
	}
	dir := strings.TrimSpace(string(out))
	if dir == "" {
		return "", fmt.Errorf("%s: %w", name, errEmptyDir)
	}
	// gpgconf percent-escapes colons and such in its output
	return string(assuan.Unescape(dir)), nil
}

// AgentSocket returns the path of gpg-agent's standard socket. The error
// wraps assuan.ErrNotSupported when gpgconf is not installed.
func (l *Locator) AgentSocket(ctx context.Context) (string, error) {
	return l.listDir(ctx, "agent-socket")
}

// HomeDir returns the GnuPG home directory. It asks gpgconf first, then
// falls back to $GNUPGHOME and ~/.gnupg the way gpg itself does.
func (l *Locator) HomeDir(ctx context.Context) (string, error) {
	dir, err := l.listDir(ctx, "homedir")
	if err == nil {
		return dir, nil
	}
	log.Debug().Err(err).Msg("gpgconf homedir lookup failed, using fallback")

	if l.Getenv != nil {
		if env := l.Getenv("GNUPGHOME"); env != "" {
			return env, nil
		}
	}
	if l.UserDir == nil {
		return "", fmt.Errorf("failed to find gnupg home: %w", err)
	}
	home, herr := l.UserDir()
	if herr != nil {
		return "", fmt.Errorf("failed to find gnupg home: %w", herr)
	}
	return filepath.Join(home, ".gnupg"), nil
}
