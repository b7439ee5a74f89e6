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

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/ZaparooProject/cardmon/pkg/api/client"
	"github.com/ZaparooProject/cardmon/pkg/config"
	"github.com/ZaparooProject/cardmon/pkg/helpers"
	"github.com/rs/zerolog/log"
)

const DefaultWaitTimeout = 30 * time.Second

var ErrFlagValue = errors.New("flag requires a value")

type Flags struct {
	set     *flag.FlagSet
	Run     *string
	Wait    *string
	Timeout *time.Duration
	Status  *bool
	Update  *bool
	Version *bool
}

// SetupFlags registers the client flags on fs.
func SetupFlags(fs *flag.FlagSet) *Flags {
	return &Flags{
		set: fs,
		Status: fs.Bool(
			"status",
			false,
			"print the reader summary of the running monitor",
		),
		Update: fs.Bool(
			"update",
			false,
			"ask the running monitor to rescan the readers",
		),
		Run: fs.String(
			"run",
			"",
			"send an Assuan command through the running monitor and print the result",
		),
		Wait: fs.String(
			"wait",
			"",
			"wait for a notification (e.g. readers.status) and print its params",
		),
		Timeout: fs.Duration(
			"timeout",
			DefaultWaitTimeout,
			"how long -run and -wait wait for a result",
		),
		Version: fs.Bool(
			"version",
			false,
			"print version and exit",
		),
	}
}

func (f *Flags) isPassed(name string) bool {
	found := false
	f.set.Visit(func(fl *flag.Flag) {
		if fl.Name == name {
			found = true
		}
	})
	return found
}

// Pre handles flags that need neither config nor a running monitor. It
// reports whether the process should exit.
func (f *Flags) Pre(out io.Writer) bool {
	if *f.Version {
		_, _ = fmt.Fprintf(out, "%s v%s\n", config.AppName, config.AppVersion)
		return true
	}
	return false
}

// IsClient reports whether any flag talking to a running monitor was given.
func (f *Flags) IsClient() bool {
	return *f.Status || *f.Update || f.isPassed("run") || f.isPassed("wait")
}

// Post runs the client flags against the monitor's API.
func (f *Flags) Post(ctx context.Context, c client.APIClient, out io.Writer) error {
	switch {
	case *f.Status:
		resp, err := c.Summary(ctx)
		if err != nil {
			return fmt.Errorf("error getting status: %w", err)
		}
		return printJSON(out, resp)
	case *f.Update:
		if err := c.Update(ctx); err != nil {
			return fmt.Errorf("error requesting update: %w", err)
		}
		return nil
	case f.isPassed("run"):
		if *f.Run == "" {
			return fmt.Errorf("run: %w", ErrFlagValue)
		}
		result, err := c.Transact(ctx, *f.Timeout, *f.Run)
		if err != nil {
			return fmt.Errorf("error running command: %w", err)
		}
		if err := printJSON(out, result); err != nil {
			return err
		}
		if result.Error != "" {
			return fmt.Errorf("command failed: %s", result.Error)
		}
		return nil
	case f.isPassed("wait"):
		if *f.Wait == "" {
			return fmt.Errorf("wait: %w", ErrFlagValue)
		}
		params, err := c.WaitNotification(ctx, *f.Timeout, *f.Wait)
		if err != nil {
			return fmt.Errorf("error waiting for notification: %w", err)
		}
		_, _ = fmt.Fprintln(out, string(params))
		return nil
	}
	return nil
}

func printJSON(out io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("error encoding output: %w", err)
	}
	_, _ = fmt.Fprintln(out, string(data))
	return nil
}

// Setup initialises logging and loads the config.
func Setup(defaultConfig config.Values, writers []io.Writer) (*config.Instance, error) {
	err := helpers.InitLogging(helpers.LogDir(), false, writers)
	if err != nil {
		return nil, fmt.Errorf("error initializing logging: %w", err)
	}

	cfg, err := config.NewConfig(helpers.ConfigDir(), defaultConfig)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}

	helpers.SetDebugLogging(cfg.DebugLogging())
	log.Debug().Str("path", cfg.Path()).Msg("config loaded")

	return cfg, nil
}
