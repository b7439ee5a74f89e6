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

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/ZaparooProject/cardmon/pkg/api/client"
	"github.com/ZaparooProject/cardmon/pkg/cli"
	"github.com/ZaparooProject/cardmon/pkg/config"
	"github.com/ZaparooProject/cardmon/pkg/service"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := cli.SetupFlags(flag.CommandLine)
	daemonMode := flag.Bool(
		"daemon",
		false,
		"also log to stderr",
	)
	flag.Parse()

	if flags.Pre(os.Stdout) {
		return nil
	}

	var logWriters []io.Writer
	if *daemonMode {
		logWriters = []io.Writer{os.Stderr}
	}

	cfg, err := cli.Setup(config.BaseDefaults, logWriters)
	if err != nil {
		return err
	}

	ctx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	if flags.IsClient() {
		return flags.Post(ctx, client.NewClient(cfg.APIListen()), os.Stdout)
	}

	defer func() {
		if err := recover(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Panic: %s\n", err)
			log.Fatal().Msgf("panic: %v", err)
		}
	}()

	stopSvc, done, err := service.Start(cfg)
	if err != nil {
		log.Error().Err(err).Msg("error starting service")
		return fmt.Errorf("error starting service: %w", err)
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("received stop signal")
	case <-done:
		log.Warn().Msg("service stopped on its own")
	}

	if err := stopSvc(); err != nil {
		log.Error().Err(err).Msg("service stopped with error")
		return fmt.Errorf("service stopped: %w", err)
	}
	return nil
}
