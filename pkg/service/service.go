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

package service

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/ZaparooProject/cardmon/pkg/api"
	"github.com/ZaparooProject/cardmon/pkg/assuan"
	"github.com/ZaparooProject/cardmon/pkg/config"
	"github.com/ZaparooProject/cardmon/pkg/gnupg"
	"github.com/ZaparooProject/cardmon/pkg/helpers"
	"github.com/ZaparooProject/cardmon/pkg/smartcard"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// Deps are the service's outside dependencies. Zero values select the real
// implementations.
type Deps struct {
	Exec   helpers.CommandExecutor
	Fs     afero.Fs
	Clock  clockwork.Clock
	Dialer assuan.Dialer
	// Listener, if set, serves the status API instead of the configured
	// listen address.
	Listener net.Listener
}

// Service is a running card monitor with its optional watcher and API.
type Service struct {
	Monitor *smartcard.ReaderStatus
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
	once    sync.Once
}

func Start(cfg *config.Instance) (stop func() error, done <-chan struct{}, err error) {
	s, err := StartWith(cfg, Deps{})
	if err != nil {
		return nil, nil, err
	}
	return s.Stop, s.Done(), nil
}

// StartWith starts the monitor and everything around it.
func StartWith(cfg *config.Instance, deps Deps) (*Service, error) {
	log.Info().Msgf("version: %s", config.AppVersion)

	if deps.Exec == nil {
		deps.Exec = &helpers.RealCommandExecutor{}
	}
	if deps.Fs == nil {
		deps.Fs = afero.NewOsFs()
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}

	ctx, cancel := context.WithCancel(context.Background())

	locator := gnupg.NewLocator(deps.Exec)
	home := resolveHome(ctx, cfg, locator)

	if deps.Dialer == nil {
		deps.Dialer = &assuan.SocketDialer{
			Path:   cfg.AgentSocket(),
			Locate: locator.AgentSocket,
		}
	}

	var lookup smartcard.KeyLookup
	if l, lerr := gnupg.NewEphemeralKeyLookup(deps.Exec); lerr != nil {
		log.Warn().Err(lerr).Msg("certificate lookup unavailable, unlearned keys will not be detected")
	} else {
		lookup = l
	}

	rs := smartcard.New(smartcard.Options{
		Dialer:        deps.Dialer,
		KeyLookup:     lookup,
		Clock:         deps.Clock,
		Fs:            deps.Fs,
		GnuPGHome:     home,
		CheckInterval: cfg.CheckInterval(),
		StopTimeout:   cfg.StopTimeout(),
	})

	s := &Service{
		Monitor: rs,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	var server *api.Server
	if cfg.APIEnabled() {
		server = api.NewServer(cfg, rs, deps.Clock)
		if deps.Listener == nil {
			var lc net.ListenConfig
			ln, err := lc.Listen(ctx, "tcp", cfg.APIListen())
			if err != nil {
				cancel()
				return nil, fmt.Errorf("failed to listen on %s: %w", cfg.APIListen(), err)
			}
			deps.Listener = ln
		}
	}

	// the worker gets its own context so Stop can drain it before
	// everything else is cancelled
	rs.StartMonitoring(context.WithoutCancel(ctx))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case <-rs.Done():
			if err := rs.Err(); err != nil {
				return fmt.Errorf("smartcard monitor stopped: %w", err)
			}
			return nil
		case <-gctx.Done():
			return nil
		}
	})

	g.Go(func() error {
		deliverCompletions(gctx, rs)
		return nil
	})

	if cfg.WatcherEnabled() && home != "" {
		log.Info().Str("home", home).Msg("starting status file watcher")
		w := smartcard.NewWatcher(smartcard.WatcherOptions{
			Fs:       deps.Fs,
			Clock:    deps.Clock,
			HomeDir:  home,
			Delay:    cfg.WatchDelay(),
			OnChange: rs.UpdateStatus,
		})
		g.Go(func() error {
			return w.Run(gctx)
		})
	}

	if server != nil {
		ln := deps.Listener
		g.Go(func() error {
			return server.Serve(gctx, ln)
		})
	}

	go func() {
		err := g.Wait()
		if err != nil {
			log.Error().Err(err).Msg("service stopped with error")
		}

		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if serr := rs.Shutdown(sctx); serr != nil {
			log.Warn().Err(serr).Msg("error shutting down smartcard monitor")
		}
		scancel()
		// callbacks of commands that ran during shutdown
		rs.DeliverFinished()

		s.err = err
		log.Info().Msg("service cleanup completed")
		close(s.done)
	}()

	return s, nil
}

func resolveHome(ctx context.Context, cfg *config.Instance, locator *gnupg.Locator) string {
	if home := cfg.GnuPGHome(); home != "" {
		return home
	}
	home, err := locator.HomeDir(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("could not determine gnupg home")
		return ""
	}
	return home
}

// deliverCompletions runs transaction callbacks whenever the monitor
// signals finished commands.
func deliverCompletions(ctx context.Context, rs *smartcard.ReaderStatus) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-rs.Finished():
			n := rs.DeliverFinished()
			log.Debug().Int("count", n).Msg("delivered finished transactions")
		}
	}
}

// Stop drains the monitor's queue, stops every component and waits for
// them. It returns the error that ended the service early, if any.
func (s *Service) Stop() error {
	s.once.Do(func() {
		log.Info().Msg("stopping service")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.Monitor.Shutdown(sctx); err != nil {
			log.Warn().Err(err).Msg("error shutting down smartcard monitor")
		}
		s.cancel()
	})
	<-s.done
	return s.err
}

// Done is closed once the service has fully stopped.
func (s *Service) Done() <-chan struct{} {
	return s.done
}
