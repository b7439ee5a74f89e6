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

package smartcard

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"time"

	"github.com/ZaparooProject/cardmon/pkg/helpers/syncutil"
	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// DefaultWatchDelay batches bursts of marker file events into one rescan.
const DefaultWatchDelay = 100 * time.Millisecond

var statusFileRe = regexp.MustCompile(`^reader_(\d+)\.status$`)

var errHomeMissing = errors.New("gnupg home does not exist")

// WatcherOptions configures a Watcher. OnChange is required.
type WatcherOptions struct {
	Fs       afero.Fs
	Clock    clockwork.Clock
	OnChange func()
	HomeDir  string
	Delay    time.Duration
}

// Watcher follows scdaemon's reader_<N>.status marker files and calls
// OnChange when their contents really changed, so a burst of file events
// costs at most one reprobe.
type Watcher struct {
	fs       afero.Fs
	clock    clockwork.Clock
	timer    clockwork.Timer
	onChange func()
	homeDir  string
	contents [][]byte
	delay    time.Duration
	mu       syncutil.Mutex
}

func NewWatcher(opts WatcherOptions) *Watcher {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Delay <= 0 {
		opts.Delay = DefaultWatchDelay
	}
	return &Watcher{
		fs:       opts.Fs,
		clock:    opts.Clock,
		onChange: opts.OnChange,
		homeDir:  opts.HomeDir,
		delay:    opts.Delay,
	}
}

// ReadStatusFiles returns the trimmed contents of all marker files, placed
// at their slot index with gaps left empty and trailing empty entries
// removed.
func (w *Watcher) ReadStatusFiles() ([][]byte, error) {
	exists, err := afero.DirExists(w.fs, w.homeDir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", w.homeDir, err)
	}
	if !exists {
		return nil, fmt.Errorf("%s: %w", w.homeDir, errHomeMissing)
	}

	entries, err := afero.ReadDir(w.fs, w.homeDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", w.homeDir, err)
	}

	type statusFile struct {
		name string
		slot uint64
	}
	files := make([]statusFile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := statusFileRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		slot, err := strconv.ParseUint(m[1], 10, 32)
		if err != nil {
			log.Debug().Str("file", e.Name()).Msg("cannot parse reader slot number")
			continue
		}
		files = append(files, statusFile{name: e.Name(), slot: slot})
	}
	slices.SortFunc(files, func(a, b statusFile) int {
		switch {
		case a.slot < b.slot:
			return -1
		case a.slot > b.slot:
			return 1
		default:
			return 0
		}
	})

	var contents [][]byte
	for _, f := range files {
		if f.slot < uint64(len(contents)) {
			log.Debug().Str("file", f.name).Msg("duplicate reader slot, ignoring")
			continue
		}
		for uint64(len(contents)) < f.slot {
			contents = append(contents, nil)
		}
		contents = append(contents, w.readFile(filepath.Join(w.homeDir, f.name)))
	}

	for len(contents) > 0 && len(contents[len(contents)-1]) == 0 {
		contents = contents[:len(contents)-1]
	}
	return contents, nil
}

func (w *Watcher) readFile(path string) []byte {
	data, err := afero.ReadFile(w.fs, path)
	if err != nil {
		log.Debug().Err(err).Str("file", path).Msg("failed to read status file")
		return nil
	}
	return bytes.TrimSpace(data)
}

// Rescan rereads the marker files and calls OnChange if they differ from
// the last scan.
func (w *Watcher) Rescan() {
	contents, err := w.ReadStatusFiles()
	if err != nil {
		log.Warn().Err(err).Msg("failed to read reader status files")
		return
	}

	w.mu.Lock()
	changed := !slices.EqualFunc(contents, w.contents, bytes.Equal)
	w.contents = contents
	w.mu.Unlock()

	if changed {
		log.Debug().Int("files", len(contents)).Msg("reader status files changed")
		w.onChange()
	}
}

// prime records the current contents without calling OnChange.
func (w *Watcher) prime() {
	contents, err := w.ReadStatusFiles()
	if err != nil {
		return
	}
	w.mu.Lock()
	w.contents = contents
	w.mu.Unlock()
}

// schedule (re)arms the debounce timer.
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = w.clock.AfterFunc(w.delay, w.Rescan)
}

func (w *Watcher) cancelPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

// Run watches the GnuPG home until ctx is done. A missing home directory
// or a watch that cannot be set up is logged and Run returns nil without
// watching; the worker's periodic check still picks up card changes.
func (w *Watcher) Run(ctx context.Context) error {
	exists, err := afero.DirExists(w.fs, w.homeDir)
	if err != nil || !exists {
		log.Warn().Str("path", w.homeDir).Msg("gnupg home does not exist, not watching status files")
		return nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn().Err(err).Msg("failed to create status file watcher, relying on periodic checks")
		return nil
	}
	defer func() {
		if closeErr := fw.Close(); closeErr != nil {
			log.Debug().Err(closeErr).Msg("failed to close file watcher")
		}
	}()

	if err := fw.Add(w.homeDir); err != nil {
		log.Warn().Err(err).Str("path", w.homeDir).
			Msg("failed to watch gnupg home, relying on periodic checks")
		return nil
	}
	w.prime()
	log.Info().Str("path", w.homeDir).Msg("watching reader status files")

	return w.loop(ctx, fw.Events, fw.Errors)
}

func (w *Watcher) loop(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error) error {
	defer w.cancelPending()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if !statusFileRe.MatchString(filepath.Base(ev.Name)) {
				continue
			}
			w.schedule()
		case err, ok := <-errs:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("error in status file watcher")
		}
	}
}
