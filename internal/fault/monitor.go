/*
 * Copyright (c) 2024. Anton Starikov -- All Rights Reserved
 *
 * This file is part of MHPBC project.
 *
 * MHPBC is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as the Free Software Foundation,
 * either version 3 of the License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package fault tracks active fault codes published by the installation.
package fault

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/antst/mhpbc/internal/feed"
	"github.com/antst/mhpbc/internal/logger"
)

// Notifier is woken after every fault update.
type Notifier interface {
	Touch()
}

// Journal receives every fault change.
type Journal interface {
	RecordFault(path string, code int) error
}

type Monitor struct {
	lock     sync.Mutex
	commCode int
	faults   map[string]int
	notifier Notifier
	journal  Journal
}

func NewMonitor(_commCode int, _notifier Notifier) *Monitor {
	return &Monitor{commCode: _commCode, faults: make(map[string]int), notifier: _notifier}
}

// SetJournal makes the monitor report every change to j.
func (m *Monitor) SetJournal(j Journal) {
	m.lock.Lock()
	m.journal = j
	m.lock.Unlock()
}

// Update records code for path; zero clears the fault.
func (m *Monitor) Update(path string, code int) {
	m.lock.Lock()
	prev, had := m.faults[path]
	if code == 0 {
		delete(m.faults, path)
	} else {
		m.faults[path] = code
	}
	journal := m.journal
	m.lock.Unlock()

	switch {
	case code == 0 && had:
		logger.L().Infof("Fault cleared: %s (was %d)", path, prev)
	case code == m.commCode:
		logger.L().Warnf("Communication error: %s", path)
	case code != 0 && prev != code:
		logger.L().Warnf("Fault: %s = %d", path, code)
	}

	if journal != nil && prev != code && (had || code != 0) {
		if err := journal.RecordFault(path, code); err != nil {
			logger.L().Errorf("journal fault: %v", err)
		}
	}

	if m.notifier != nil {
		m.notifier.Touch()
	}
}

func (m *Monitor) IsFaulted() bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return len(m.faults) > 0
}

// Snapshot returns a copy of the active faults.
func (m *Monitor) Snapshot() map[string]int {
	m.lock.Lock()
	defer m.lock.Unlock()
	res := make(map[string]int, len(m.faults))
	for k, v := range m.faults {
		res[k] = v
	}
	return res
}

// Paths returns the faulted paths in sorted order.
func (m *Monitor) Paths() []string {
	m.lock.Lock()
	defer m.lock.Unlock()
	res := make([]string, 0, len(m.faults))
	for k := range m.faults {
		res = append(res, k)
	}
	sort.Strings(res)
	return res
}

// Restore replaces the fault set wholesale.
func (m *Monitor) Restore(faults map[string]int) {
	m.lock.Lock()
	m.faults = make(map[string]int, len(faults))
	for k, v := range faults {
		if v != 0 {
			m.faults[k] = v
		}
	}
	m.lock.Unlock()

	if m.notifier != nil {
		m.notifier.Touch()
	}
}

// Watch feeds every code published below path into the monitor until ctx is done.
func (m *Monitor) Watch(ctx context.Context, f feed.Feed, path string) error {
	ch, err := f.Watch(ctx, path, true)
	if err != nil {
		return errors.WithMessage(err, "watch faults")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-ch:
			if msg.UpToDate {
				if n := len(m.Paths()); n > 0 {
					logger.L().Warnf("%d fault(s) active at startup", n)
				}
				continue
			}
			m.Update(msg.Path, int(msg.Value))
		}
	}
}
