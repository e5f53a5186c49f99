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

// Package live keeps the most recent value of every external quantity and lets the
// controller wait for changes.
package live

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/antst/mhpbc/internal/logger"
)

// ErrNotYetKnown is returned for a quantity that has not been updated since start.
var ErrNotYetKnown = errors.New("value not yet known")

// StartupTimeoutError lists the quantities still missing when the startup barrier expired.
type StartupTimeoutError struct {
	Missing []Quantity
}

func (e *StartupTimeoutError) Error() string {
	return fmt.Sprintf("startup timeout, missing: %s", joinQuantities(e.Missing))
}

const barrierReport = time.Second

type Store struct {
	mu       sync.Mutex
	values   [numQuantities]float64
	known    [numQuantities]bool
	gen      uint64
	changed  chan struct{}
	observer func()
}

func NewStore() *Store {
	return &Store{changed: make(chan struct{})}
}

// SetObserver registers fn to be called after every update. fn runs on the updating goroutine.
func (s *Store) SetObserver(fn func()) {
	s.mu.Lock()
	s.observer = fn
	s.mu.Unlock()
}

// Update stores value for q and wakes every waiter.
func (s *Store) Update(q Quantity, value float64) {
	s.mu.Lock()
	s.values[q] = value
	s.known[q] = true
	obs := s.bumpLocked()
	s.mu.Unlock()

	if obs != nil {
		obs()
	}
}

// Touch wakes every waiter without changing a value.
func (s *Store) Touch() {
	s.mu.Lock()
	obs := s.bumpLocked()
	s.mu.Unlock()

	if obs != nil {
		obs()
	}
}

// Restore replaces every value at once; quantities absent from values stay as they are.
func (s *Store) Restore(values map[Quantity]float64) {
	s.mu.Lock()
	for q, v := range values {
		s.values[q] = v
		s.known[q] = true
	}
	obs := s.bumpLocked()
	s.mu.Unlock()

	if obs != nil {
		obs()
	}
}

func (s *Store) bumpLocked() func() {
	s.gen++
	close(s.changed)
	s.changed = make(chan struct{})
	return s.observer
}

func (s *Store) Get(q Quantity) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.known[q] {
		return 0, errors.Wrap(ErrNotYetKnown, q.String())
	}
	return s.values[q], nil
}

func (s *Store) Known(q Quantity) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.known[q]
}

func (s *Store) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Changed returns a channel closed by the next update.
func (s *Store) Changed() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

// WaitForChange blocks until the next update of any quantity.
func (s *Store) WaitForChange(ctx context.Context) error {
	ch := s.Changed()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitForFirstValue blocks until q has been updated at least once.
func (s *Store) WaitForFirstValue(ctx context.Context, q Quantity) error {
	for {
		s.mu.Lock()
		known, ch := s.known[q], s.changed
		s.mu.Unlock()
		if known {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Missing returns the members of qs that are not known yet.
func (s *Store) Missing(qs []Quantity) []Quantity {
	s.mu.Lock()
	defer s.mu.Unlock()
	var missing []Quantity
	for _, q := range qs {
		if !s.known[q] {
			missing = append(missing, q)
		}
	}
	return missing
}

// AwaitBarrier blocks until every quantity in qs is known. While waiting it logs the missing
// set once per second. A non-positive timeout waits until ctx is done.
func (s *Store) AwaitBarrier(ctx context.Context, qs []Quantity, timeout time.Duration) error {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(barrierReport)
	defer ticker.Stop()

	report := true
	for {
		ch := s.Changed()
		missing := s.Missing(qs)
		if len(missing) == 0 {
			return nil
		}
		if report {
			logger.L().Infof("Waiting for: %s", joinQuantities(missing))
			report = false
		}

		select {
		case <-ch:
		case <-ticker.C:
			report = true
		case <-deadline:
			return &StartupTimeoutError{Missing: s.Missing(qs)}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Snapshot returns the current values in typed form.
func (s *Store) Snapshot() Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return valuesFrom(&s.values)
}

// Dump returns the known values keyed by quantity name.
func (s *Store) Dump() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make(map[string]float64)
	for i, ok := range s.known {
		if ok {
			res[Quantity(i).String()] = s.values[i]
		}
	}
	return res
}
