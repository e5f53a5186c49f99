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

package feed

import (
	"context"
	"sync"

	"github.com/antst/mhpbc/internal/logger"
)

// Write is one value written through Fake.Set.
type Write struct {
	Path  string
	Value any
}

type fakeSub struct {
	ctx     context.Context
	path    string
	subtree bool
	ch      chan Message
}

// Fake is an in-memory Feed. Published values are retained and delivered to matching
// watchers; every write that passes idempotent suppression is recorded in Writes.
type Fake struct {
	// SetError, if set, is returned by Set for every path.
	SetError error
	// Log makes every accepted write visible at info level.
	Log bool

	mu       sync.Mutex
	retained map[string]float64
	subs     []*fakeSub
	writes   []Write
	last     lastWritten
}

func NewFake() *Fake {
	return &Fake{retained: make(map[string]float64)}
}

func (f *Fake) Watch(ctx context.Context, path string, subtree bool) (<-chan Message, error) {
	sub := &fakeSub{ctx: ctx, path: path, subtree: subtree, ch: make(chan Message, 256)}

	f.mu.Lock()
	var initial []Message
	for p, v := range f.retained {
		if matches(path, subtree, p) {
			initial = append(initial, Message{Path: p, Value: v})
		}
	}
	f.subs = append(f.subs, sub)
	f.mu.Unlock()

	go func() {
		for _, msg := range initial {
			sub.send(msg)
		}
		sub.send(Message{Path: path, UpToDate: true})
	}()
	return sub.ch, nil
}

func (s *fakeSub) send(msg Message) {
	select {
	case s.ch <- msg:
	case <-s.ctx.Done():
	}
}

// Publish retains value under path and delivers it to every matching watcher.
func (f *Fake) Publish(path string, value float64) {
	f.mu.Lock()
	f.retained[path] = value
	var targets []*fakeSub
	for _, sub := range f.subs {
		if sub.ctx.Err() == nil && matches(sub.path, sub.subtree, path) {
			targets = append(targets, sub)
		}
	}
	f.mu.Unlock()

	for _, sub := range targets {
		sub.send(Message{Path: path, Value: value})
	}
}

func (f *Fake) Set(_ context.Context, path string, value any, idempotent bool) error {
	if f.SetError != nil {
		return f.SetError
	}
	if !f.last.changed(path, FormatValue(value), idempotent) {
		return nil
	}

	f.mu.Lock()
	f.writes = append(f.writes, Write{Path: path, Value: value})
	f.mu.Unlock()

	if f.Log {
		logger.L().Infof("Write %s = %v", path, value)
	}
	return nil
}

// Writes returns a copy of every recorded write in order.
func (f *Fake) Writes() []Write {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Write(nil), f.writes...)
}

// WritesTo returns the values written to path in order.
func (f *Fake) WritesTo(path string) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var res []any
	for _, w := range f.writes {
		if w.Path == path {
			res = append(res, w.Value)
		}
	}
	return res
}

// Last returns the most recent value written to path.
func (f *Fake) Last(path string) (any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.writes) - 1; i >= 0; i-- {
		if f.writes[i].Path == path {
			return f.writes[i].Value, true
		}
	}
	return nil, false
}

// Reset drops the recorded writes and the idempotent history.
func (f *Fake) Reset() {
	f.mu.Lock()
	f.writes = nil
	f.mu.Unlock()
	f.last.mu.Lock()
	f.last.last = nil
	f.last.mu.Unlock()
}
