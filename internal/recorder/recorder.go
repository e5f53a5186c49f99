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

// Package recorder writes the live value timeline to a log and plays such a log back.
package recorder

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/antst/mhpbc/internal/fault"
	"github.com/antst/mhpbc/internal/live"
	"github.com/antst/mhpbc/internal/logger"
	"github.com/antst/mhpbc/internal/state"
)

const delimiter = "---\n"

// ErrReplayDone ends the task group once a log has been played back completely.
var ErrReplayDone = errors.New("replay done")

// Record is one snapshot. A record without any field terminates the log. The first record
// of a log may carry the runtime state the recording started from.
type Record struct {
	TS     *time.Time          `yaml:"ts,omitempty"`
	State  *state.RuntimeState `yaml:"state,omitempty"`
	Values map[string]float64  `yaml:"values,omitempty"`
	Faults map[string]int      `yaml:"faults,omitempty"`
}

func (r *Record) empty() bool {
	return r.TS == nil && r.State == nil && len(r.Values) == 0 && len(r.Faults) == 0
}

// Recorder appends a record to w on every store change.
type Recorder struct {
	mu     sync.Mutex
	w      io.Writer
	store  *live.Store
	faults *fault.Monitor
	now    func() time.Time
	err    error
	closed bool
}

func NewRecorder(w io.Writer, store *live.Store, faults *fault.Monitor, now func() time.Time) *Recorder {
	return &Recorder{w: w, store: store, faults: faults, now: now}
}

// Attach makes the recorder observe store.
func (r *Recorder) Attach() {
	r.store.SetObserver(r.Observe)
}

// WriteState writes a record holding st. It is meant to be the first record, written
// before Attach, so that a replay starts from the same runtime state.
func (r *Recorder) WriteState(st *state.RuntimeState) error {
	ts := r.now()
	data, err := yaml.Marshal(&Record{TS: &ts, State: st})
	if err != nil {
		return errors.Wrap(err, "encode state record")
	}
	return r.write(data)
}

// Observe writes the current snapshot. Write errors are reported once and stop recording.
func (r *Recorder) Observe() {
	ts := r.now()
	rec := Record{TS: &ts, Values: r.store.Dump()}
	if r.faults != nil {
		rec.Faults = r.faults.Snapshot()
	}

	data, err := yaml.Marshal(&rec)
	if err != nil {
		logger.L().Errorf("encode record: %v", err)
		return
	}
	if err := r.write(data); err != nil {
		logger.L().Errorf("recording stopped: %v", err)
	}
}

// write appends one record. Only the first write error is returned.
func (r *Recorder) write(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.err != nil {
		return nil
	}
	var buf bytes.Buffer
	buf.Write(data)
	buf.WriteString(delimiter)
	if _, err := r.w.Write(buf.Bytes()); err != nil {
		r.err = err
		return err
	}
	return nil
}

// Close writes the terminating empty record.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.err != nil {
		return r.err
	}
	_, err := io.WriteString(r.w, "{}\n")
	return err
}

// Clock is the time source during replay.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

func NewClock(t time.Time) *Clock {
	return &Clock{t: t}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// Replayer feeds a recorded log into a store and fault monitor.
type Replayer struct {
	dec     *yaml.Decoder
	store   *live.Store
	faults  *fault.Monitor
	clock   *Clock
	pace    time.Duration
	pending *Record
	err     error
}

func NewReplayer(r io.Reader, store *live.Store, faults *fault.Monitor, clock *Clock, pace time.Duration) *Replayer {
	return &Replayer{dec: yaml.NewDecoder(r), store: store, faults: faults, clock: clock, pace: pace}
}

// InitialState reads the first record and returns the runtime state it carries, or nil for
// a log recorded without one. Call it before Run. The record's values are still played.
func (p *Replayer) InitialState() (*state.RuntimeState, error) {
	var rec Record
	err := p.dec.Decode(&rec)
	switch {
	case err == io.EOF:
		p.err = io.EOF
		return nil, nil
	case err != nil:
		p.err = err
		return nil, errors.Wrap(err, "replay record 1")
	}
	p.pending = &rec
	return rec.State, nil
}

func (p *Replayer) next(rec *Record) error {
	if p.pending != nil {
		*rec = *p.pending
		p.pending = nil
		return nil
	}
	if p.err != nil {
		return p.err
	}
	return p.dec.Decode(rec)
}

// Run plays the log back one record per pace interval. It returns ErrReplayDone at the
// terminating record or at the end of the input.
func (p *Replayer) Run(ctx context.Context) error {
	n := 0
	for {
		var rec Record
		err := p.next(&rec)
		if err == io.EOF {
			logger.L().Infof("Replay ended after %d records", n)
			return ErrReplayDone
		}
		if err != nil {
			return errors.Wrapf(err, "replay record %d", n+1)
		}
		if rec.empty() {
			logger.L().Infof("Replay finished after %d records", n)
			return ErrReplayDone
		}
		n++

		if rec.TS != nil {
			p.clock.Set(*rec.TS)
		}
		if rec.State != nil && len(rec.Values) == 0 && len(rec.Faults) == 0 {
			continue
		}
		if p.faults != nil {
			p.faults.Restore(rec.Faults)
		}
		values := make(map[live.Quantity]float64, len(rec.Values))
		for name, v := range rec.Values {
			q, err := live.ParseQuantity(name)
			if err != nil {
				logger.L().Warnf("replay: %v", err)
				continue
			}
			values[q] = v
		}
		p.store.Restore(values)

		select {
		case <-time.After(p.pace):
		case <-ctx.Done():
			return nil
		}
	}
}
