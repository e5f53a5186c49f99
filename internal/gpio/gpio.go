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

// Package gpio drives output lines: a software PWM for the circulation pump and a relay
// for the heating circuit. The real lines use the Linux GPIO character device.
package gpio

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/antst/mhpbc/internal/logger"
)

// Line is a single output line.
type Line interface {
	SetValue(value int) error
	Close() error
}

// PWM toggles a line with a duty cycle that can be changed while running.
type PWM struct {
	line   Line
	period time.Duration

	mu      sync.Mutex
	duty    float64
	changed chan struct{}
}

func NewPWM(line Line, freq float64) *PWM {
	return &PWM{
		line:    line,
		period:  time.Duration(float64(time.Second) / freq),
		changed: make(chan struct{}, 1),
	}
}

// SetDuty sets the fraction of each period the line is high, clamped to [0,1].
func (p *PWM) SetDuty(f float64) {
	if math.IsNaN(f) {
		f = 0
	}
	f = math.Max(0, math.Min(1, f))

	p.mu.Lock()
	p.duty = f
	p.mu.Unlock()

	select {
	case p.changed <- struct{}{}:
	default:
	}
}

func (p *PWM) Duty() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duty
}

// Run drives the line until ctx is done and leaves it low.
func (p *PWM) Run(ctx context.Context) error {
	defer func() {
		if err := p.line.SetValue(0); err != nil {
			logger.L().Errorf("PWM line left in unknown state: %v", err)
		}
	}()

	for {
		duty := p.Duty()
		switch {
		case duty <= 0, duty >= 1:
			v := 0
			if duty >= 1 {
				v = 1
			}
			if err := p.line.SetValue(v); err != nil {
				return err
			}
			select {
			case <-p.changed:
			case <-ctx.Done():
				return nil
			}
		default:
			high := time.Duration(duty * float64(p.period))
			if err := p.line.SetValue(1); err != nil {
				return err
			}
			if !sleep(ctx, high) {
				return nil
			}
			if err := p.line.SetValue(0); err != nil {
				return err
			}
			if !sleep(ctx, p.period-high) {
				return nil
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Relay is a line that is either on or off.
type Relay struct {
	line Line
}

func NewRelay(line Line) *Relay {
	return &Relay{line: line}
}

func (r *Relay) Set(on bool) error {
	if on {
		return r.line.SetValue(1)
	}
	return r.line.SetValue(0)
}

func (r *Relay) Close() error {
	return r.line.Close()
}
