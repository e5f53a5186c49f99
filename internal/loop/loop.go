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

// Package loop drives a single PID feedback loop whose memory lives in the persisted
// controller state.
package loop

import (
	"math"
	"time"

	einride "go.einride.tech/pid"

	"github.com/antst/mhpbc/internal/config"
)

// Memory is the part of a loop that survives restarts.
type Memory struct {
	Setpoint  *float64  `yaml:"setpoint,omitempty"`
	Integral  float64   `yaml:"integral"`
	LastError float64   `yaml:"last_error"`
	LastTime  time.Time `yaml:"t,omitempty"`
	Output    float64   `yaml:"output"`
}

// Loop is a clamped PID controller with setpoint feed-forward.
type Loop struct {
	name string
	cfg  *config.PIDConfig
	mem  *Memory
	ctrl einride.Controller
}

// New binds a loop to its memory in memories, creating the entry on first use.
func New(name string, cfg *config.PIDConfig, memories map[string]*Memory) *Loop {
	mem := memories[cfg.State]
	if mem == nil {
		mem = &Memory{}
		memories[cfg.State] = mem
	}
	return &Loop{
		name: name,
		cfg:  cfg,
		mem:  mem,
		ctrl: einride.Controller{
			Config: einride.ControllerConfig{
				ProportionalGain: cfg.P,
				IntegralGain:     cfg.I,
				DerivativeGain:   cfg.D,
			},
		},
	}
}

func (l *Loop) Name() string { return l.name }

func (l *Loop) Memory() *Memory { return l.mem }

// Output is the last value produced by Evaluate or set by MoveTo.
func (l *Loop) Output() float64 { return l.mem.Output }

func (l *Loop) Setpoint() (float64, bool) {
	if l.mem.Setpoint == nil {
		return 0, false
	}
	return *l.mem.Setpoint, true
}

// SetSetpoint stores a new setpoint and reports whether it differs from the previous one.
func (l *Loop) SetSetpoint(v float64) bool {
	if old, ok := l.Setpoint(); ok && old == v {
		return false
	}
	l.mem.Setpoint = &v
	return true
}

// Reset clears integrator and derivative history. The setpoint is kept.
func (l *Loop) Reset() {
	l.mem.Integral = 0
	l.mem.LastError = 0
	l.mem.LastTime = time.Time{}
	l.mem.Output = 0
}

// MoveTo resynchronizes the loop so that evaluating measurement at t yields output.
func (l *Loop) MoveTo(measurement, output float64, t time.Time) {
	l.mem.LastTime = t
	l.mem.Output = output

	sp, ok := l.Setpoint()
	if !ok {
		return
	}
	e := sp - measurement
	l.mem.LastError = e
	if l.cfg.I != 0 {
		l.mem.Integral = (output - l.feedForward(sp) - l.cfg.P*e) / l.cfg.I
	}
}

// Evaluate feeds a measurement taken at t and returns the clamped output.
func (l *Loop) Evaluate(measurement float64, t time.Time) float64 {
	sp, ok := l.Setpoint()
	if !ok {
		return l.clamp(l.mem.Output)
	}

	var dt time.Duration
	if !l.mem.LastTime.IsZero() && t.After(l.mem.LastTime) {
		dt = t.Sub(l.mem.LastTime)
	}

	prevIntegral := l.mem.Integral
	e := sp - measurement
	var raw float64
	if dt > 0 {
		l.ctrl.State = einride.ControllerState{
			ControlError:         l.mem.LastError,
			ControlErrorIntegral: l.mem.Integral,
		}
		l.ctrl.Update(einride.ControllerInput{
			ReferenceSignal:  sp,
			ActualSignal:     measurement,
			SamplingInterval: dt,
		})
		raw = l.ctrl.State.ControlSignal
		l.mem.Integral = l.ctrl.State.ControlErrorIntegral
	} else {
		raw = l.cfg.P*e + l.cfg.I*l.mem.Integral
	}

	out := raw + l.feedForward(sp)
	res := l.clamp(out)

	// no further integration into saturation
	push := l.cfg.I * (l.mem.Integral - prevIntegral)
	if (out > res && push > 0) || (out < res && push < 0) {
		l.mem.Integral = prevIntegral
	}

	l.mem.LastError = e
	if !t.IsZero() {
		l.mem.LastTime = t
	}
	l.mem.Output = res
	return res
}

func (l *Loop) feedForward(sp float64) float64 {
	return l.cfg.Factor*sp + l.cfg.Offset
}

func (l *Loop) clamp(v float64) float64 {
	if math.IsNaN(v) {
		return l.cfg.Min
	}
	return math.Max(l.cfg.Min, math.Min(l.cfg.Max, v))
}
