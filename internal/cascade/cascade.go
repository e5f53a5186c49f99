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

// Package cascade evaluates the feedback loops that steer the circulation pump and the
// heat-pump load, and arbitrates between them.
package cascade

import (
	"math"
	"time"

	"github.com/antst/mhpbc/internal/config"
	"github.com/antst/mhpbc/internal/logger"
	"github.com/antst/mhpbc/internal/loop"
)

// Measurements is what one cascade evaluation reads.
type Measurements struct {
	Out  float64
	Flow float64
	// Cur is the buffer temperature selected by the targets.
	Cur       float64
	BufferLow float64
}

// Command is the outcome of one cascade evaluation.
type Command struct {
	Load float64
	Pump float64

	// Candidates from the load-limiting loops, for reporting.
	LoadLoop   float64
	BufferLoop float64
	LimitLoop  float64

	OverTemp bool
}

type Cascade struct {
	Flow   *loop.Loop
	Pump   *loop.Loop
	Load   *loop.Loop
	Buffer *loop.Loop
	Limit  *loop.Loop

	maxOut   float64
	overTemp bool
}

func New(cfg *config.PIDSetConfig, adj *config.AdjConfig, memories map[string]*loop.Memory) *Cascade {
	return &Cascade{
		Flow:   loop.New("flow", cfg.Flow, memories),
		Pump:   loop.New("pump", cfg.Pump, memories),
		Load:   loop.New("load", cfg.Load, memories),
		Buffer: loop.New("buffer", cfg.Buffer, memories),
		Limit:  loop.New("limit", cfg.Limit, memories),
		maxOut: adj.Max,
	}
}

// Arbitrate returns the most conservative load candidate.
func Arbitrate(load, buffer, limit float64) float64 {
	return math.Min(load, math.Min(buffer, limit))
}

// ApplySetpoints writes the loop setpoints that changed and logs each change.
func (c *Cascade) ApplySetpoints(t Targets) {
	for _, s := range []struct {
		l  *loop.Loop
		sp float64
	}{
		{c.Load, t.Load},
		{c.Buffer, t.Buffer},
		{c.Limit, t.Limit},
		{c.Pump, t.Pump},
	} {
		if s.l.SetSetpoint(s.sp) {
			logger.L().Infof("%s setpoint %.3f", s.l.Name(), s.sp)
		}
	}
}

// ResetLoad clears the memory of the three load-limiting loops.
func (c *Cascade) ResetLoad() {
	c.Load.Reset()
	c.Buffer.Reset()
	c.Limit.Reset()
}

// Run evaluates the running cascade. An outlet above the configured maximum forces
// load 0 and full pump speed; the pump loop resumes from full speed once it is back in range.
func (c *Cascade) Run(m Measurements, now time.Time) Command {
	cmd := Command{
		LoadLoop:   c.Load.Evaluate(m.Cur, now),
		BufferLoop: c.Buffer.Evaluate(m.BufferLow, now),
		LimitLoop:  c.Limit.Evaluate(m.Out, now),
	}

	if m.Out > c.maxOut {
		if !c.overTemp {
			logger.L().Warnf("Outlet over temperature: %.1f > %.1f", m.Out, c.maxOut)
		}
		c.overTemp = true
		cmd.OverTemp = true
		cmd.Load = 0
		cmd.Pump = 1
		return cmd
	}

	if c.overTemp {
		logger.L().Infof("Outlet back in range: %.1f", m.Out)
		c.overTemp = false
		c.Pump.MoveTo(m.Out, 1, now)
	}

	cmd.Pump = c.Pump.Evaluate(m.Out, now)
	c.Flow.MoveTo(m.Flow, cmd.Pump, now)
	cmd.Load = Arbitrate(cmd.LoadLoop, cmd.BufferLoop, cmd.LimitLoop)
	return cmd
}

// OverTemp reports whether the last Run found the outlet above the maximum.
func (c *Cascade) OverTemp() bool { return c.overTemp }

// Ramp drives the pump towards the flow loop's target rate.
func (c *Cascade) Ramp(flow float64, now time.Time) float64 {
	return c.Flow.Evaluate(flow, now)
}

// Cooldown keeps enough circulation for both the flow target and the outlet temperature.
func (c *Cascade) Cooldown(flow, out float64, now time.Time) float64 {
	lFlow := c.Flow.Evaluate(flow, now)
	lTemp := c.Pump.Evaluate(out, now)
	logger.L().Debugf("Cooldown pump %.3f/%.3f flow=%.1f out=%.1f", lFlow, lTemp, flow, out)
	return math.Max(lFlow, lTemp)
}
