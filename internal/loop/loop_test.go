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

package loop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antst/mhpbc/internal/config"
)

var t0 = time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)

func newTestLoop(cfg *config.PIDConfig) (*Loop, map[string]*Memory) {
	mem := make(map[string]*Memory)
	return New("test", cfg, mem), mem
}

func TestNewRegistersMemory(t *testing.T) {
	l, mem := newTestLoop(&config.PIDConfig{P: 1, Min: 0, Max: 1, State: "p_test"})
	require.Contains(t, mem, "p_test")
	assert.Same(t, mem["p_test"], l.Memory())

	// an existing entry is reused
	sp := 42.0
	mem2 := map[string]*Memory{"p_test": {Setpoint: &sp, Integral: 3}}
	l2 := New("test", &config.PIDConfig{P: 1, Max: 1, State: "p_test"}, mem2)
	v, ok := l2.Setpoint()
	assert.True(t, ok)
	assert.Equal(t, 42.0, v)
	assert.Equal(t, 3.0, l2.Memory().Integral)
}

func TestEvaluateProportionalAndClamp(t *testing.T) {
	l, _ := newTestLoop(&config.PIDConfig{P: 0.1, Min: 0.2, Max: 0.8, State: "k"})
	l.SetSetpoint(50)

	assert.InDelta(t, 0.5, l.Evaluate(45, t0), 1e-9)
	assert.Equal(t, 0.8, l.Evaluate(30, t0), "clamped at max")
	assert.Equal(t, 0.2, l.Evaluate(50, t0), "clamped at min")
}

func TestEvaluateWithoutSetpoint(t *testing.T) {
	l, _ := newTestLoop(&config.PIDConfig{P: 1, Min: 0.25, Max: 0.95, State: "k"})
	assert.Equal(t, 0.25, l.Evaluate(10, t0))
}

func TestEvaluateIntegrates(t *testing.T) {
	l, _ := newTestLoop(&config.PIDConfig{P: 0.1, I: 0.01, Min: -10, Max: 10, State: "k"})
	l.SetSetpoint(10)

	first := l.Evaluate(8, t0)
	assert.InDelta(t, 0.2, first, 1e-9)

	second := l.Evaluate(8, t0.Add(10*time.Second))
	assert.Greater(t, second, first)
	assert.InDelta(t, 20.0, l.Memory().Integral, 1e-9)
}

func TestNoWindupWhileSaturated(t *testing.T) {
	l, _ := newTestLoop(&config.PIDConfig{P: 0.1, I: 0.01, Min: 0, Max: 0.5, State: "k"})
	l.SetSetpoint(100)
	l.Evaluate(0, t0)
	for i := 1; i <= 10; i++ {
		assert.Equal(t, 0.5, l.Evaluate(0, t0.Add(time.Duration(i)*time.Minute)))
	}
	assert.Equal(t, 0.0, l.Memory().Integral)
}

func TestMoveToIsInverseOfEvaluate(t *testing.T) {
	cfg := &config.PIDConfig{P: -0.05, I: -0.001, Min: .2, Max: 1, Factor: 0.01, Offset: 0.1, State: "k"}
	l, _ := newTestLoop(cfg)
	l.SetSetpoint(45)

	l.MoveTo(47, 0.6, t0)
	assert.InDelta(t, 0.6, l.Evaluate(47, t0), 1e-9)
	assert.Equal(t, 0.6, l.Output())
}

func TestSetSetpointReportsChange(t *testing.T) {
	l, _ := newTestLoop(&config.PIDConfig{P: 1, Max: 1, State: "k"})
	assert.True(t, l.SetSetpoint(40))
	assert.False(t, l.SetSetpoint(40))
	assert.True(t, l.SetSetpoint(41))
}

func TestReset(t *testing.T) {
	l, _ := newTestLoop(&config.PIDConfig{P: 0.1, I: 0.1, Min: -100, Max: 100, State: "k"})
	l.SetSetpoint(10)
	l.Evaluate(0, t0)
	l.Evaluate(0, t0.Add(time.Second))
	require.NotZero(t, l.Memory().Integral)

	l.Reset()
	assert.Zero(t, l.Memory().Integral)
	assert.True(t, l.Memory().LastTime.IsZero())
	sp, ok := l.Setpoint()
	assert.True(t, ok)
	assert.Equal(t, 10.0, sp)
}
