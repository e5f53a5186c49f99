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

package cascade

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antst/mhpbc/internal/config"
	"github.com/antst/mhpbc/internal/loop"
)

func TestInterpolateInverse(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		low := r.Float64()*100 - 50
		high := low + r.Float64()*50 + 0.01
		f := r.Float64()

		x := Interpolate(low, f, high)
		assert.GreaterOrEqual(t, x, low)
		assert.LessOrEqual(t, x, high)
		assert.InDelta(t, f, Deinterpolate(low, x, high), 1e-9)

		y := low + r.Float64()*(high-low)
		assert.InDelta(t, y, Interpolate(low, Deinterpolate(low, y, high), high), 1e-9)
	}
}

func TestMappingClamps(t *testing.T) {
	assert.Equal(t, 0.0, Deinterpolate(10, 5, 20))
	assert.Equal(t, 1.0, Deinterpolate(10, 25, 20))
	assert.Equal(t, 10.0, Interpolate(10, -1, 20))
	assert.Equal(t, 20.0, Interpolate(10, 2, 20))
	assert.Equal(t, 0.0, Deinterpolate(10, 10, 10))
}

func TestComputeTargetsWaterOnly(t *testing.T) {
	tg := ComputeTargets(config.NewAdjConfig(), Setpoints{Water: 50, Heat: 60, BufferTop: 51.5, BufferHeat: 40})

	assert.InDelta(t, 50, tg.Nom, 1e-9)
	assert.InDelta(t, 51, tg.Low, 1e-9)
	assert.InDelta(t, 53, tg.Adj, 1e-9)
	assert.InDelta(t, 51.5, tg.Cur, 1e-9)
	assert.InDelta(t, 55, tg.Limit, 1e-9)
	assert.InDelta(t, 53, tg.Pump, 1e-9)
	assert.InDelta(t, 55, tg.Load, 1e-9)
	assert.InDelta(t, 49, tg.Buffer, 1e-9)
	assert.InDelta(t, 52, tg.On, 1e-9)
	assert.InDelta(t, 50, tg.Off, 1e-9)
}

func TestComputeTargetsWithHeating(t *testing.T) {
	adj := config.NewAdjConfig()

	tg := ComputeTargets(adj, Setpoints{Water: 50, Heat: 40, HeatOn: true, BufferTop: 60, BufferHeat: 45})
	assert.InDelta(t, 50, tg.Nom, 1e-9)
	assert.InDelta(t, 45, tg.Cur, 1e-9)
	assert.InDelta(t, 51, tg.Pump, 1e-9)

	tg = ComputeTargets(adj, Setpoints{Water: 50, Heat: 55, HeatOn: true, BufferHeat: 70})
	assert.InDelta(t, 55, tg.Nom, 1e-9)
	assert.InDelta(t, 55.5, tg.Low, 1e-9)
	assert.InDelta(t, 56.5, tg.Adj, 1e-9)
	assert.InDelta(t, 58.5, tg.Limit, 1e-9)
	assert.InDelta(t, 58.5, tg.Pump, 1e-9)
}

func TestLimitCappedByMax(t *testing.T) {
	tg := ComputeTargets(config.NewAdjConfig(), Setpoints{Water: 58, BufferTop: 20})
	assert.InDelta(t, 61, tg.Limit, 1e-9)
	assert.InDelta(t, 59, tg.Pump, 1e-9)
}

func newCascade(t *testing.T) *Cascade {
	t.Helper()
	c := New(config.NewPIDSetConfig(), config.NewAdjConfig(), make(map[string]*loop.Memory))
	c.ApplySetpoints(ComputeTargets(config.NewAdjConfig(), Setpoints{Water: 50, BufferTop: 48}))
	return c
}

func TestArbitrationIsMinimum(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	c := newCascade(t)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 200; i++ {
		now = now.Add(time.Second)
		m := Measurements{
			Out:       30 + r.Float64()*30,
			Flow:      r.Float64() * 20,
			Cur:       40 + r.Float64()*20,
			BufferLow: 30 + r.Float64()*20,
		}
		cmd := c.Run(m, now)
		require.False(t, cmd.OverTemp)
		assert.Equal(t, Arbitrate(cmd.LoadLoop, cmd.BufferLoop, cmd.LimitLoop), cmd.Load)
		assert.LessOrEqual(t, cmd.Load, cmd.LoadLoop)
		assert.LessOrEqual(t, cmd.Load, cmd.BufferLoop)
		assert.LessOrEqual(t, cmd.Load, cmd.LimitLoop)
	}
}

func TestOverTemperatureOverride(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	c := newCascade(t)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 50; i++ {
		now = now.Add(time.Second)
		cmd := c.Run(Measurements{Out: 61.1 + r.Float64()*10, Flow: r.Float64() * 20, Cur: r.Float64() * 70}, now)
		assert.True(t, cmd.OverTemp)
		assert.Equal(t, 0.0, cmd.Load)
		assert.Equal(t, 1.0, cmd.Pump)
	}
	assert.True(t, c.OverTemp())

	now = now.Add(time.Second)
	cmd := c.Run(Measurements{Out: 55, Flow: 10, Cur: 50, BufferLow: 45}, now)
	assert.False(t, cmd.OverTemp)
	assert.False(t, c.OverTemp())
	// reseeded at full speed, so the first in-range evaluation starts from there
	assert.InDelta(t, 1.0, cmd.Pump, 1e-9)
}

func TestApplySetpointsOnlyOnChange(t *testing.T) {
	c := newCascade(t)
	sp, ok := c.Load.Setpoint()
	require.True(t, ok)
	assert.InDelta(t, 55, sp, 1e-9)

	assert.False(t, c.Load.SetSetpoint(sp))
}

func TestResetLoadKeepsPumpLoop(t *testing.T) {
	c := newCascade(t)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.Run(Measurements{Out: 58, Flow: 10, Cur: 45, BufferLow: 40}, now)
	c.Run(Measurements{Out: 58, Flow: 10, Cur: 45, BufferLow: 40}, now.Add(10*time.Second))
	require.NotZero(t, c.Load.Memory().Integral)

	c.ResetLoad()
	assert.Zero(t, c.Load.Memory().Integral)
	assert.Zero(t, c.Buffer.Memory().Integral)
	assert.Zero(t, c.Limit.Memory().Integral)
	assert.NotZero(t, c.Pump.Memory().Integral)
}

func TestCooldownTakesMaximum(t *testing.T) {
	c := newCascade(t)
	c.Flow.SetSetpoint(10)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	res := c.Cooldown(10, 70, now)
	assert.Equal(t, c.Pump.Output(), res)
	assert.GreaterOrEqual(t, res, c.Flow.Output())
}
