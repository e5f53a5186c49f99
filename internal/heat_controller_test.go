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

package internal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antst/mhpbc/internal/actuator"
	"github.com/antst/mhpbc/internal/config"
	"github.com/antst/mhpbc/internal/fault"
	"github.com/antst/mhpbc/internal/feed"
	"github.com/antst/mhpbc/internal/live"
	"github.com/antst/mhpbc/internal/state"
)

const flowPath = "test/pump/pwm"

type transition struct {
	from, to, reason string
}

type fakeJournal struct {
	entries []transition
}

func (j *fakeJournal) RecordTransition(from, to, reason string) error {
	j.entries = append(j.entries, transition{from, to, reason})
	return nil
}

func (j *fakeJournal) path() []string {
	var res []string
	for _, e := range j.entries {
		res = append(res, e.from+"->"+e.to)
	}
	return res
}

type rig struct {
	t       *testing.T
	ctx     context.Context
	cfg     *config.Config
	store   *live.Store
	faults  *fault.Monitor
	feed    *feed.Fake
	journal *fakeJournal
	now     time.Time
	c       *HeatController
}

// idle values: main switch on, water setpoint 38 so the start threshold is 40.
func idleValues() map[live.Quantity]float64 {
	return map[live.Quantity]float64{
		live.MainSwitch: 1,
		live.HeatSwitch: 0,
		live.HeatDay:    35,
		live.Water:      38,
		live.PumpIn:     30,
		live.PumpOut:    30,
		live.Flow:       0,
		live.Ice:        0,
		live.BufferTop:  35,
		live.BufferHeat: 35,
		live.BufferMid:  35,
		live.BufferLow:  30,
		live.Power:      0,
	}
}

// running values: warm exchanger, power drawn, buffer below its adjusted target.
func runningValues() map[live.Quantity]float64 {
	v := idleValues()
	v[live.PumpIn] = 36
	v[live.PumpOut] = 40
	v[live.Flow] = 15
	v[live.Power] = 1
	v[live.BufferTop] = 40.5
	return v
}

func newRig(t *testing.T, run state.Run, values map[live.Quantity]float64, tweak func(*config.Config), opts ...Option) *rig {
	cfg := config.Default()
	cfg.FillDefaults()
	cfg.State = t.TempDir() + "/mhpbc.state"
	cfg.Output["flow"] = &config.PWMOutputConfig{Path: flowPath}
	cfg.Misc.Stop.MaxTime = 0
	cfg.Feedback = &config.FeedbackConfig{Main: "fb/main", Heat: "fb/heat", Ice: "fb/ice"}
	if tweak != nil {
		tweak(cfg)
	}

	r := &rig{
		t:       t,
		ctx:     context.Background(),
		cfg:     cfg,
		store:   live.NewStore(),
		feed:    feed.NewFake(),
		journal: &fakeJournal{},
		now:     time.Date(2024, 1, 15, 12, 0, 0, 0, time.Local),
	}
	r.faults = fault.NewMonitor(cfg.Misc.CommErrorCode, r.store)
	r.store.Restore(values)

	persister := state.NewPersister(cfg.State)
	st := state.Default()
	st.Run = run
	st.LoadTime = r.now
	if run == state.Running {
		start := r.now
		pwm := 0.5
		st.RunStart = &start
		st.LastPWM = &pwm
	}
	require.NoError(t, persister.Save(st))

	flow, pwm, err := actuator.NewFlowOutput(cfg.Output["flow"], r.feed)
	require.NoError(t, err)
	require.Nil(t, pwm)
	heat, err := actuator.NewHeatPath(cfg.Setting.Heat, r.feed)
	require.NoError(t, err)

	opts = append([]Option{WithClock(func() time.Time { return r.now }), WithJournal(r.journal)}, opts...)
	r.c, err = NewHeatController(cfg, r.store, r.faults, r.feed, flow, heat, persister, opts...)
	require.NoError(t, err)
	r.c.resume(r.ctx)
	return r
}

func (r *rig) set(q live.Quantity, v float64) {
	r.store.Update(q, v)
}

func (r *rig) step() state.Run {
	require.NoError(r.t, r.c.Step(r.ctx))
	return r.c.State().Run
}

func (r *rig) advance(d time.Duration) {
	r.now = r.now.Add(d)
}

func (r *rig) lastFlow() float64 {
	v, ok := r.feed.Last(flowPath)
	require.True(r.t, ok, "no flow output written")
	return v.(float64)
}

func TestStaysOffBelowThreshold(t *testing.T) {
	r := newRig(t, state.Off, idleValues(), nil)

	assert.Equal(t, state.Off, r.step())
	assert.Equal(t, state.Off, r.step())
	assert.Empty(t, r.journal.entries)

	r.set(live.BufferTop, 40.5)
	assert.Equal(t, state.WaitTime, r.step())
	assert.Equal(t, []string{"off->wait_time"}, r.journal.path())
}

func TestForceOnStartsOnce(t *testing.T) {
	r := newRig(t, state.Off, idleValues(), nil, WithForceOn(true))

	assert.Equal(t, state.WaitTime, r.step())
	require.Len(t, r.journal.entries, 1)
	assert.Equal(t, "forced", r.journal.entries[0].reason)
	assert.False(t, r.c.forceOn)
}

func TestMainSwitchKeepsOff(t *testing.T) {
	values := idleValues()
	values[live.MainSwitch] = 0
	values[live.BufferTop] = 45
	r := newRig(t, state.Off, values, nil)

	assert.Equal(t, state.Off, r.step())
	assert.Equal(t, []any{false}, r.feed.WritesTo("fb/main"))
}

func TestStartupSequence(t *testing.T) {
	values := idleValues()
	values[live.BufferTop] = 40.5
	r := newRig(t, state.Off, values, nil)
	misc := r.cfg.Misc

	assert.Equal(t, state.WaitTime, r.step())
	r.advance(misc.Start.Delay - time.Second)
	assert.Equal(t, state.WaitTime, r.step())

	modeWrites := len(r.feed.WritesTo(r.cfg.Cmd.Mode.Path))
	r.advance(2 * time.Second)
	assert.Equal(t, state.WaitFlow, r.step())
	assert.Equal(t, misc.Start.Flow.Init.PWM, r.lastFlow())
	// the mode is rewritten even though it is already off
	assert.Len(t, r.feed.WritesTo(r.cfg.Cmd.Mode.Path), modeWrites+1)

	r.advance(time.Second)
	r.set(live.Flow, 2)
	assert.Equal(t, state.FlowUp, r.step())

	r.advance(time.Second)
	r.set(live.Flow, 5)
	assert.Equal(t, state.WaitPower, r.step())
	last, ok := r.feed.Last(r.cfg.Cmd.Power)
	require.True(t, ok)
	assert.Equal(t, misc.Start.Power, last)

	r.advance(time.Second)
	r.set(live.Power, 1)
	assert.Equal(t, state.Temp, r.step())
	assert.Contains(t, r.feed.WritesTo(flowPath), misc.Start.Flow.Power.PWM)

	r.advance(time.Second)
	r.set(live.PumpOut, 33)
	assert.Equal(t, state.Running, r.step())
	require.NotNil(t, r.c.State().RunStart)
	assert.Equal(t, r.now, *r.c.State().RunStart)

	assert.Equal(t, []string{
		"off->wait_time",
		"wait_time->wait_flow",
		"wait_flow->flow",
		"flow->wait_power",
		"wait_power->temp",
		"temp->run",
	}, r.journal.path())
}

func TestIllegalTransitionIsFatal(t *testing.T) {
	r := newRig(t, state.Off, idleValues(), nil)

	err := r.c.transition(r.ctx, state.Temp, "test", r.now, r.store.Snapshot())
	require.ErrorIs(t, err, state.ErrIllegalTransition)
	assert.Equal(t, state.Off, r.c.State().Run)
}

func TestFaultStopsRunning(t *testing.T) {
	r := newRig(t, state.Running, runningValues(), nil)

	r.faults.Update("heat/s/pump/err/1", 5)
	assert.Equal(t, state.Down, r.step())
	assert.Equal(t, []string{"run->down"}, r.journal.path())
	assert.Equal(t, "fault", r.journal.entries[0].reason)
	last, _ := r.feed.Last(r.cfg.Cmd.Mode.Path)
	assert.Equal(t, r.cfg.Cmd.Mode.Off, last)

	// cooldown finishes while the fault is still active
	r.advance(time.Second)
	r.set(live.PumpOut, 37)
	assert.Equal(t, state.Off, r.step())

	r.set(live.BufferTop, 45)
	assert.Equal(t, state.Off, r.step())

	r.faults.Update("heat/s/pump/err/1", 0)
	assert.Equal(t, state.WaitTime, r.step())
}

func TestMainOffRedirectsToDown(t *testing.T) {
	r := newRig(t, state.Running, runningValues(), nil)
	assert.Equal(t, state.Running, r.step())

	r.advance(time.Second)
	r.set(live.MainSwitch, 0)
	assert.Equal(t, state.Down, r.step())
	assert.Equal(t, []any{true, false}, r.feed.WritesTo("fb/main"))
	assert.Equal(t, 0.0, r.c.State().LastLoad)
}

func TestIceInterruptsRun(t *testing.T) {
	r := newRig(t, state.Running, runningValues(), nil)
	assert.Equal(t, state.Running, r.step())

	r.advance(time.Second)
	r.set(live.Ice, 1)
	assert.Equal(t, state.Ice, r.step())
	assert.Equal(t, []any{true}, r.feed.WritesTo("fb/ice"))
	sp, ok := r.c.cascade.Flow.Setpoint()
	require.True(t, ok)
	assert.Equal(t, r.cfg.Misc.DeIce, sp)
	last, _ := r.feed.Last(r.cfg.Cmd.Power)
	assert.Equal(t, 0.0, last)

	r.advance(time.Second)
	assert.Equal(t, state.Ice, r.step())

	r.advance(time.Second)
	r.set(live.Ice, 0)
	assert.Equal(t, state.Down, r.step())
	assert.Equal(t, []string{"run->ice", "ice->down"}, r.journal.path())
	assert.Equal(t, []any{true, false}, r.feed.WritesTo("fb/ice"))
}

func TestIceAtStartupPreempts(t *testing.T) {
	for _, run := range []state.Run{state.Running, state.Off} {
		t.Run(run.String(), func(t *testing.T) {
			values := runningValues()
			values[live.Ice] = 1
			r := newRig(t, run, values, nil)

			assert.Equal(t, state.Ice, r.step())
			assert.Equal(t, []string{run.String() + "->ice"}, r.journal.path())
			assert.Equal(t, []any{true}, r.feed.WritesTo("fb/ice"))
			last, ok := r.feed.Last(r.cfg.Cmd.Power)
			require.True(t, ok)
			assert.Equal(t, 0.0, last)

			r.advance(time.Second)
			assert.Equal(t, state.Ice, r.step())
			assert.Len(t, r.journal.entries, 1)
		})
	}
}

func TestOverTemperatureForcesSafeOutputs(t *testing.T) {
	r := newRig(t, state.Running, runningValues(), nil)
	assert.Equal(t, state.Running, r.step())

	r.advance(time.Second)
	r.set(live.PumpOut, r.cfg.Adj.Max+1)
	assert.Equal(t, state.Running, r.step())
	assert.Equal(t, 1.0, r.lastFlow())
	assert.Equal(t, 0.0, r.c.State().LastLoad)
	last, _ := r.feed.Last(r.cfg.Cmd.Mode.Path)
	assert.Equal(t, r.cfg.Cmd.Mode.Off, last)

	r.advance(time.Second)
	r.set(live.PumpOut, 40)
	assert.Equal(t, state.Running, r.step())
	assert.False(t, r.c.cascade.OverTemp())
}

func TestStallStopsRunning(t *testing.T) {
	r := newRig(t, state.Running, runningValues(), nil)

	r.set(live.Power, 0)
	assert.Equal(t, state.Running, r.step())
	r.advance(r.cfg.Misc.NoPower - time.Second)
	assert.Equal(t, state.Running, r.step())

	r.advance(2 * time.Second)
	assert.Equal(t, state.Down, r.step())
	assert.Equal(t, "no power", r.journal.entries[0].reason)
}

func TestBufferFullStopsRunning(t *testing.T) {
	r := newRig(t, state.Running, runningValues(), nil)

	r.set(live.BufferTop, 42)
	assert.Equal(t, state.Running, r.step())

	r.set(live.BufferLow, 39)
	assert.Equal(t, state.Down, r.step())
	assert.Equal(t, "buffer full", r.journal.entries[0].reason)
}

func TestBufferChargedNeedsMinimumRunTime(t *testing.T) {
	r := newRig(t, state.Running, runningValues(), nil)

	r.set(live.BufferTop, 42)
	r.set(live.BufferMid, 39)
	assert.Equal(t, state.Running, r.step())

	r.advance(r.cfg.Lim.Power.Time + time.Second)
	assert.Equal(t, state.Down, r.step())
	assert.Equal(t, "buffer charged", r.journal.entries[0].reason)
}

func TestShutdownPersistsOff(t *testing.T) {
	r := newRig(t, state.Running, runningValues(), nil)

	require.NoError(t, r.c.Shutdown(r.ctx))
	assert.Equal(t, state.Off, r.c.State().Run)
	assert.Nil(t, r.c.State().LastPWM)
	assert.Equal(t, 0.0, r.lastFlow())
	last, _ := r.feed.Last(r.cfg.Cmd.Power)
	assert.Equal(t, 0.0, last)

	st, err := state.NewPersister(r.cfg.State).Load()
	require.NoError(t, err)
	assert.Equal(t, state.Off, st.Run)
}

func shutdownValues() map[live.Quantity]float64 {
	v := runningValues()
	v[live.PumpOut] = 45
	return v
}

func TestShutdownCoolsDown(t *testing.T) {
	r := newRig(t, state.Running, shutdownValues(), func(cfg *config.Config) {
		cfg.Misc.Stop.MaxTime = 5 * time.Second
	})

	go func() {
		time.Sleep(100 * time.Millisecond)
		r.set(live.PumpOut, 37)
	}()

	start := time.Now()
	require.NoError(t, r.c.Shutdown(r.ctx))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)

	writes := r.feed.WritesTo(flowPath)
	require.GreaterOrEqual(t, len(writes), 2)
	assert.Greater(t, writes[len(writes)-2].(float64), 0.0)
	assert.Equal(t, 0.0, writes[len(writes)-1])
	assert.Equal(t, state.Off, r.c.State().Run)

	st, err := state.NewPersister(r.cfg.State).Load()
	require.NoError(t, err)
	assert.Equal(t, state.Off, st.Run)
}

func TestShutdownCooldownBounded(t *testing.T) {
	r := newRig(t, state.Running, shutdownValues(), func(cfg *config.Config) {
		cfg.Misc.Stop.MaxTime = 200 * time.Millisecond
	})

	start := time.Now()
	require.NoError(t, r.c.Shutdown(r.ctx))
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)

	assert.Equal(t, 0.0, r.lastFlow())
	assert.Equal(t, state.Off, r.c.State().Run)
}

func TestShutdownCooldownCancelled(t *testing.T) {
	r := newRig(t, state.Running, shutdownValues(), func(cfg *config.Config) {
		cfg.Misc.Stop.MaxTime = time.Minute
	})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	require.NoError(t, r.c.Shutdown(ctx))
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 0.0, r.lastFlow())
	assert.Equal(t, state.Off, r.c.State().Run)
}

func TestHeatingHysteresis(t *testing.T) {
	values := idleValues()
	values[live.HeatSwitch] = 1
	values[live.BufferHeat] = 36
	r := newRig(t, state.Off, values, nil)
	mode := r.cfg.Setting.Heat.Mode

	assert.Equal(t, state.Off, r.step())
	assert.Equal(t, state.HeatPending, r.c.State().Heat.Status)
	assert.Empty(t, r.feed.WritesTo(mode.Path))

	r.advance(mode.Delay + time.Second)
	r.step()
	assert.Equal(t, state.HeatEnabled, r.c.State().Heat.Status)
	assert.Equal(t, []any{mode.On}, r.feed.WritesTo(mode.Path))

	r.advance(time.Second)
	r.set(live.BufferHeat, 30)
	r.step()
	assert.Equal(t, state.HeatDisabled, r.c.State().Heat.Status)
	assert.Equal(t, []any{mode.On, mode.Off}, r.feed.WritesTo(mode.Path))
}

func TestHeatingPendingResetsOnDip(t *testing.T) {
	values := idleValues()
	values[live.HeatSwitch] = 1
	values[live.BufferHeat] = 36
	r := newRig(t, state.Off, values, nil)

	r.step()
	assert.Equal(t, state.HeatPending, r.c.State().Heat.Status)

	r.advance(10 * time.Second)
	r.set(live.BufferHeat, 34)
	r.step()
	assert.Equal(t, state.HeatDisabled, r.c.State().Heat.Status)
	assert.Empty(t, r.feed.WritesTo(r.cfg.Setting.Heat.Mode.Path))
}

func TestNightSetpoint(t *testing.T) {
	values := idleValues()
	values[live.HeatSwitch] = 1
	values[live.HeatDay] = 50
	values[live.HeatNight] = 30
	values[live.BufferHeat] = 36

	day := newRig(t, state.Off, values, nil)
	day.step()
	assert.Equal(t, state.HeatDisabled, day.c.State().Heat.Status)

	night := newRig(t, state.Off, values, func(cfg *config.Config) {
		cfg.Setting.Heat.NightHours = &config.NightHours{From: "10:00", To: "14:00"}
	})
	night.step()
	assert.Equal(t, state.HeatPending, night.c.State().Heat.Status)
}

func TestRequiredQuantities(t *testing.T) {
	cfg := config.Default()
	cfg.FillDefaults()

	qs := RequiredQuantities(cfg)
	assert.NotContains(t, qs, live.FlowCmd)
	assert.NotContains(t, qs, live.HeatNight)
	assert.Contains(t, qs, live.BufferLow)

	cfg.Setting.Heat.NightHours = &config.NightHours{From: "22:00", To: "06:00"}
	assert.Contains(t, RequiredQuantities(cfg), live.HeatNight)
	assert.Equal(t, cfg.Cmd.Flow, QuantityPaths(cfg)[live.FlowCmd])
}

func TestRunStopsOnCancel(t *testing.T) {
	r := newRig(t, state.Off, idleValues(), nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- r.c.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("controller did not stop")
	}

	st, err := state.NewPersister(r.cfg.State).Load()
	require.NoError(t, err)
	assert.Equal(t, state.Off, st.Run)
}

func TestRunFailsOnMissingInputs(t *testing.T) {
	values := idleValues()
	delete(values, live.BufferLow)
	r := newRig(t, state.Off, values, func(cfg *config.Config) {
		cfg.Misc.InitTimeout = 100 * time.Millisecond
	})

	err := r.c.Run(context.Background())
	var timeout *live.StartupTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Contains(t, timeout.Missing, live.BufferLow)
}
