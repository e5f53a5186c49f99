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
	"math"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/antst/mhpbc/internal/actuator"
	"github.com/antst/mhpbc/internal/cascade"
	"github.com/antst/mhpbc/internal/config"
	"github.com/antst/mhpbc/internal/fault"
	"github.com/antst/mhpbc/internal/feed"
	"github.com/antst/mhpbc/internal/live"
	"github.com/antst/mhpbc/internal/logger"
	"github.com/antst/mhpbc/internal/metrics"
	"github.com/antst/mhpbc/internal/state"
)

const (
	// bound on transitions taken within one evaluation
	maxChain = 16
	// COP smoothing factor and publishing period in running evaluations
	copSmoothing = 0.001
	copEvery     = 100
)

// Journal records state transitions.
type Journal interface {
	RecordTransition(from, to, reason string) error
}

// HeatController runs the heat pump through its operational states. It is the only
// writer of the runtime state and of every actuator.
type HeatController struct {
	cfg       *config.Config
	store     *live.Store
	faults    *fault.Monitor
	feed      feed.Feed
	flow      actuator.FlowOutput
	pump      *actuator.Pump
	heatPath  actuator.HeatPath
	persister *state.Persister
	journal   Journal
	now       func() time.Time

	state   *state.RuntimeState
	cascade *cascade.Cascade
	forceOn bool

	ice          bool
	fbMain       *bool
	fbHeat       *bool
	noPowerSince time.Time
	lastReport   time.Time
	cop          float64
	copSeeded    bool
	nCOP         int
}

type Option func(*HeatController)

// WithClock replaces the wall clock, e.g. with the replay clock.
func WithClock(now func() time.Time) Option {
	return func(c *HeatController) { c.now = now }
}

func WithJournal(j Journal) Option {
	return func(c *HeatController) { c.journal = j }
}

// WithForceOn starts the heat pump once regardless of the buffer temperature.
func WithForceOn(on bool) Option {
	return func(c *HeatController) { c.forceOn = on }
}

func NewHeatController(
	_cfg *config.Config, _store *live.Store, _faults *fault.Monitor, _feed feed.Feed,
	_flow actuator.FlowOutput, _heatPath actuator.HeatPath, _persister *state.Persister, opts ...Option,
) (*HeatController, error) {
	st, err := _persister.Load()
	if err != nil {
		return nil, err
	}

	c := &HeatController{
		cfg:       _cfg,
		store:     _store,
		faults:    _faults,
		feed:      _feed,
		flow:      _flow,
		pump:      actuator.NewPump(_feed, _cfg.Cmd, _cfg.Lim),
		heatPath:  _heatPath,
		persister: _persister,
		now:       time.Now,
		state:     st,
		cascade:   cascade.New(_cfg.PID, _cfg.Adj, st.Loops),
	}
	for _, opt := range opts {
		opt(c)
	}
	logger.L().Infof("Loaded state `%s`: %s", _persister.Path(), st.Run)
	return c, nil
}

// State exposes the runtime state. Only safe while the controller is not running.
func (c *HeatController) State() *state.RuntimeState { return c.state }

// QuantityPaths maps every watched quantity to its feed path.
func QuantityPaths(cfg *config.Config) map[live.Quantity]string {
	m := map[live.Quantity]string{
		live.MainSwitch: cfg.Cmd.Main,
		live.HeatSwitch: cfg.Cmd.Heat,
		live.HeatDay:    cfg.Setting.Heat.Day,
		live.Water:      cfg.Setting.Water,
		live.PumpIn:     cfg.Sensor.Pump.In,
		live.PumpOut:    cfg.Sensor.Pump.Out,
		live.Flow:       cfg.Sensor.Pump.Flow,
		live.Ice:        cfg.Sensor.Pump.Ice,
		live.BufferTop:  cfg.Sensor.Buffer.Top,
		live.BufferHeat: cfg.Sensor.Buffer.Heat,
		live.BufferMid:  cfg.Sensor.Buffer.Mid,
		live.BufferLow:  cfg.Sensor.Buffer.Low,
		live.Power:      cfg.Sensor.Power,
	}
	if cfg.Cmd.Flow != "" {
		m[live.FlowCmd] = cfg.Cmd.Flow
	}
	if cfg.Setting.Heat.Night != "" {
		m[live.HeatNight] = cfg.Setting.Heat.Night
	}
	return m
}

// RequiredQuantities lists what must be known before the controller may act.
func RequiredQuantities(cfg *config.Config) []live.Quantity {
	var qs []live.Quantity
	for q := range QuantityPaths(cfg) {
		switch q {
		case live.FlowCmd:
			continue
		case live.HeatNight:
			if cfg.Setting.Heat.NightHours == nil {
				continue
			}
		}
		qs = append(qs, q)
	}
	sort.Slice(qs, func(i, j int) bool { return qs[i] < qs[j] })
	return qs
}

// Run waits for the startup barrier, then evaluates on every live value change until ctx
// is done. The shutdown procedure always runs once the barrier has passed.
func (c *HeatController) Run(ctx context.Context) (err error) {
	if err := c.store.AwaitBarrier(ctx, RequiredQuantities(c.cfg), c.cfg.Misc.InitTimeout); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	defer func() {
		logger.L().Infof("Controller stopping: %v", err)
		if serr := c.Shutdown(context.WithoutCancel(ctx)); serr != nil && err == nil {
			err = serr
		}
	}()

	c.resume(ctx)

	ticker := time.NewTicker(c.cfg.Misc.SaveInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return nil
		}
		changed := c.store.Changed()
		if err := c.Step(ctx); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-changed:
		case <-ticker.C:
			c.save()
		}
	}
}

// resume re-executes the entry actions of the persisted state. Ice starts cleared so that
// a de-icing pump seen at startup is an edge on the first evaluation.
func (c *HeatController) resume(ctx context.Context) {
	v := c.store.Snapshot()
	c.ice = false
	logger.L().Infof("Resuming in state %s", c.state.Run)
	metrics.SetRun(c.state.Run.String(), runNames())
	c.enter(ctx, c.state.Run, true, c.now(), v)
}

// Step evaluates the current values once, following transitions until the state settles.
func (c *HeatController) Step(ctx context.Context) error {
	now := c.now()
	v := c.store.Snapshot()
	metrics.SetFaults(len(c.faults.Snapshot()))

	for i := 0; i < maxChain; i++ {
		to, reason := c.evaluate(ctx, now, v)
		if to == c.state.Run {
			return nil
		}
		if err := c.transition(ctx, to, reason, now, v); err != nil {
			return err
		}
	}
	logger.L().Warnf("State still changing after %d transitions: %s", maxChain, c.state.Run)
	return nil
}

func (c *HeatController) transition(ctx context.Context, to state.Run, reason string, now time.Time, v live.Values) error {
	from := c.state.Run
	if err := state.CheckTransition(from, to); err != nil {
		return err
	}
	to = state.Redirect(from, to)
	if to == from {
		return nil
	}

	logger.L().Infof("*** STATE: %s -> %s (%s)", from, to, reason)
	if c.journal != nil {
		if err := c.journal.RecordTransition(from.String(), to.String(), reason); err != nil {
			logger.L().Errorf("journal: %v", err)
		}
	}
	metrics.Transition(to.String())
	metrics.SetRun(to.String(), runNames())

	c.state.Run = to
	c.enter(ctx, to, false, now, v)
	return nil
}

// enter performs the entry action of run. With restoring set the state was loaded from
// disk rather than reached by a transition.
func (c *HeatController) enter(ctx context.Context, run state.Run, restoring bool, now time.Time, v live.Values) {
	misc := c.cfg.Misc
	if run.HeatBlocked() {
		c.disableHeating(ctx, now)
	}

	switch run {
	case state.Off:
		c.setFlow(ctx, 0)
		c.setLoad(ctx, 0)
		c.state.LastPWM = nil
		c.state.RunStart = nil

	case state.WaitTime:
		c.setFlow(ctx, 0)
		c.setLoad(ctx, 0)

	case state.WaitFlow:
		if err := c.feed.Set(ctx, c.cfg.Cmd.Mode.Path, c.cfg.Cmd.Mode.Off, false); err != nil {
			logger.L().Errorf("heat pump mode: %v", err)
		}
		c.setFlowSetpoint(misc.Start.Flow.Init.Rate)
		c.setFlow(ctx, misc.Start.Flow.Init.PWM)

	case state.FlowUp:

	case state.WaitPower:
		c.cascade.Flow.MoveTo(v.Flow, c.lastPWM(), now)
		c.setLoad(ctx, misc.Start.Power)

	case state.Temp:
		c.setFlowSetpoint(misc.Start.Flow.Power.Rate)
		c.setFlow(ctx, misc.Start.Flow.Power.PWM)

	case state.Running:
		if restoring && c.state.LoadLast != nil {
			logger.L().Infof("Resuming load %.3f", *c.state.LoadLast)
			c.setLoad(ctx, *c.state.LoadLast)
		}
		if c.state.RunStart == nil {
			c.state.RunStart = &now
		}
		if !restoring {
			c.cascade.ResetLoad()
		}
		c.cascade.Pump.MoveTo(v.Out, c.lastPWM(), now)
		c.state.LoadLast = nil
		c.noPowerSince = time.Time{}

	case state.Ice:
		c.setFlowSetpoint(misc.DeIce)
		c.forceOff(ctx)

	case state.Down:
		c.setFlowSetpoint(misc.Stop.Flow)
		c.forceOff(ctx)
	}
}

// evaluate returns the state the controller should be in. Returning the current state
// means nothing changes; per-state continuation actions have been applied then.
func (c *HeatController) evaluate(ctx context.Context, now time.Time, v live.Values) (state.Run, string) {
	run := c.state.Run
	misc := c.cfg.Misc

	if v.Ice != c.ice {
		c.ice = v.Ice
		c.feedback(ctx, c.cfg.Feedback.Ice, v.Ice)
		if v.Ice {
			logger.L().Warn("*** ICE ***")
			return state.Ice, "de-icing"
		}
		logger.L().Info("*** NO ICE ***")
	}

	faulted := c.faults.IsFaulted()
	enabled := v.Main && !faulted
	if c.fbMain == nil || *c.fbMain != enabled {
		c.fbMain = &enabled
		c.feedback(ctx, c.cfg.Feedback.Main, enabled)
	}
	if c.fbHeat == nil || *c.fbHeat != v.Heat {
		c.fbHeat = &v.Heat
		c.feedback(ctx, c.cfg.Feedback.Heat, v.Heat)
	}
	if !enabled && run != state.Off && run != state.Down {
		if faulted {
			return state.Off, "fault"
		}
		return state.Off, "main switch"
	}

	t := c.targets(now, v)

	switch run {
	case state.Off:
		if enabled && (t.Cur > t.On || c.forceOn) {
			reason := "buffer"
			if c.forceOn {
				reason = "forced"
			}
			c.forceOn = false
			return state.WaitTime, reason
		}
		logger.L().Debugf("off: cur=%.1f on=%.1f main=%v faulted=%v", t.Cur, t.On, v.Main, faulted)

	case state.WaitTime:
		if c.state.LoadTime.Add(misc.Start.Delay).Before(now) {
			return state.WaitFlow, "start delay"
		}

	case state.WaitFlow:
		if v.Flow != 0 {
			return state.FlowUp, "flow"
		}

	case state.FlowUp:
		if v.Flow >= misc.Start.Flow.Init.Rate*3/4 {
			return state.WaitPower, "flow rate"
		}
		c.setFlow(ctx, c.cascade.Ramp(v.Flow, now))

	case state.WaitPower:
		if v.Power >= misc.MinPower {
			return state.Temp, "power"
		}
		c.setFlow(ctx, c.cascade.Ramp(v.Flow, now))

	case state.Temp:
		c.state.LoadTime = now
		if v.Out-v.In > misc.Start.Delta {
			return state.Running, "outlet delta"
		}
		c.setFlow(ctx, c.cascade.Cooldown(v.Flow, v.Out, now))

	case state.Running:
		c.state.LoadTime = now

	case state.Ice:
		c.setFlow(ctx, c.cascade.Cooldown(v.Flow, v.Out, now))
		if !v.Ice {
			return state.Down, "ice cleared"
		}

	case state.Down:
		c.setFlow(ctx, c.cascade.Cooldown(v.Flow, v.Out, now))
		if v.Out-v.In < misc.Stop.Delta {
			return state.Off, "cooled down"
		}
	}

	c.updateHeating(ctx, now, v)

	if run != state.Running {
		return run, ""
	}
	return c.running(ctx, now, v, t)
}

func (c *HeatController) running(ctx context.Context, now time.Time, v live.Values, t cascade.Targets) (state.Run, string) {
	if v.Power < c.cfg.Misc.MinPower {
		if c.noPowerSince.IsZero() {
			c.noPowerSince = now
		} else if now.Sub(c.noPowerSince) > c.cfg.Misc.NoPower {
			logger.L().Warn("No power use")
			return state.Off, "no power"
		}
	} else {
		c.noPowerSince = time.Time{}
	}

	c.cascade.ApplySetpoints(t)
	cmd := c.cascade.Run(cascade.Measurements{Out: v.Out, Flow: v.Flow, Cur: t.Cur, BufferLow: v.BufferLow}, now)

	c.setLoad(ctx, cmd.Load)
	c.setFlow(ctx, cmd.Pump)
	load := cmd.Load
	c.state.LoadLast = &load

	metrics.SetLoop("load", cmd.LoadLoop)
	metrics.SetLoop("buffer", cmd.BufferLoop)
	metrics.SetLoop("limit", cmd.LimitLoop)
	metrics.SetLoop("pump", cmd.Pump)

	if cmd.OverTemp || now.Sub(c.lastReport) > c.cfg.Misc.ReportInterval {
		c.lastReport = now
		logger.L().Infof(
			"buf=%.1f/%.1f/%.1f t=%.1f/%.1f pump=%.3f load%s%.3f buf%s%.3f lim%s%.3f",
			t.Cur, v.BufferMid, v.BufferLow, v.Out, v.In, cmd.Pump,
			mark(cmd.Load, cmd.LoadLoop), cmd.LoadLoop,
			mark(cmd.Load, cmd.BufferLoop), cmd.BufferLoop,
			mark(cmd.Load, cmd.LimitLoop), cmd.LimitLoop,
		)
	}

	c.updateCOP(ctx, v)

	if t.Cur >= t.Adj {
		if c.state.RunStart != nil && now.Sub(*c.state.RunStart) > c.cfg.Lim.Power.Time && v.BufferMid >= t.Off {
			return state.Off, "buffer charged"
		}
		if v.BufferLow >= t.Low {
			return state.Off, "buffer full"
		}
	}
	return state.Running, ""
}

func mark(chosen, candidate float64) string {
	if chosen == candidate {
		return "="
	}
	return "_"
}

// targets derives the cascade targets; the night heating setpoint applies inside the
// configured night window.
func (c *HeatController) targets(now time.Time, v live.Values) cascade.Targets {
	return cascade.ComputeTargets(c.cfg.Adj, cascade.Setpoints{
		Water:      v.Water,
		Heat:       c.heatNominal(now, v),
		HeatOn:     v.Heat,
		BufferTop:  v.BufferTop,
		BufferHeat: v.BufferHeat,
	})
}

func (c *HeatController) heatNominal(now time.Time, v live.Values) float64 {
	if c.cfg.Setting.Heat.NightHours.Contains(now) && c.store.Known(live.HeatNight) {
		return v.HeatNight
	}
	return v.HeatDay
}

// updateHeating closes the heating circuit at once when it must not run, and opens it
// only after the conditions held for the configured delay.
func (c *HeatController) updateHeating(ctx context.Context, now time.Time, v live.Values) {
	ref := v.BufferHeat
	if c.lastPWM() > 0 {
		ref = math.Min(ref, v.Out)
	}
	ok := !c.state.Run.HeatBlocked() && ref >= c.heatNominal(now, v)

	heat := &c.state.Heat
	if !ok {
		c.disableHeating(ctx, now)
		return
	}

	switch heat.Status {
	case state.HeatEnabled:
	case state.HeatDisabled:
		heat.Status = state.HeatPending
		heat.Since = now
		logger.L().Debugf("Heating pending since %s", now.Format(time.TimeOnly))
	case state.HeatPending:
		if now.Sub(heat.Since) <= c.cfg.Setting.Heat.Mode.Delay {
			return
		}
		if err := c.heatPath.SetHeating(ctx, true); err != nil {
			logger.L().Errorf("Heating on failed: %v", err)
			return
		}
		logger.L().Info("Heating enabled")
		heat.Status = state.HeatEnabled
		metrics.SetHeating(true)
	}
}

func (c *HeatController) disableHeating(ctx context.Context, now time.Time) {
	heat := &c.state.Heat
	switch heat.Status {
	case state.HeatDisabled:
		return
	case state.HeatPending:
		heat.Status = state.HeatDisabled
		heat.Since = time.Time{}
		return
	}
	if err := c.heatPath.SetHeating(ctx, false); err != nil {
		logger.L().Errorf("Heating off failed: %v", err)
		return
	}
	logger.L().Info("Heating disabled")
	heat.Status = state.HeatDisabled
	heat.Since = time.Time{}
	metrics.SetHeating(false)
}

func (c *HeatController) updateCOP(ctx context.Context, v live.Values) {
	if v.Power <= 0 {
		return
	}
	cop := 1.16 * 60 * v.Flow * (v.Out - v.In) / 1000 / v.Power
	if !c.copSeeded {
		c.cop = cop
		c.copSeeded = true
	} else {
		c.cop += copSmoothing * (cop - c.cop)
	}

	if c.nCOP > 0 {
		c.nCOP--
		return
	}
	c.nCOP = copEvery
	metrics.SetCOP(c.cop)
	if c.cfg.Sensor.COP == "" {
		return
	}
	if err := c.feed.Set(ctx, c.cfg.Sensor.COP, math.Round(c.cop*1000)/1000, true); err != nil {
		logger.L().Errorf("publish COP: %v", err)
	}
}

// Shutdown records the intended stop, removes the load, cools the exchanger down for at
// most misc.stop.max_time and then stops the circulation pump.
func (c *HeatController) Shutdown(ctx context.Context) error {
	logger.L().Infof("*** OFF from %s ***", c.state.Run)
	c.state.Run = state.Down
	firstErr := c.save()

	if _, err := c.pump.SetLoad(ctx, 0); err != nil {
		logger.L().Errorf("Shutdown load: %v", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	c.state.LastLoad = 0
	metrics.SetLoad(0)

	if maxTime := c.cfg.Misc.Stop.MaxTime; maxTime > 0 {
		c.cooldown(ctx, maxTime)
	}

	if err := c.flow.SetFlowOutput(ctx, 0); err != nil {
		logger.L().Errorf("Shutdown flow: %v", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	metrics.SetFlow(0)
	c.state.LastPWM = nil
	c.state.Run = state.Off
	metrics.SetRun(state.Off.String(), runNames())
	if err := c.save(); err != nil && firstErr == nil {
		firstErr = err
	}
	logger.L().Info("*** OFF ***")
	return firstErr
}

func (c *HeatController) cooldown(ctx context.Context, maxTime time.Duration) {
	timer := time.NewTimer(maxTime)
	defer timer.Stop()

	c.setFlowSetpoint(c.cfg.Misc.Stop.Flow)
	for {
		changed := c.store.Changed()
		v := c.store.Snapshot()
		if v.Out-v.In <= c.cfg.Misc.Stop.Delta {
			return
		}
		c.setFlow(ctx, c.cascade.Cooldown(v.Flow, v.Out, c.now()))

		select {
		case <-changed:
		case <-timer.C:
			logger.L().Warnf("Cooldown aborted after %v: out-in=%.1f", maxTime, v.Out-v.In)
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *HeatController) save() error {
	if err := c.persister.Save(c.state); err != nil {
		logger.L().Errorf("Saving state: %v", err)
		metrics.SaveFailed()
		return err
	}
	logger.L().Debug("State saved")
	return nil
}

func (c *HeatController) setFlow(ctx context.Context, f float64) {
	if err := c.flow.SetFlowOutput(ctx, f); err != nil {
		logger.L().Errorf("Flow output %.3f: %v", f, err)
		return
	}
	c.state.LastPWM = &f
	metrics.SetFlow(f)
}

func (c *HeatController) lastPWM() float64 {
	if c.state.LastPWM == nil {
		return 0
	}
	return *c.state.LastPWM
}

func (c *HeatController) setFlowSetpoint(rate float64) {
	if c.cascade.Flow.SetSetpoint(rate) {
		logger.L().Infof("flow setpoint %.3f", rate)
	}
}

func (c *HeatController) setLoad(ctx context.Context, f float64) {
	load, err := c.pump.SetLoad(ctx, f)
	if err != nil {
		logger.L().Errorf("Load %.3f: %v", f, err)
		return
	}
	c.state.LastLoad = load
	metrics.SetLoad(load)
}

func (c *HeatController) forceOff(ctx context.Context) {
	if err := c.pump.ForceOff(ctx); err != nil {
		logger.L().Errorf("Heat pump off: %v", err)
		return
	}
	c.state.LastLoad = 0
	metrics.SetLoad(0)
}

func (c *HeatController) feedback(ctx context.Context, path string, on bool) {
	if path == "" {
		return
	}
	if err := c.feed.Set(ctx, path, on, true); err != nil {
		logger.L().Errorf("feedback %s: %v", path, err)
	}
}

func runNames() []string {
	runs := state.Runs()
	names := make([]string, len(runs))
	for i, r := range runs {
		names[i] = r.String()
	}
	return names
}

// ShutdownOnly waits for the startup barrier and runs the shutdown procedure.
func (c *HeatController) ShutdownOnly(ctx context.Context) error {
	if err := c.store.AwaitBarrier(ctx, RequiredQuantities(c.cfg), c.cfg.Misc.InitTimeout); err != nil {
		return errors.WithMessage(err, "off")
	}
	return c.Shutdown(context.WithoutCancel(ctx))
}
