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

// Package actuator turns controller decisions into feed writes or GPIO output.
package actuator

import (
	"context"

	"github.com/pkg/errors"

	"github.com/antst/mhpbc/internal/config"
	"github.com/antst/mhpbc/internal/feed"
	"github.com/antst/mhpbc/internal/gpio"
	"github.com/antst/mhpbc/internal/logger"
)

// FlowOutput sets the circulation pump speed as a fraction 0..1.
type FlowOutput interface {
	SetFlowOutput(ctx context.Context, f float64) error
}

// HeatPath opens or closes the heating circuit.
type HeatPath interface {
	SetHeating(ctx context.Context, on bool) error
}

type feedFlow struct {
	feed feed.Feed
	path string
}

func (o *feedFlow) SetFlowOutput(ctx context.Context, f float64) error {
	return o.feed.Set(ctx, o.path, f, true)
}

type pwmFlow struct {
	pwm *gpio.PWM
}

func (o *pwmFlow) SetFlowOutput(_ context.Context, f float64) error {
	o.pwm.SetDuty(f)
	return nil
}

// NewFlowOutput writes the pump speed to cfg.Path, or drives cfg.Pin directly when no path
// is configured. In the latter case the returned PWM must be run by the caller.
func NewFlowOutput(cfg *config.PWMOutputConfig, f feed.Feed) (FlowOutput, *gpio.PWM, error) {
	if cfg.Path != "" {
		return &feedFlow{feed: f, path: cfg.Path}, nil, nil
	}
	line, err := gpio.OpenOutput(cfg.Chip, cfg.Pin)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "flow output")
	}
	pwm := gpio.NewPWM(line, cfg.Freq)
	return &pwmFlow{pwm: pwm}, pwm, nil
}

// NewPWMFlowOutput drives an already running PWM.
func NewPWMFlowOutput(pwm *gpio.PWM) FlowOutput {
	return &pwmFlow{pwm: pwm}
}

// Pump commands the heat pump's load and operating mode.
type Pump struct {
	feed    feed.Feed
	cmd     *config.CmdConfig
	minLoad float64
}

func NewPump(_feed feed.Feed, _cmd *config.CmdConfig, _lim *config.LimConfig) *Pump {
	return &Pump{feed: _feed, cmd: _cmd, minLoad: _lim.Power.Min}
}

// SetLoad requests load f. Below the minimum load the heat pump is switched off instead.
// It returns the load actually commanded.
func (p *Pump) SetLoad(ctx context.Context, f float64) (float64, error) {
	if f < p.minLoad {
		return 0, p.ForceOff(ctx)
	}
	if f > 1 {
		f = 1
	}
	if err := p.feed.Set(ctx, p.cmd.Power, f, true); err != nil {
		return 0, errors.WithMessage(err, "set load")
	}
	if err := p.feed.Set(ctx, p.cmd.Mode.Path, p.cmd.Mode.On, true); err != nil {
		return 0, errors.WithMessage(err, "set mode")
	}
	return f, nil
}

// ForceOff zeroes the load and switches the heat pump's mode off.
func (p *Pump) ForceOff(ctx context.Context) error {
	if err := p.feed.Set(ctx, p.cmd.Power, 0.0, true); err != nil {
		return errors.WithMessage(err, "set load")
	}
	if err := p.feed.Set(ctx, p.cmd.Mode.Path, p.cmd.Mode.Off, true); err != nil {
		return errors.WithMessage(err, "set mode")
	}
	return nil
}

type feedHeat struct {
	feed feed.Feed
	mode *config.ModeConfig
}

func (h *feedHeat) SetHeating(ctx context.Context, on bool) error {
	v := h.mode.Off
	if on {
		v = h.mode.On
	}
	return h.feed.Set(ctx, h.mode.Path, v, false)
}

type relayHeat struct {
	relay *gpio.Relay
}

func (h *relayHeat) SetHeating(_ context.Context, on bool) error {
	return h.relay.Set(on)
}

// NewHeatPath switches heating through a relay on cfg.Pin if set, else through the mode path.
func NewHeatPath(cfg *config.HeatSettingConfig, f feed.Feed) (HeatPath, error) {
	if cfg.Pin == nil {
		return &feedHeat{feed: f, mode: cfg.Mode}, nil
	}
	line, err := gpio.OpenOutput(cfg.Chip, *cfg.Pin)
	if err != nil {
		return nil, errors.WithMessage(err, "heat relay")
	}
	logger.L().Infof("Heating relay on %s pin %d", cfg.Chip, *cfg.Pin)
	return &relayHeat{relay: gpio.NewRelay(line)}, nil
}

// NewRelayHeatPath switches heating through relay.
func NewRelayHeatPath(relay *gpio.Relay) HeatPath {
	return &relayHeat{relay: relay}
}
