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

package config

import "time"

const defaultCommErrorCode = 30055

type MiscConfig struct {
	InitTimeout time.Duration `yaml:"init_timeout"`
	// DeIce is the flow rate while the outdoor unit is de-icing.
	DeIce float64 `yaml:"de_ice"`
	// NoPower is how long the running heat pump may draw less than MinPower.
	NoPower  time.Duration `yaml:"no_power"`
	MinPower float64       `yaml:"min_power"`
	// CommErrorCode is the fault code the heat pump reports when it lost its controller link.
	CommErrorCode  int           `yaml:"comm_error_code"`
	SaveInterval   time.Duration `yaml:"save_interval"`
	ReportInterval time.Duration `yaml:"report_interval"`
	ReplayPace     time.Duration `yaml:"replay_pace"`
	Stop           *StopConfig   `yaml:"stop"`
	Start          *StartConfig  `yaml:"start"`
}

type StopConfig struct {
	Flow float64 `yaml:"flow"`
	// Delta is the outlet-inlet difference below which the circulation pump may stop.
	Delta float64 `yaml:"delta"`
	// MaxTime bounds the cooldown on shutdown; zero skips waiting.
	MaxTime time.Duration `yaml:"max_time"`
}

type StartConfig struct {
	// Delay is the pause after the last load command before the heat pump is restarted.
	Delay time.Duration `yaml:"delay"`
	// Power is the load requested while waiting for the heat pump to draw power.
	Power float64 `yaml:"power"`
	// Delta is the outlet-inlet difference that starts regular operation.
	Delta float64          `yaml:"delta"`
	Flow  *StartFlowConfig `yaml:"flow"`
}

type StartFlowConfig struct {
	Init  *RampConfig `yaml:"init"`
	Power *RampConfig `yaml:"power"`
}

type RampConfig struct {
	Rate float64 `yaml:"rate"`
	PWM  float64 `yaml:"pwm"`
}

func NewMiscConfig() *MiscConfig {
	return &MiscConfig{
		InitTimeout:    5 * time.Second,
		DeIce:          17,
		NoPower:        20 * time.Second,
		MinPower:       0.9,
		CommErrorCode:  defaultCommErrorCode,
		SaveInterval:   defaultSaveInterval,
		ReportInterval: defaultReport,
		ReplayPace:     20 * time.Millisecond,
		Stop:           &StopConfig{Flow: 10, Delta: 3, MaxTime: 10 * time.Minute},
		Start: &StartConfig{
			Delay: 330 * time.Second,
			Power: 0.1,
			Delta: 2,
			Flow: &StartFlowConfig{
				Init:  &RampConfig{Rate: 6, PWM: .25},
				Power: &RampConfig{Rate: 15, PWM: .4},
			},
		},
	}
}

func (c *MiscConfig) FillDefaults() {
	def := NewMiscConfig()
	if c.InitTimeout <= 0 {
		c.InitTimeout = def.InitTimeout
	}
	if c.NoPower <= 0 {
		c.NoPower = def.NoPower
	}
	if c.CommErrorCode == 0 {
		c.CommErrorCode = def.CommErrorCode
	}
	if c.SaveInterval <= 0 {
		c.SaveInterval = def.SaveInterval
	}
	if c.ReportInterval <= 0 {
		c.ReportInterval = def.ReportInterval
	}
	if c.ReplayPace <= 0 {
		c.ReplayPace = def.ReplayPace
	}
	if c.Stop == nil {
		c.Stop = def.Stop
	}
	if c.Start == nil {
		c.Start = def.Start
	}
	if c.Start.Flow == nil {
		c.Start.Flow = def.Start.Flow
	}
	if c.Start.Flow.Init == nil {
		c.Start.Flow.Init = def.Start.Flow.Init
	}
	if c.Start.Flow.Power == nil {
		c.Start.Flow.Power = def.Start.Flow.Power
	}
}

type LimConfig struct {
	Power *PowerLimConfig `yaml:"power"`
}

type PowerLimConfig struct {
	// Min is the smallest load fraction the heat pump accepts; below it the pump is switched off.
	Min float64 `yaml:"min"`
	// Time is the minimum run time before a warm middle buffer may stop the heat pump.
	Time time.Duration `yaml:"time"`
}

func NewLimConfig() *LimConfig {
	return &LimConfig{Power: &PowerLimConfig{Min: .04, Time: 300 * time.Second}}
}
