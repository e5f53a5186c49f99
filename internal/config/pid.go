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

import "fmt"

// PIDConfig tunes one feedback loop.
type PIDConfig struct {
	P float64 `yaml:"p"`
	I float64 `yaml:"i"`
	D float64 `yaml:"d"`

	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`

	// Factor and Offset add a setpoint feed-forward term: out += Factor*setpoint + Offset.
	Factor float64 `yaml:"factor"`
	Offset float64 `yaml:"offset"`

	// State is the key of this loop's memory in the persisted state.
	State string `yaml:"state"`
}

type PIDSetConfig struct {
	Flow   *PIDConfig `yaml:"flow"`
	Pump   *PIDConfig `yaml:"pump"`
	Load   *PIDConfig `yaml:"load"`
	Buffer *PIDConfig `yaml:"buffer"`
	Limit  *PIDConfig `yaml:"limit"`
}

func NewPIDSetConfig() *PIDSetConfig {
	return &PIDSetConfig{
		// flow rate -> circulation pump PWM
		Flow: &PIDConfig{P: 0.02, I: 0.0003, Min: .25, Max: .95, State: "p_flow"},
		// exchanger outlet temperature -> circulation pump PWM; a hot outlet needs more flow
		Pump: &PIDConfig{P: -0.05, I: -0.001, Min: .2, Max: 1, State: "p_pump"},
		// current buffer temperature -> heat pump load
		Load: &PIDConfig{P: 0.08, I: 0.0005, Min: .04, Max: 1, State: "p_load"},
		// low buffer temperature -> heat pump load
		Buffer: &PIDConfig{P: 0.2, I: 0.0001, Min: .04, Max: 1, State: "p_buffer"},
		// exchanger outlet temperature -> heat pump load
		Limit: &PIDConfig{P: 0.05, I: 0.0007, Min: .04, Max: 1, State: "p_limit"},
	}
}

func (c *PIDSetConfig) FillDefaults() {
	def := NewPIDSetConfig()
	if c.Flow == nil {
		c.Flow = def.Flow
	}
	if c.Pump == nil {
		c.Pump = def.Pump
	}
	if c.Load == nil {
		c.Load = def.Load
	}
	if c.Buffer == nil {
		c.Buffer = def.Buffer
	}
	if c.Limit == nil {
		c.Limit = def.Limit
	}
}

// Validate requires sane clamp ranges and distinct state keys.
func (c *PIDSetConfig) Validate() error {
	seen := make(map[string]string)
	for name, p := range c.All() {
		if p.Min > p.Max {
			return fmt.Errorf("pid.%s: min %v above max %v", name, p.Min, p.Max)
		}
		if p.State == "" {
			return fmt.Errorf("pid.%s: missing state key", name)
		}
		if other, dup := seen[p.State]; dup {
			return fmt.Errorf("pid.%s and pid.%s share state key `%s`", name, other, p.State)
		}
		seen[p.State] = name
	}
	return nil
}

// All returns the loops by name.
func (c *PIDSetConfig) All() map[string]*PIDConfig {
	return map[string]*PIDConfig{
		"flow":   c.Flow,
		"pump":   c.Pump,
		"load":   c.Load,
		"buffer": c.Buffer,
		"limit":  c.Limit,
	}
}
