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

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// SensorConfig lists the feed paths of measured quantities.
type SensorConfig struct {
	Pump   *PumpSensorConfig   `yaml:"pump"`
	Buffer *BufferSensorConfig `yaml:"buffer"`
	Error  string              `yaml:"error"`
	Power  string              `yaml:"power"`
	COP    string              `yaml:"cop,omitempty"`
}

type PumpSensorConfig struct {
	In   string `yaml:"in"`
	Out  string `yaml:"out"`
	Flow string `yaml:"flow"`
	Ice  string `yaml:"ice"`
}

type BufferSensorConfig struct {
	Top  string `yaml:"top"`
	Heat string `yaml:"heat"`
	Mid  string `yaml:"mid"`
	Low  string `yaml:"low"`
}

func NewSensorConfig() *SensorConfig {
	return &SensorConfig{
		Pump: &PumpSensorConfig{
			In:   "heat/s/pump/temp/in",
			Out:  "heat/s/pump/temp/out",
			Flow: "heat/s/pump/flow",
			Ice:  "heat/s/pump/de_ice",
		},
		Buffer: &BufferSensorConfig{
			Top:  "heat/s/buffer/temp/water",
			Heat: "heat/s/buffer/temp/heat",
			Mid:  "heat/s/buffer/temp/mid",
			Low:  "heat/s/buffer/temp/return",
		},
		Error: "heat/s/pump/err",
		Power: "heat/s/pump/power",
		COP:   "home/ass/dyn/sensor/heizung/wp_cop/state",
	}
}

func (c *SensorConfig) FillDefaults() {
	if c.Pump == nil {
		c.Pump = &PumpSensorConfig{}
	}
	if c.Buffer == nil {
		c.Buffer = &BufferSensorConfig{}
	}
}

// SettingConfig lists user-adjustable targets.
type SettingConfig struct {
	Heat  *HeatSettingConfig `yaml:"heat"`
	Water string             `yaml:"water"`
}

type HeatSettingConfig struct {
	Day        string      `yaml:"day"`
	Night      string      `yaml:"night,omitempty"`
	NightHours *NightHours `yaml:"night_hours,omitempty"`
	// Pin switches the heating circuit through a GPIO relay instead of Mode.Path.
	Pin  *int        `yaml:"pin,omitempty"`
	Chip string      `yaml:"chip,omitempty"`
	Mode *ModeConfig `yaml:"mode"`
}

// ModeConfig describes a mode command path and the values meaning on and off.
type ModeConfig struct {
	Path  string        `yaml:"path"`
	On    float64       `yaml:"on"`
	Off   float64       `yaml:"off"`
	Delay time.Duration `yaml:"delay,omitempty"`
}

func NewSettingConfig() *SettingConfig {
	return &SettingConfig{
		Heat: &HeatSettingConfig{
			Day:   "heat/s/heat/temp",
			Night: "heat/s/heat/temp_low",
			Mode: &ModeConfig{
				Path:  "heat/s/heat/mode/cmd",
				On:    3,
				Off:   5,
				Delay: 30 * time.Second,
			},
		},
		Water: "heat/s/water/temp",
	}
}

func (c *SettingConfig) FillDefaults() {
	if c.Heat == nil {
		c.Heat = &HeatSettingConfig{}
	}
	if c.Heat.Mode == nil {
		c.Heat.Mode = &ModeConfig{On: 3, Off: 5, Delay: 30 * time.Second}
	}
	if c.Heat.Chip == "" {
		c.Heat.Chip = defaultGPIOChip
	}
}

// NightHours is a daily local-time window, e.g. 22:00 to 06:00, in which the night
// heating setpoint applies. The window may wrap around midnight.
type NightHours struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`

	from, to time.Duration
	parsed   bool
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, errors.Wrapf(err, "bad time of day `%s`", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func (n *NightHours) parse() error {
	var err error
	if n.from, err = parseClock(n.From); err != nil {
		return err
	}
	if n.to, err = parseClock(n.To); err != nil {
		return err
	}
	if n.from == n.to {
		return fmt.Errorf("empty window %s-%s", n.From, n.To)
	}
	n.parsed = true
	return nil
}

// Contains reports whether t falls inside the window.
func (n *NightHours) Contains(t time.Time) bool {
	if n == nil {
		return false
	}
	if !n.parsed {
		if err := n.parse(); err != nil {
			return false
		}
	}
	tod := time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute
	if n.from < n.to {
		return tod >= n.from && tod < n.to
	}
	return tod >= n.from || tod < n.to
}

// CmdConfig lists command paths the controller reads (switches) or writes (heat pump).
type CmdConfig struct {
	Flow  string      `yaml:"flow,omitempty"`
	Main  string      `yaml:"main"`
	Heat  string      `yaml:"heat"`
	Mode  *ModeConfig `yaml:"mode"`
	Power string      `yaml:"power"`
}

func NewCmdConfig() *CmdConfig {
	return &CmdConfig{
		Flow:  "heat/s/pump/rate/cmd",
		Main:  "home/ass/dyn/switch/heizung/wp/cmd",
		Heat:  "home/ass/dyn/switch/heizung/main/cmd",
		Mode:  &ModeConfig{Path: "heat/s/pump/cmd/mode", On: 3, Off: 0},
		Power: "heat/s/pump/cmd/power",
	}
}

func (c *CmdConfig) FillDefaults() {
	if c.Mode == nil {
		c.Mode = &ModeConfig{On: 3, Off: 0}
	}
}

// FeedbackConfig lists paths mirroring the switch and ice states back to the home automation.
type FeedbackConfig struct {
	Main string `yaml:"main,omitempty"`
	Heat string `yaml:"heat,omitempty"`
	Ice  string `yaml:"ice,omitempty"`
}

func NewFeedbackConfig() *FeedbackConfig {
	return &FeedbackConfig{
		Main: "home/ass/dyn/switch/heizung/wp/state",
		Heat: "home/ass/dyn/switch/heizung/main/state",
		Ice:  "home/ass/dyn/binary_sensor/heizung/wp_de_ice/state",
	}
}
