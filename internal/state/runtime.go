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

package state

import (
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/antst/mhpbc/internal/loop"
)

// HeatStatus is the state of the heating-path hysteresis.
type HeatStatus int

const (
	HeatDisabled HeatStatus = iota
	HeatPending
	HeatEnabled
)

var heatNames = [...]string{"disabled", "pending", "enabled"}

func (h HeatStatus) String() string {
	if h < 0 || int(h) >= len(heatNames) {
		return "unknown"
	}
	return heatNames[h]
}

func (h HeatStatus) MarshalYAML() (interface{}, error) {
	return h.String(), nil
}

func (h *HeatStatus) UnmarshalYAML(value *yaml.Node) error {
	var name string
	if err := value.Decode(&name); err != nil {
		return err
	}
	for i, n := range heatNames {
		if n == name {
			*h = HeatStatus(i)
			return nil
		}
	}
	return errors.Errorf("unknown heat status `%s`", name)
}

// HeatEnable is disabled, pending since a point in time, or enabled.
type HeatEnable struct {
	Status HeatStatus `yaml:"status"`
	Since  time.Time  `yaml:"since,omitempty"`
}

// RuntimeState is everything that survives a restart.
type RuntimeState struct {
	Run      Run                     `yaml:"run"`
	Loops    map[string]*loop.Memory `yaml:"pid"`
	LastPWM  *float64                `yaml:"last_pwm,omitempty"`
	LastLoad float64                 `yaml:"last_load"`
	LoadLast *float64                `yaml:"load_last,omitempty"`
	LoadTime time.Time               `yaml:"t_load,omitempty"`
	RunStart *time.Time              `yaml:"t_run,omitempty"`
	Heat     HeatEnable              `yaml:"heat"`
}

func Default() *RuntimeState {
	return &RuntimeState{
		Run:   Off,
		Loops: make(map[string]*loop.Memory),
	}
}
