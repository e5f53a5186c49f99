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

// AdjConfig holds offsets applied to the nominal water and heating temperatures.
type AdjConfig struct {
	// Water and Heat are added to the nominal temperatures to get the charge target.
	Water float64 `yaml:"water"`
	Heat  float64 `yaml:"heat"`
	// More is the exchanger outlet offset above the charge target.
	More float64 `yaml:"more"`
	// Max is the outlet temperature the heat pump must never exceed.
	Max float64       `yaml:"max"`
	Low *AdjLowConfig `yaml:"low"`
}

type AdjLowConfig struct {
	Water  float64 `yaml:"water"`
	Heat   float64 `yaml:"heat"`
	Buffer float64 `yaml:"buffer"`
}

func NewAdjConfig() *AdjConfig {
	return &AdjConfig{
		Water: 3,
		Heat:  1.5,
		More:  2,
		Max:   61,
		Low:   &AdjLowConfig{Water: 1, Heat: .5, Buffer: -2},
	}
}

func (c *AdjConfig) FillDefaults() {
	if c.Low == nil {
		c.Low = &AdjLowConfig{Water: 1, Heat: .5, Buffer: -2}
	}
}
