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

const (
	defaultGPIOChip = "gpiochip0"
	defaultPWMFreq  = 200.0
)

// PWMOutputConfig describes a PWM output. With Path set the controller writes the duty cycle
// to the feed; the `pwm` command then drives Pin from that path. Without Path the controller
// drives Pin directly.
type PWMOutputConfig struct {
	Path string  `yaml:"path,omitempty"`
	Chip string  `yaml:"chip,omitempty"`
	Pin  int     `yaml:"pin"`
	Freq float64 `yaml:"freq,omitempty"`
}

func (c *PWMOutputConfig) FillDefaults() {
	if c.Chip == "" {
		c.Chip = defaultGPIOChip
	}
	if c.Freq <= 0 {
		c.Freq = defaultPWMFreq
	}
}
