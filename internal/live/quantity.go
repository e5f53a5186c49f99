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

package live

import (
	"fmt"
	"strings"
)

// Quantity identifies one external value the controller observes.
type Quantity int

const (
	FlowCmd Quantity = iota
	MainSwitch
	HeatSwitch
	HeatDay
	HeatNight
	Water
	PumpIn
	PumpOut
	Flow
	Ice
	BufferTop
	BufferHeat
	BufferMid
	BufferLow
	Power

	numQuantities
)

var quantityNames = [numQuantities]string{
	FlowCmd:    "flow_cmd",
	MainSwitch: "main",
	HeatSwitch: "heat",
	HeatDay:    "heat_day",
	HeatNight:  "heat_night",
	Water:      "water",
	PumpIn:     "pump_in",
	PumpOut:    "pump_out",
	Flow:       "flow",
	Ice:        "ice",
	BufferTop:  "buffer_top",
	BufferHeat: "buffer_heat",
	BufferMid:  "buffer_mid",
	BufferLow:  "buffer_low",
	Power:      "power",
}

func (q Quantity) String() string {
	if q < 0 || q >= numQuantities {
		return fmt.Sprintf("quantity(%d)", int(q))
	}
	return quantityNames[q]
}

// ParseQuantity maps a name produced by String back to its Quantity.
func ParseQuantity(name string) (Quantity, error) {
	for i, n := range quantityNames {
		if n == name {
			return Quantity(i), nil
		}
	}
	return 0, fmt.Errorf("unknown quantity `%s`", name)
}

// All returns every quantity in declaration order.
func All() []Quantity {
	qs := make([]Quantity, numQuantities)
	for i := range qs {
		qs[i] = Quantity(i)
	}
	return qs
}

func joinQuantities(qs []Quantity) string {
	names := make([]string, len(qs))
	for i, q := range qs {
		names[i] = q.String()
	}
	return strings.Join(names, ", ")
}

// Values is a typed snapshot of the store. Unknown quantities read as zero.
type Values struct {
	FlowCmd    float64
	Main       bool
	Heat       bool
	HeatDay    float64
	HeatNight  float64
	Water      float64
	In         float64
	Out        float64
	Flow       float64
	Ice        bool
	BufferTop  float64
	BufferHeat float64
	BufferMid  float64
	BufferLow  float64
	Power      float64
}

func valuesFrom(v *[numQuantities]float64) Values {
	return Values{
		FlowCmd:    v[FlowCmd],
		Main:       v[MainSwitch] != 0,
		Heat:       v[HeatSwitch] != 0,
		HeatDay:    v[HeatDay],
		HeatNight:  v[HeatNight],
		Water:      v[Water],
		In:         v[PumpIn],
		Out:        v[PumpOut],
		Flow:       v[Flow],
		Ice:        v[Ice] != 0,
		BufferTop:  v[BufferTop],
		BufferHeat: v[BufferHeat],
		BufferMid:  v[BufferMid],
		BufferLow:  v[BufferLow],
		Power:      v[Power],
	}
}
