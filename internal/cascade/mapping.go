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

package cascade

import "math"

func clamp01(f float64) float64 {
	if math.IsNaN(f) {
		return 0
	}
	return math.Max(0, math.Min(1, f))
}

// Interpolate maps the fraction f (clamped to [0,1]) onto the range low..high.
func Interpolate(low, f, high float64) float64 {
	return low + clamp01(f)*(high-low)
}

// Deinterpolate is the inverse of Interpolate: the position of x between low and high,
// clamped to [0,1]. An empty range yields 0.
func Deinterpolate(low, x, high float64) float64 {
	if high == low {
		return 0
	}
	return clamp01((x - low) / (high - low))
}
