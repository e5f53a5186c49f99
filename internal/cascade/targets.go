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

import (
	"math"

	"github.com/antst/mhpbc/internal/config"
)

// Targets are the temperatures the cascade steers towards, derived from the user setpoints.
type Targets struct {
	// Nom is the nominal buffer temperature, Low and Adj the lower and upper adjusted bounds.
	Nom float64
	Low float64
	Adj float64
	// Cur is the buffer temperature compared against the bounds.
	Cur float64

	Pump   float64
	Load   float64
	Buffer float64
	Limit  float64

	// On and Off are the start and stop thresholds.
	On  float64
	Off float64
}

// Setpoints are the user-facing inputs of ComputeTargets.
type Setpoints struct {
	Water float64
	Heat  float64
	// HeatOn selects the combined water and heating target.
	HeatOn bool
	// BufferTop and BufferHeat are the buffer temperatures at the water and heating levels.
	BufferTop  float64
	BufferHeat float64
}

func ComputeTargets(adj *config.AdjConfig, s Setpoints) Targets {
	var t Targets

	twNom := s.Water
	twLow := twNom + adj.Low.Water
	twAdj := twNom + adj.Water

	if s.HeatOn {
		thNom := s.Heat
		thLow := thNom + adj.Low.Heat
		thAdj := thNom + adj.Heat

		t.Nom = math.Max(thNom, twNom)
		t.Low = math.Max(thLow, twLow)
		t.Adj = math.Max(thAdj, twAdj)
		t.Cur = s.BufferHeat
	} else {
		t.Nom = twNom
		t.Low = twLow
		t.Adj = twAdj
		t.Cur = s.BufferTop
	}

	f := Deinterpolate(t.Nom, t.Cur, t.Adj)
	t.Limit = math.Min(adj.Max, t.Adj+adj.More)
	t.Pump = Interpolate(t.Low, f, t.Limit)
	t.Load = t.Adj + adj.More
	t.Buffer = t.Low + adj.Low.Buffer

	t.On = (t.Low + t.Adj) / 2
	t.Off = t.Nom
	return t
}
