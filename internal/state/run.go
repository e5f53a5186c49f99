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

// Package state holds the durable controller state and the rules for moving between
// operational states.
package state

import (
	"fmt"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Run is the operational state. The order of the constants is the startup sequence.
type Run int

const (
	Off Run = iota
	WaitTime
	WaitFlow
	FlowUp
	WaitPower
	Temp
	Running
	Ice
	Down
)

var runNames = [...]string{
	Off:       "off",
	WaitTime:  "wait_time",
	WaitFlow:  "wait_flow",
	FlowUp:    "flow",
	WaitPower: "wait_power",
	Temp:      "temp",
	Running:   "run",
	Ice:       "ice",
	Down:      "down",
}

// ErrIllegalTransition is a programming defect and stops the controller.
var ErrIllegalTransition = errors.New("illegal state transition")

func (r Run) String() string {
	if r < 0 || int(r) >= len(runNames) {
		return fmt.Sprintf("run(%d)", int(r))
	}
	return runNames[r]
}

func ParseRun(name string) (Run, error) {
	for i, n := range runNames {
		if n == name {
			return Run(i), nil
		}
	}
	return Off, errors.Errorf("unknown run state `%s`", name)
}

// Runs returns every state in order.
func Runs() []Run {
	res := make([]Run, len(runNames))
	for i := range res {
		res[i] = Run(i)
	}
	return res
}

func (r Run) MarshalYAML() (interface{}, error) {
	return r.String(), nil
}

func (r *Run) UnmarshalYAML(value *yaml.Node) error {
	var name string
	if err := value.Decode(&name); err != nil {
		return err
	}
	v, err := ParseRun(name)
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// Circulating reports whether the pump moves water through the heat exchanger in r.
func (r Run) Circulating() bool {
	switch r {
	case FlowUp, Temp, Running, Ice:
		return true
	}
	return false
}

// HeatBlocked reports whether the heating path must stay closed in r.
func (r Run) HeatBlocked() bool {
	switch r {
	case WaitFlow, FlowUp, WaitPower, Temp, Ice, Down:
		return true
	}
	return false
}

// CheckTransition accepts staying put, advancing by one, dropping to off, entering ice,
// and entering down from anything but off.
func CheckTransition(from, to Run) error {
	switch {
	case to == from, to == from+1, to == Off, to == Ice:
		return nil
	case to == Down && from != Off:
		return nil
	}
	return errors.Wrapf(ErrIllegalTransition, "%s -> %s", from, to)
}

// Redirect maps a requested off to down while water is still circulating so that the
// cooldown runs first.
func Redirect(from, to Run) Run {
	if to == Off && from.Circulating() {
		return Down
	}
	return to
}
