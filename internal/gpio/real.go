//go:build linux

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

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// OpenOutput requests pin on chip as an output, initially low.
func OpenOutput(chip string, pin int) (Line, error) {
	l, err := gpiocdev.RequestLine(chip, pin, gpiocdev.AsOutput(0), gpiocdev.WithConsumer("mhpbc"))
	if err != nil {
		return nil, fmt.Errorf("request %s pin %d: %w", chip, pin, err)
	}
	return l, nil
}
