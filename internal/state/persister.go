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
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Persister keeps RuntimeState in a YAML file. Writes go to a sibling file which is then
// renamed over the target, so a reader never sees a partial state.
type Persister struct {
	path string
}

func NewPersister(path string) *Persister {
	return &Persister{path: path}
}

func (p *Persister) Path() string { return p.path }

// Load reads the state file. A missing file yields the default state.
func (p *Persister) Load() (*RuntimeState, error) {
	data, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read state")
	}

	s := Default()
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, errors.Wrapf(err, "parse state %s", p.path)
	}
	if s.Loops == nil {
		s.Loops = Default().Loops
	}
	return s, nil
}

func (p *Persister) Save(s *RuntimeState) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "encode state")
	}

	tmp := p.path + ".n"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "write state")
	}
	if err := os.Rename(tmp, p.path); err != nil {
		return errors.Wrap(err, "replace state")
	}
	return nil
}
