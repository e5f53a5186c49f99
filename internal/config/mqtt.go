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

import "time"

const (
	defaultMQTTURL       = "tcp://127.0.0.1:1883"
	defaultClientPrefix  = "mhpbc-"
	defaultUpToDateDelay = 500 * time.Millisecond
)

type MQTTConfig struct {
	URL          string `yaml:"url"`
	ClientPrefix string `yaml:"client_prefix"`
	// JSONEntry, when set, makes incoming payloads JSON objects holding the value under this key.
	JSONEntry *string `yaml:"json_entry,omitempty"`
	// UpToDateDelay is how long after a subscription is acknowledged retained values may still arrive.
	UpToDateDelay time.Duration `yaml:"uptodate_delay"`
}

func NewMQTTConfig() *MQTTConfig {
	cfg := &MQTTConfig{}
	cfg.FillDefaults()
	return cfg
}

func (c *MQTTConfig) FillDefaults() {
	if c.URL == "" {
		c.URL = defaultMQTTURL
	}
	if c.ClientPrefix == "" {
		c.ClientPrefix = defaultClientPrefix
	}
	if c.UpToDateDelay <= 0 {
		c.UpToDateDelay = defaultUpToDateDelay
	}
}
