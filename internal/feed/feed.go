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

// Package feed is the publish/subscribe data feed the controller reads sensors from and
// writes commands to.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Message is one value received on a watched path. A message with UpToDate set carries no
// value; it marks that every retained value of the subscription has been delivered.
type Message struct {
	Path     string
	Value    float64
	UpToDate bool
}

type Feed interface {
	// Watch delivers messages for path, or for every path below it when subtree is set,
	// until ctx is done.
	Watch(ctx context.Context, path string, subtree bool) (<-chan Message, error)
	// Set writes value to path. An idempotent write of the value last written is dropped.
	Set(ctx context.Context, path string, value any, idempotent bool) error
}

// ParsePayload decodes a raw payload. Without jsonEntry the payload is a number or one of
// true/on/false/off; with jsonEntry it is a JSON object holding the number under that key.
func ParsePayload(payload []byte, jsonEntry *string) (float64, error) {
	if jsonEntry == nil {
		s := strings.TrimSpace(string(payload))
		switch strings.ToLower(s) {
		case "true", "on":
			return 1, nil
		case "false", "off":
			return 0, nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, errors.Wrapf(err, "bad payload `%s`", s)
		}
		return v, nil
	}

	var valMap map[string]interface{}
	if err := json.Unmarshal(payload, &valMap); err != nil {
		return 0, errors.Wrapf(err, "json unmarshal error with : %v", string(payload))
	}

	v, ok := valMap[*jsonEntry]
	if !ok {
		return 0, fmt.Errorf("not found: `%v` in `%v`", *jsonEntry, string(payload))
	}

	switch t0 := v.(type) {
	case float64:
		return t0, nil
	case bool:
		if t0 {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("cannot cast `%v` to float64 in : %v", v, string(payload))
}

// FormatValue renders a value the way it is written to the feed.
func FormatValue(value any) string {
	switch v := value.(type) {
	case bool:
		if v {
			return "1"
		}
		return "0"
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case string:
		return v
	}
	return fmt.Sprint(value)
}

// lastWritten remembers the last payload written per path for idempotent suppression.
type lastWritten struct {
	mu   sync.Mutex
	last map[string]string
}

// changed records payload for path and reports whether an idempotent write must go out.
func (l *lastWritten) changed(path, payload string, idempotent bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.last == nil {
		l.last = make(map[string]string)
	}
	if prev, ok := l.last[path]; ok && idempotent && prev == payload {
		return false
	}
	l.last[path] = payload
	return true
}

func (l *lastWritten) forget(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.last, path)
}

func matches(watched string, subtree bool, path string) bool {
	if path == watched {
		return true
	}
	return subtree && strings.HasPrefix(path, watched+"/")
}
