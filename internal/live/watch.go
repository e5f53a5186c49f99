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
	"context"

	"github.com/pkg/errors"

	"github.com/antst/mhpbc/internal/feed"
	"github.com/antst/mhpbc/internal/logger"
)

// Watch copies every value published on path into q until ctx is done.
func Watch(ctx context.Context, f feed.Feed, store *Store, q Quantity, path string) error {
	ch, err := f.Watch(ctx, path, false)
	if err != nil {
		return errors.WithMessagef(err, "watch %s", q)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-ch:
			if msg.UpToDate {
				if !store.Known(q) {
					logger.L().Warnf("No value for %s at %s", q, path)
				}
				continue
			}
			if !store.Known(q) {
				logger.L().Debugf("First value for %s: %v", q, msg.Value)
			}
			store.Update(q, msg.Value)
		}
	}
}
