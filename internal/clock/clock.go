// Copyright 2024 The objectbridge Authors
// This file is part of the objectbridge library.
//
// The objectbridge library is free software: you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// The objectbridge library is distributed in the hope that it will be
// useful, but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the GNU Lesser
// General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the objectbridge library. If not, see
// <http://www.gnu.org/licenses/>.

// Package clock wraps a monotonic time source, so elapsed-time readings
// never misbehave across a wall-clock adjustment (NTP step, DST, manual
// clock set). The bridge uses it to time each flush for its debug log; flush
// scheduling itself runs on a fixed FlushInterval timer and does not read
// this clock.
package clock

import (
	"time"

	"github.com/aristanetworks/goarista/monotime"
)

// Now returns a monotonic timestamp in nanoseconds, suitable only for
// subtracting against another value from Now.
func Now() int64 { return int64(monotime.Now()) }

// Since returns the duration elapsed since a prior Now() reading.
func Since(start int64) time.Duration {
	return time.Duration(Now() - start)
}
