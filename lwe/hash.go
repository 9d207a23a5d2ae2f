// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package lwe

import (
	"encoding/binary"

	"github.com/dchest/siphash"
)

// columnHashKey is the fixed siphash key pair for the column hash. The
// hash only needs to be a deterministic, collision-resistant-enough
// digest per process (it backs O(1) equality screening, not security),
// so the key is a build-time constant rather than derived per instance.
const (
	columnHashK0 = 0x6b77636173686b30
	columnHashK1 = 0x6c7765686173683a
)

// ColumnHash computes the 64-bit non-cryptographic digest of the active
// coordinates a_0..a_{n-1}, used for O(1) equality screening and
// corruption checks. A zero column always hashes to zero, matching the
// invariant relied on by Sample.IsZeroColumn.
func ColumnHash(a []int16, n int) uint64 {
	allZero := true
	buf := make([]byte, n*2)
	for i := 0; i < n; i++ {
		if a[i] != 0 {
			allZero = false
		}
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(a[i]))
	}
	if allZero {
		return 0
	}
	return siphash.Hash64(columnHashK0, columnHashK1, buf)
}
