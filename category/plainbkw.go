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

package category

import "sync"

// plainBKW2Table is the process-wide constructive table mapping a
// (p0,p1) tuple to its category index for plainBKW with a 2-position
// block. It guarantees index(p) == index(-p) +/- 1 for p != 0, and
// index(0) == 0, by walking tuples in lexicographic order and handing
// out index pairs {counter, counter+1} to a tuple and its additive
// inverse together (or a single index to a self-inverse tuple).
type plainBKW2Table struct {
	q       int
	fwd     []uint64 // (p0*q+p1) -> index
	inv     [][2]int16
}

var (
	tableMu sync.Mutex
	tables  = map[int]*plainBKW2Table{}
)

func table(q int) *plainBKW2Table {
	tableMu.Lock()
	defer tableMu.Unlock()
	if t, ok := tables[q]; ok {
		return t
	}
	t := buildPlainBKW2Table(q)
	tables[q] = t
	return t
}

// FreePlainBKW2Tables drops the process-wide table cache, forcing a
// rebuild on next use (called when q changes, e.g. after mod-2
// projection switches the live modulus).
func FreePlainBKW2Tables() {
	tableMu.Lock()
	defer tableMu.Unlock()
	tables = map[int]*plainBKW2Table{}
}

func buildPlainBKW2Table(q int) *plainBKW2Table {
	t := &plainBKW2Table{
		q:   q,
		fwd: make([]uint64, q*q),
		inv: make([][2]int16, q*q),
	}
	assigned := make([]bool, q*q)
	var next uint64
	for p0 := 0; p0 < q; p0++ {
		for p1 := 0; p1 < q; p1++ {
			key := p0*q + p1
			if assigned[key] {
				continue
			}
			neg0, neg1 := (q-p0)%q, (q-p1)%q
			negKey := neg0*q + neg1
			if negKey == key {
				t.fwd[key] = next
				t.inv[next] = [2]int16{int16(p0), int16(p1)}
				assigned[key] = true
				next++
				continue
			}
			t.fwd[key] = next
			t.inv[next] = [2]int16{int16(p0), int16(p1)}
			t.fwd[negKey] = next + 1
			t.inv[next+1] = [2]int16{int16(neg0), int16(neg1)}
			assigned[key] = true
			assigned[negKey] = true
			next += 2
		}
	}
	return t
}

func categoryIndexPlainBKW(q int, block []int16) uint64 {
	switch len(block) {
	case 2:
		return positionValues2CategoryIndexPlainBKW2(q, block[0], block[1])
	case 3:
		// The two-position scheme handles the first two coordinates;
		// the third is cancelled at combination time via sub-bucketing
		// (see transition.subBucketScheme), not folded into the
		// category index itself.
		return positionValues2CategoryIndexPlainBKW2(q, block[0], block[1])
	default:
		panic("category: plainBKW supports 2 or 3 positions")
	}
}

func positionValues2CategoryIndexPlainBKW2(q int, p0, p1 int16) uint64 {
	t := table(q)
	return t.fwd[int(p0)*q+int(p1)]
}

// CategoryIndexToPositionValuesPlainBKW2 inverts
// positionValues2CategoryIndexPlainBKW2, used by invariant tests and by
// diagnostics.
func CategoryIndexToPositionValuesPlainBKW2(q int, idx uint64) (int16, int16) {
	t := table(q)
	v := t.inv[idx]
	return v[0], v[1]
}

func numCategoriesPlainBKW(q, numPositions int) uint64 {
	switch numPositions {
	case 2, 3:
		t := table(q)
		return uint64(len(t.inv))
	default:
		panic("category: plainBKW supports 2 or 3 positions")
	}
}

func isSingletonPlainBKW(q, numPositions int, categoryIndex uint64) bool {
	p0, p1 := CategoryIndexToPositionValuesPlainBKW2(q, categoryIndex)
	neg0, neg1 := int16((q-int(p0))%q), int16((q-int(p1))%q)
	return p0 == neg0 && p1 == neg1
}
