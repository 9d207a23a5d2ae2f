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

import "sync"

// ArithTables holds the process-wide sum/diff mod-q lookup tables shared
// by every sample-combination hot loop. Rebuilding is only necessary when
// q changes, which happens at most once per pipeline stage transition
// (mod-2 projection), so tables are cached by modulus.
type ArithTables struct {
	Q    int
	Sum  [][]int16
	Diff [][]int16
}

var (
	tableMu    sync.Mutex
	cachedQ    = -1
	cachedSum  [][]int16
	cachedDiff [][]int16
)

// Tables returns the shared arithmetic tables for modulus q, building
// them on first use for that modulus and discarding any tables for a
// different modulus (the pipeline only ever has one modulus live at a
// time, except transiently around mod-2 projection, which asks for q=2
// explicitly once it no longer needs the old tables).
func Tables(q int) *ArithTables {
	tableMu.Lock()
	defer tableMu.Unlock()
	if q != cachedQ {
		cachedSum = make([][]int16, q)
		cachedDiff = make([][]int16, q)
		for i := 0; i < q; i++ {
			cachedSum[i] = make([]int16, q)
			cachedDiff[i] = make([]int16, q)
			for j := 0; j < q; j++ {
				cachedSum[i][j] = int16((i + j) % q)
				cachedDiff[i][j] = int16(((i - j) % q + q) % q)
			}
		}
		cachedQ = q
	}
	return &ArithTables{Q: q, Sum: cachedSum, Diff: cachedDiff}
}

// Free drops the process-wide cache, forcing the next Tables call to
// rebuild. Used by tests and by the driver at the very end of a run.
func Free() {
	tableMu.Lock()
	defer tableMu.Unlock()
	cachedQ = -1
	cachedSum = nil
	cachedDiff = nil
}

func (t *ArithTables) AddMod(a, b int16) int16 { return t.Sum[a][b] }
func (t *ArithTables) SubMod(a, b int16) int16 { return t.Diff[a][b] }
