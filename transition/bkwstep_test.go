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

package transition

import (
	"testing"

	"github.com/fbbl-go/fbbl/category"
	"github.com/fbbl-go/fbbl/lwe"
)

// TestCombineCategoryLaw checks invariant 8: combining two samples by
// subtraction over the active coordinates lands the result's category
// under the destination scheme at the index that manually recomputing
// (a1-a2 mod q) per coordinate, independently of combine's AddMod/SubMod
// table lookups, would predict.
func TestCombineCategoryLaw(t *testing.T) {
	const n, q = 6, 101
	tables := lwe.Tables(q)
	inst := &lwe.Instance{N: n, Q: q}

	dstSteps := []category.StepParameters{
		{Sorting: category.PlainBKW, StartIndex: 0, NumPositions: 2},
		{Sorting: category.LMS, StartIndex: 0, NumPositions: 3, Precision: 22},
		{Sorting: category.CodedBKW, StartIndex: 0, NumPositions: 2, CodedVariant: category.Coded21},
	}

	rnd := lwe.RandContext{}
	if err := rnd.Seed(); err != nil {
		t.Fatalf("seeding random context: %v", err)
	}

	for _, dst := range dstSteps {
		for trial := 0; trial < 50; trial++ {
			var a1, a2 lwe.Sample
			for i := 0; i < n; i++ {
				a1.A[i] = int16(rnd.Intn(q))
				a2.A[i] = int16(rnd.Intn(q))
			}
			a1.Hash = lwe.ColumnHash(a1.A[:n], n)
			a2.Hash = lwe.ColumnHash(a2.A[:n], n)

			out := combine(&a1, &a2, -1, n, tables)

			manual := make([]int16, n)
			for i := 0; i < n; i++ {
				manual[i] = int16(((int(a1.A[i]) - int(a2.A[i])) % q + q) % q)
			}
			for i := 0; i < n; i++ {
				if out.A[i] != manual[i] {
					t.Fatalf("%s: combine coordinate %d = %d, want %d", dst.Sorting, i, out.A[i], manual[i])
				}
			}

			wantIdx := category.CategoryIndexFromPartial(inst, manual, dst)
			gotIdx := category.CategoryIndex(inst, &out, dst)
			if gotIdx != wantIdx {
				t.Fatalf("%s: combine's category index = %d, want %d (manual subtraction)", dst.Sorting, gotIdx, wantIdx)
			}
		}
	}
}
