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

package category_test

import (
	"math/rand"
	"testing"
	"testing/quick"

	"github.com/fbbl-go/fbbl/category"
	"github.com/fbbl-go/fbbl/lwe"
)

const testQ = 23

func plainBKW2Params() category.StepParameters {
	return category.StepParameters{Sorting: category.PlainBKW, NumPositions: 2}
}

// TestPlainBKW2IndexRoundTrip exhaustively checks that every (p0,p1) in
// Z_q^2 round-trips through its category index exactly.
func TestPlainBKW2IndexRoundTrip(t *testing.T) {
	inst := &lwe.Instance{N: 2, Q: testQ}
	p := plainBKW2Params()
	for p0 := 0; p0 < testQ; p0++ {
		for p1 := 0; p1 < testQ; p1++ {
			idx := category.CategoryIndexFromPartial(inst, []int16{int16(p0), int16(p1)}, p)
			gotP0, gotP1 := category.CategoryIndexToPositionValuesPlainBKW2(testQ, idx)
			if int(gotP0) != p0 || int(gotP1) != p1 {
				t.Fatalf("round trip mismatch for (%d,%d): got (%d,%d) via index %d", p0, p1, gotP0, gotP1, idx)
			}
		}
	}
}

// TestPlainBKW2IndexRoundTripQuick repeats the round trip against many
// random tuples via testing/quick, matching the utilities coverage a
// full pipeline run's string-descriptor and index round trips rely on.
func TestPlainBKW2IndexRoundTripQuick(t *testing.T) {
	inst := &lwe.Instance{N: 2, Q: testQ}
	p := plainBKW2Params()
	f := func(seed int32) bool {
		r := rand.New(rand.NewSource(int64(seed)))
		p0, p1 := r.Intn(testQ), r.Intn(testQ)
		idx := category.CategoryIndexFromPartial(inst, []int16{int16(p0), int16(p1)}, p)
		gotP0, gotP1 := category.CategoryIndexToPositionValuesPlainBKW2(testQ, idx)
		return int(gotP0) == p0 && int(gotP1) == p1
	}
	if err := quick.Check(f, &quick.Config{MaxCount: 1000}); err != nil {
		t.Fatal(err)
	}
}

// TestPlainBKW2AdditiveInverseAdjacency checks that a tuple and its
// additive inverse always land at adjacent compact indices, equal only
// when the tuple is its own inverse.
func TestPlainBKW2AdditiveInverseAdjacency(t *testing.T) {
	inst := &lwe.Instance{N: 2, Q: testQ}
	p := plainBKW2Params()
	for p0 := 0; p0 < testQ; p0++ {
		for p1 := 0; p1 < testQ; p1++ {
			idx := category.CategoryIndexFromPartial(inst, []int16{int16(p0), int16(p1)}, p)
			neg0, neg1 := (testQ-p0)%testQ, (testQ-p1)%testQ
			negIdx := category.CategoryIndexFromPartial(inst, []int16{int16(neg0), int16(neg1)}, p)
			diff := int64(idx) - int64(negIdx)
			if diff < 0 {
				diff = -diff
			}
			if p0 == 0 && p1 == 0 {
				if diff != 0 {
					t.Fatalf("self-inverse tuple (0,0): expected equal indices, got %d and %d", idx, negIdx)
				}
				continue
			}
			if diff != 1 {
				t.Fatalf("tuple (%d,%d) and its inverse (%d,%d): expected adjacent indices, got %d and %d", p0, p1, neg0, neg1, idx, negIdx)
			}
		}
	}
}

// TestNumCategoriesPlainBKW2 is a sanity cross-check against the
// exhaustive enumeration above.
func TestNumCategoriesPlainBKW2(t *testing.T) {
	inst := &lwe.Instance{N: 2, Q: testQ}
	p := plainBKW2Params()
	got := category.NumCategories(inst, p)
	want := uint64(testQ * testQ)
	if got != want {
		t.Fatalf("NumCategories = %d, want %d", got, want)
	}
}

// TestStepParametersStringRoundTrip checks that String/ParseStepParameters
// agree for every sorting mode's descriptor grammar.
func TestStepParametersStringRoundTrip(t *testing.T) {
	cases := []category.StepParameters{
		{Sorting: category.PlainBKW, StartIndex: 2, NumPositions: 2, Selection: category.LF1},
		{Sorting: category.LMS, StartIndex: 0, NumPositions: 4, Selection: category.LF2, Precision: 22},
		{Sorting: category.SmoothLMS, StartIndex: 0, NumPositions: 3, Selection: category.LF2, Precision: 8, Precision1: 21, MetaSkipped: 1, PrevP1: 21},
		{Sorting: category.CodedBKW, StartIndex: 0, NumPositions: 2, Selection: category.LF1, CodedVariant: category.Coded21},
		{Sorting: category.CodedBKW, StartIndex: 0, NumPositions: 4, Selection: category.LF1, CodedVariant: category.CodedConcat2121},
		{Sorting: category.PlainBKW, StartIndex: 0, NumPositions: 3, Selection: category.LF2, UnnaturalSelectionTs: 1.5, UnnaturalSelectionStart: 1, NumSelectionPositions: 2},
	}
	for _, want := range cases {
		s := want.String()
		got, err := category.ParseStepParameters(s)
		if err != nil {
			t.Fatalf("ParseStepParameters(%q): %v", s, err)
		}
		if got != want {
			t.Fatalf("round trip mismatch for %q: got %+v, want %+v", s, got, want)
		}
	}
}
