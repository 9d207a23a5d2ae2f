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

package lwe_test

import (
	"testing"

	"github.com/fbbl-go/fbbl/lwe"
)

// TestEncodeDecodeRoundTrip checks the fixed on-disk record layout
// round-trips every field exactly.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	var s lwe.Sample
	for i := 0; i < lwe.MaxN; i++ {
		s.A[i] = int16(i*7 - 50)
	}
	s.Hash = 0xdeadbeefcafef00d
	s.Error = -1
	s.SumWithError = 1234

	buf := make([]byte, lwe.RecordSize)
	s.Encode(buf)

	var got lwe.Sample
	got.Decode(buf)

	if got != s {
		t.Fatalf("decode mismatch: got %+v, want %+v", got, s)
	}
}

// TestIsZeroColumn checks that an all-zero active prefix is recognized
// regardless of what garbage sits in the unused tail, and that any
// nonzero active coordinate disqualifies it (invariant 1).
func TestIsZeroColumn(t *testing.T) {
	var s lwe.Sample
	s.A[3] = 9 // outside the active window
	if !s.IsZeroColumn(3) {
		t.Fatalf("expected zero column over active prefix n=3")
	}
	if s.IsZeroColumn(4) {
		t.Fatalf("expected non-zero column once A[3] is active")
	}

	var nz lwe.Sample
	nz.A[0] = 1
	nz.Hash = lwe.ColumnHash(nz.A[:], 4)
	if nz.IsZeroColumn(4) {
		t.Fatalf("expected non-zero column for a sample with a nonzero active coordinate")
	}
}

// TestColumnHashZeroColumn checks the invariant IsZeroColumn's hash
// pre-check relies on: an all-zero active column always hashes to zero.
func TestColumnHashZeroColumn(t *testing.T) {
	a := make([]int16, 10)
	if h := lwe.ColumnHash(a, len(a)); h != 0 {
		t.Fatalf("ColumnHash of an all-zero column = %d, want 0", h)
	}
	a[5] = 1
	if h := lwe.ColumnHash(a, len(a)); h == 0 {
		t.Fatalf("ColumnHash of a nonzero column must not be 0")
	}
}

// TestNewRandomSampleSatisfiesSumWithErrorInvariant checks invariant 2:
// every freshly drawn sample satisfies <a,s>+e = sum_with_error (mod q).
func TestNewRandomSampleSatisfiesSumWithErrorInvariant(t *testing.T) {
	inst, err := lwe.NewInstance(8, 101, 0.01)
	if err != nil {
		t.Fatalf("NewInstance: %v", err)
	}
	for i := 0; i < 200; i++ {
		s := inst.NewRandomSample()
		if !inst.SumWithErrorInvariant(s) {
			t.Fatalf("sample %d violates the sum-with-error invariant: %+v", i, s)
		}
	}
}
