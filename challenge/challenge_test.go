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

package challenge

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fbbl-go/fbbl/lwe"
)

const testChallenge = `4
3
23
0.05
[1 2 3]
[[1 2 3 4] [5 6 7 8] [9 10 11 12]]
`

func TestParseHeaderAndBody(t *testing.T) {
	p, err := Parse(strings.NewReader(testChallenge))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Header.N != 4 || p.Header.NumSamples != 3 || p.Header.Q != 23 || p.Header.Alpha != 0.05 {
		t.Fatalf("header = %+v, want {4 3 23 0.05}", p.Header)
	}
	if got, want := p.B, []int64{1, 2, 3}; !int64SliceEqual(got, want) {
		t.Fatalf("B = %v, want %v", got, want)
	}
	wantA := [][]int64{{1, 2, 3, 4}, {5, 6, 7, 8}, {9, 10, 11, 12}}
	if len(p.A) != len(wantA) {
		t.Fatalf("A has %d rows, want %d", len(p.A), len(wantA))
	}
	for i := range wantA {
		if !int64SliceEqual(p.A[i], wantA[i]) {
			t.Fatalf("A[%d] = %v, want %v", i, p.A[i], wantA[i])
		}
	}
}

func TestParseRejectsSampleCountMismatch(t *testing.T) {
	bad := "4\n5\n23\n0.05\n[1 2 3]\n[[1 2 3 4] [5 6 7 8] [9 10 11 12]]\n"
	if _, err := Parse(strings.NewReader(bad)); err == nil {
		t.Fatalf("expected an error when the header's numSamples disagrees with the parsed rows")
	}
}

// TestToSamplesReducesModQAndMarksErrorUnknown checks that ToSamples
// reduces every coordinate into [0,q) and that the error term, being
// unrecoverable from an external b-only challenge, is left unknown.
func TestToSamplesReducesModQAndMarksErrorUnknown(t *testing.T) {
	p := &Parsed{
		Header: Header{N: 3, NumSamples: 2, Q: 5, Alpha: 0.1},
		B:      []int64{-1, 7},
		A:      [][]int64{{-2, 0, 6}, {5, 5, 5}},
	}
	samples := p.ToSamples()
	if len(samples) != 2 {
		t.Fatalf("len(samples) = %d, want 2", len(samples))
	}
	want0 := [3]int16{3, 0, 1} // -2 mod 5, 0 mod 5, 6 mod 5
	for i, v := range want0 {
		if samples[0].A[i] != v {
			t.Fatalf("samples[0].A[%d] = %d, want %d", i, samples[0].A[i], v)
		}
	}
	if samples[0].SumWithError != 4 { // -1 mod 5
		t.Fatalf("samples[0].SumWithError = %d, want 4", samples[0].SumWithError)
	}
	for i, s := range samples {
		if s.Error != lwe.UnknownError {
			t.Fatalf("samples[%d].Error = %d, want UnknownError", i, s.Error)
		}
		if got := lwe.ColumnHash(s.A[:p.Header.N], p.Header.N); got != s.Hash {
			t.Fatalf("samples[%d].Hash = %d, want ColumnHash = %d", i, s.Hash, got)
		}
	}
}

// TestConvertToStoreAmplifiesToRequestedCount checks that ConvertToStore
// writes exactly totalNumSamples records and opens as an unsorted store
// over the challenge's declared instance parameters. numSamples is set
// to q so Amplify's triple search (bounded to indices < q by its
// recurrence's modulus) always satisfies the m-bound immediately.
func TestConvertToStoreAmplifiesToRequestedCount(t *testing.T) {
	const n, q = 4, 23
	var sb strings.Builder
	sb.WriteString("4\n23\n23\n0.05\n")
	sb.WriteString("[")
	for i := 0; i < q; i++ {
		if i > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString("1")
	}
	sb.WriteString("]\n[")
	for i := 0; i < q; i++ {
		if i > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString("[1 2 3 4]")
	}
	sb.WriteString("]\n")

	p, err := Parse(strings.NewReader(sb.String()))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Header.N != n || p.Header.Q != q {
		t.Fatalf("header = %+v", p.Header)
	}

	rnd := &lwe.RandContext{}
	if err := rnd.Seed(); err != nil {
		t.Fatalf("seeding random context: %v", err)
	}

	dir := filepath.Join(t.TempDir(), "store")
	const total = 30
	st, err := ConvertToStore(p, dir, total, rnd)
	if err != nil {
		t.Fatalf("ConvertToStore: %v", err)
	}
	if st.Inst.N != n || st.Inst.Q != q {
		t.Fatalf("store instance = {N:%d Q:%d}, want {N:%d Q:%d}", st.Inst.N, st.Inst.Q, n, q)
	}

	fi, err := os.Stat(st.DataPath())
	if err != nil {
		t.Fatalf("stat samples.dat: %v", err)
	}
	gotRecords := fi.Size() / lwe.RecordSize
	if gotRecords != total {
		t.Fatalf("samples.dat holds %d records, want %d", gotRecords, total)
	}
}

func int64SliceEqual(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
