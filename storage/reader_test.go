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

package storage_test

import (
	"path/filepath"
	"testing"

	"github.com/fbbl-go/fbbl/category"
	"github.com/fbbl-go/fbbl/lwe"
	"github.com/fbbl-go/fbbl/storage"
	"github.com/fbbl-go/fbbl/store"
)

// TestReaderEmitsEverySampleUnderItsPredictedCategory checks invariant 3:
// a sample written under its computed category index is read back, after
// sealing, from exactly the adjacent-pair slot the reader's own category
// cursor (paired via category.IsSingleton) predicts for it.
func TestReaderEmitsEverySampleUnderItsPredictedCategory(t *testing.T) {
	const n, q = 2, 5
	inst, err := lwe.NewInstance(n, q, 0.01)
	if err != nil {
		t.Fatalf("NewInstance: %v", err)
	}
	step := category.StepParameters{Sorting: category.PlainBKW, NumPositions: 2}
	numCategories := category.NumCategories(inst, step)

	dir := filepath.Join(t.TempDir(), "store")
	w, err := storage.NewWriter(dir, inst, step, numCategories, 8, 8)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	rnd := lwe.RandContext{}
	if err := rnd.Seed(); err != nil {
		t.Fatalf("seeding random context: %v", err)
	}

	const numSamples = 60
	inserted := 0
	for inserted < numSamples {
		var s lwe.Sample
		for i := 0; i < n; i++ {
			s.A[i] = int16(rnd.Intn(q))
		}
		s.Hash = lwe.ColumnHash(s.A[:n], n)
		if s.IsZeroColumn(n) {
			continue
		}
		idx := category.CategoryIndex(inst, &s, step)
		status := w.AddSample(idx, s)
		if status != storage.Added && status != storage.AddedCacheRowFull {
			continue
		}
		inserted++
	}
	if err := w.Free(); err != nil {
		t.Fatalf("Free: %v", err)
	}

	st, err := store.Open(dir)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	r, err := storage.NewReader(st)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	var cat uint64
	var seen int
	for {
		pair, ok, err := r.NextAdjacentCategoryPair()
		if err != nil {
			t.Fatalf("NextAdjacentCategoryPair: %v", err)
		}
		if !ok {
			break
		}
		thisCat := cat
		if category.IsSingleton(inst, step, thisCat, numCategories) {
			if pair.Cat2 != nil {
				t.Fatalf("category %d: expected a singleton (nil Cat2), got a pair", thisCat)
			}
			cat++
		} else {
			cat += 2
		}
		for _, s := range pair.Cat1 {
			if got := category.CategoryIndex(inst, &s, step); got != thisCat {
				t.Fatalf("sample in Cat1 of category %d actually belongs to category %d", thisCat, got)
			}
			seen++
		}
		for _, s := range pair.Cat2 {
			if got := category.CategoryIndex(inst, &s, step); got != thisCat+1 {
				t.Fatalf("sample in Cat2 of category %d actually belongs to category %d", thisCat+1, got)
			}
			seen++
		}
	}
	if seen != inserted {
		t.Fatalf("reader emitted %d samples, want %d (every inserted sample exactly once)", seen, inserted)
	}
}
