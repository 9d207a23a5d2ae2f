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
	"bufio"
	"os"

	"github.com/fbbl-go/fbbl/category"
	"github.com/fbbl-go/fbbl/lwe"
	"github.com/fbbl-go/fbbl/storage"
	"github.com/fbbl-go/fbbl/store"
)

// FinalStep is the same combination machinery as BKWStep, but it
// appends combined samples to a plain unsorted store instead of sorting
// them by a destination category (spec.md 4.9, "final variant"): there
// is no destination step and no category writer, just a flat samples
// file. srcStep.MetaSkipped still drives the smoothLMS meta-category
// sub-bucketing named in the Open Questions section as the
// meta_skipped variant of the final step.
func FinalStep(src *store.Store, dstDir string, srcStep category.StepParameters, maxPerPairLF2 int) (*store.Store, error) {
	if maxPerPairLF2 <= 0 {
		maxPerPairLF2 = defaultMaxSamplesPerCategoryLF2
	}

	dst, err := store.CreateUnsorted(dstDir, src.Inst)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(dst.DataPath(), os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	bw := bufio.NewWriter(f)

	r, err := storage.NewReader(src)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	n := src.Inst.N
	q := src.Inst.Q
	tables := lwe.Tables(q)
	scheme := subBucketScheme(srcStep, q)

	buf := make([]byte, lwe.RecordSize)
	var count uint64
	emit := func(s lwe.Sample) error {
		if s.IsZeroColumn(n) {
			return nil
		}
		if unnaturalSelectionReject(&s, srcStep, q) {
			return nil
		}
		s.Encode(buf)
		if _, err := bw.Write(buf); err != nil {
			return err
		}
		count++
		return nil
	}

	for {
		pair, ok, err := r.NextAdjacentCategoryPair()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		b1 := splitBucket(pair.Cat1, scheme.key)
		b2 := splitBucket(pair.Cat2, scheme.key)
		if srcStep.Selection == category.LF1 {
			if err := combineLF1(b1, b2, scheme, n, tables, emit); err != nil {
				return nil, err
			}
		} else {
			if err := combineLF2(b1, b2, scheme, n, tables, maxPerPairLF2, emit); err != nil {
				return nil, err
			}
		}
	}

	if err := bw.Flush(); err != nil {
		return nil, err
	}
	return sealFlatAsFinal(dst, count)
}

// sealFlatAsFinal marks a flat samples.dat (written contiguously, with
// no per-category padding) as a sorted store with a single category of
// count samples, so storage.NewReader can stream it back for solving
// without FinalStep having to go through a category writer.
func sealFlatAsFinal(dst *store.Store, count uint64) (*store.Store, error) {
	dst.Info = store.Info{
		Sorted:           true,
		Step:             category.StepParameters{Sorting: category.Final},
		NumCategories:    1,
		CategoryCapacity: count,
		TotalStored:      count,
		PerCategory:      []uint64{count},
	}
	if err := dst.Seal(); err != nil {
		return nil, err
	}
	return store.Open(dst.Dir)
}
