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
	"fmt"

	"github.com/fbbl-go/fbbl/category"
	"github.com/fbbl-go/fbbl/lwe"
	"github.com/fbbl-go/fbbl/storage"
	"github.com/fbbl-go/fbbl/store"
)

// defaultMaxSamplesPerCategoryLF2 caps each of the three quadratic LF2
// passes (within Cat1, within Cat2, across) of one category pair so
// early-abort has teeth even on a single huge pair.
const defaultMaxSamplesPerCategoryLF2 = 1 << 16

// BKWStep reads adjacent category pairs from src under srcStep's sorting
// scheme, combines them per srcStep.Selection, and writes the combined
// samples sorted into a new store at dstDir under dstStep. maxPerPairLF2
// caps each of LF2's three pairing passes per category pair, so one pair
// yields at most 3*maxPerPairLF2 combinations (0 selects a built-in
// default).
func BKWStep(src *store.Store, dstDir string, srcStep, dstStep category.StepParameters, dstCategoryCapacity uint64, maxPerPairLF2 int) (*store.Store, error) {
	if maxPerPairLF2 <= 0 {
		maxPerPairLF2 = defaultMaxSamplesPerCategoryLF2
	}

	r, err := storage.NewReader(src)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	numCategories := category.NumCategories(src.Inst, dstStep)
	w, err := storage.NewWriter(dstDir, src.Inst, dstStep, numCategories, dstCategoryCapacity, dstCategoryCapacity)
	if err != nil {
		return nil, err
	}

	n := src.Inst.N
	q := src.Inst.Q
	tables := lwe.Tables(q)
	scheme := subBucketScheme(srcStep, q)

	for {
		pair, ok, err := r.NextAdjacentCategoryPair()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if err := combinePair(pair, scheme, srcStep, dstStep, src.Inst, n, q, tables, w, maxPerPairLF2); err != nil {
			return nil, err
		}
		if w.LoadPercentCache() >= storage.MinFlushLoadPercent {
			if err := w.Flush(); err != nil {
				return nil, err
			}
		}
		if w.LoadPercentGlobal() >= storage.EarlyAbortLoadPercent {
			break
		}
	}

	if err := w.Free(); err != nil {
		return nil, err
	}
	return store.Open(dstDir)
}

// bucketScheme implements the meta-category sub-bucketing of spec.md
// 4.9 steps 4-5: before pairing, a category's samples are split by one
// or two extra coordinate keys so that those coordinates also cancel in
// the combination, not just the ones the sort already grouped on. key
// returns the per-sample bucket key; invert returns the key a
// cross-category (addition) partner bucket must have for that
// coordinate to cancel. A scheme with no extra positions to track
// collapses both categories into bucket 0.
type bucketScheme struct {
	key    func(s *lwe.Sample) int
	invert func(k int) int
}

func noSubBucketing() bucketScheme {
	return bucketScheme{
		key:    func(*lwe.Sample) int { return 0 },
		invert: func(int) int { return 0 },
	}
}

// subBucketScheme picks the meta-category splitting rule implied by
// srcStep: plainBKW with a 3rd position sub-buckets on the raw value of
// that position (spec.md 4.9.4); smoothLMS with meta_skipped sub-buckets
// on the folded bucket index of the one or two trailing positions that
// sorting alone didn't resolve (spec.md 4.9.5). Every other combination
// needs no sub-bucketing: the sort already fully determined the block.
func subBucketScheme(srcStep category.StepParameters, q int) bucketScheme {
	switch {
	case srcStep.Sorting == category.PlainBKW && srcStep.NumPositions == 3:
		pos := srcStep.StartIndex + 2
		return bucketScheme{
			key:    func(s *lwe.Sample) int { return int(s.A[pos]) },
			invert: func(k int) int { return (q - k) % q },
		}
	case srcStep.Sorting == category.SmoothLMS && srcStep.MetaSkipped == 1:
		pos := srcStep.StartIndex + srcStep.NumPositions - 1
		width := srcStep.Precision1
		return bucketScheme{
			key:    func(s *lwe.Sample) int { return foldedBucket(s.A[pos], q, width) },
			invert: func(k int) int { return -k },
		}
	case srcStep.Sorting == category.SmoothLMS && srcStep.MetaSkipped == 2:
		posLast := srcStep.StartIndex + srcStep.NumPositions - 1
		posPrev := posLast - 1
		p1, p := srcStep.Precision1, srcStep.Precision
		return bucketScheme{
			key: func(s *lwe.Sample) int {
				return foldedBucket(s.A[posLast], q, p1)*1000000 + foldedBucket(s.A[posPrev], q, p)
			},
			invert: func(k int) int {
				last := k / 1000000
				prev := k % 1000000
				return (-last)*1000000 + (-prev)
			},
		}
	default:
		return noSubBucketing()
	}
}

// foldedBucket centers v around zero before bucketing by width, so that
// bucket negation (for cross-category cancellation) is a plain integer
// negation.
func foldedBucket(v int16, q, width int) int {
	if width <= 0 {
		width = 1
	}
	iv := int(v)
	if iv > q/2 {
		iv -= q
	}
	if iv >= 0 {
		return (iv + width/2) / width
	}
	return -((-iv + width/2) / width)
}

func combinePair(pair storage.CategoryPair, scheme bucketScheme, srcStep, dstStep category.StepParameters, inst *lwe.Instance, n, q int, tables *lwe.ArithTables, w *storage.Writer, maxPerPairLF2 int) error {
	b1 := splitBucket(pair.Cat1, scheme.key)
	b2 := splitBucket(pair.Cat2, scheme.key)

	emit := func(s lwe.Sample) error { return insertCombined(w, inst, dstStep, srcStep, q, s, n) }

	if srcStep.Selection == category.LF1 {
		return combineLF1(b1, b2, scheme, n, tables, emit)
	}
	return combineLF2(b1, b2, scheme, n, tables, maxPerPairLF2, emit)
}

func splitBucket(samples []lwe.Sample, key func(s *lwe.Sample) int) map[int][]lwe.Sample {
	m := make(map[int][]lwe.Sample)
	for i := range samples {
		k := key(&samples[i])
		m[k] = append(m[k], samples[i])
	}
	return m
}

func combineLF1(b1, b2 map[int][]lwe.Sample, scheme bucketScheme, n int, tables *lwe.ArithTables, emit func(lwe.Sample) error) error {
	for k, rowA := range b1 {
		if len(rowA) == 0 {
			continue
		}
		base := rowA[0]
		for j := 1; j < len(rowA); j++ {
			if err := emit(combine(&base, &rowA[j], -1, n, tables)); err != nil {
				return err
			}
		}
		for _, s := range b2[scheme.invert(k)] {
			if err := emit(combine(&base, &s, +1, n, tables)); err != nil {
				return err
			}
		}
	}
	if len(b1) == 0 {
		for _, rowB := range b2 {
			if len(rowB) == 0 {
				continue
			}
			base := rowB[0]
			for j := 1; j < len(rowB); j++ {
				if err := emit(combine(&base, &rowB[j], -1, n, tables)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func combineLF2(b1, b2 map[int][]lwe.Sample, scheme bucketScheme, n int, tables *lwe.ArithTables, cap int, emit func(lwe.Sample) error) error {
	count := 0
	for _, row := range b1 {
		for i := 0; i < len(row) && count < cap; i++ {
			for j := i + 1; j < len(row) && count < cap; j++ {
				if err := emit(combine(&row[i], &row[j], -1, n, tables)); err != nil {
					return err
				}
				count++
			}
		}
	}
	count = 0
	for _, row := range b2 {
		for i := 0; i < len(row) && count < cap; i++ {
			for j := i + 1; j < len(row) && count < cap; j++ {
				if err := emit(combine(&row[i], &row[j], -1, n, tables)); err != nil {
					return err
				}
				count++
			}
		}
	}
	count = 0
	for k, rowA := range b1 {
		rowB := b2[scheme.invert(k)]
		for i := 0; i < len(rowA) && count < cap; i++ {
			for j := 0; j < len(rowB) && count < cap; j++ {
				if err := emit(combine(&rowA[i], &rowB[j], +1, n, tables)); err != nil {
					return err
				}
				count++
			}
		}
	}
	return nil
}

// combine produces a' = a1 + sign2*a2 (mod the tables' q), propagating
// the error term (UnknownError if either parent's is unknown) and
// sum_with_error identically, then recomputes the hash, per spec.md 4.8.
func combine(a1, a2 *lwe.Sample, sign2 int, n int, tables *lwe.ArithTables) lwe.Sample {
	var out lwe.Sample
	if sign2 > 0 {
		for i := 0; i < n; i++ {
			out.A[i] = tables.AddMod(a1.A[i], a2.A[i])
		}
		out.SumWithError = tables.AddMod(a1.SumWithError, a2.SumWithError)
		if a1.Error >= 0 && a2.Error >= 0 {
			out.Error = tables.AddMod(a1.Error, a2.Error)
		} else {
			out.Error = lwe.UnknownError
		}
	} else {
		for i := 0; i < n; i++ {
			out.A[i] = tables.SubMod(a1.A[i], a2.A[i])
		}
		out.SumWithError = tables.SubMod(a1.SumWithError, a2.SumWithError)
		if a1.Error >= 0 && a2.Error >= 0 {
			out.Error = tables.SubMod(a1.Error, a2.Error)
		} else {
			out.Error = lwe.UnknownError
		}
	}
	out.Hash = lwe.ColumnHash(out.A[:n], n)
	return out
}

// insertCombined applies the unnatural-selection filter, computes the
// destination category, and inserts into w, flushing once and retrying
// if the cache row was full. Zero-column suppression (spec.md 4.8) is
// applied after insertion by rolling the acceptance back via
// w.UndoAddSample, exactly as spec.md 4.5's insertion contract
// describes undoAddSample's one caller: "used when a combined sample
// turns out to be an all-zero column, which is treated as an
// accidental cancellation and not counted".
func insertCombined(w *storage.Writer, inst *lwe.Instance, dstStep, srcStep category.StepParameters, q int, s lwe.Sample, n int) error {
	if unnaturalSelectionReject(&s, srcStep, q) {
		return nil
	}
	idx := category.CategoryIndex(inst, &s, dstStep)
	status := w.AddSample(idx, s)
	if status == storage.DiscardedCacheFull {
		if err := w.Flush(); err != nil {
			return fmt.Errorf("transition: flushing to make room for category %d: %w", idx, err)
		}
		status = w.AddSample(idx, s)
	}
	if (status == storage.Added || status == storage.AddedCacheRowFull) && s.IsZeroColumn(n) {
		w.UndoAddSample(idx)
	}
	return nil
}

// unnaturalSelectionReject implements the quality filter of spec.md 4.8:
// active when srcStep.UnnaturalSelectionTs > 0, it rejects combinations
// whose squared (centered) norm over the selected positions exceeds
// numSelectionPositions * ts^2.
func unnaturalSelectionReject(s *lwe.Sample, srcStep category.StepParameters, q int) bool {
	if srcStep.UnnaturalSelectionTs <= 0 {
		return false
	}
	end := srcStep.StartIndex + srcStep.NumPositions
	sumSq := 0.0
	for i := srcStep.UnnaturalSelectionStart; i < end; i++ {
		v := int(s.A[i])
		if v > q/2 {
			v -= q
		}
		sumSq += float64(v * v)
	}
	limit := float64(srcStep.NumSelectionPositions) * srcStep.UnnaturalSelectionTs * srcStep.UnnaturalSelectionTs
	return sumSq > limit
}
