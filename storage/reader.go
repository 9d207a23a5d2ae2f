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

// Package storage implements the streaming storage reader and the
// cache-backed storage writer over a sorted sample store.
package storage

import (
	"fmt"
	"io"
	"os"

	"github.com/fbbl-go/fbbl/category"
	"github.com/fbbl-go/fbbl/lwe"
	"github.com/fbbl-go/fbbl/store"
)

// approxReaderBufferBytes is the ~250 MiB streaming-read budget named in
// spec.md 4.4.
const approxReaderBufferBytes = 250 << 20

// CategoryPair is the result of one nextAdjacentCategoryPair call: the
// occupied prefixes of one or two adjacent categories, already sliced to
// their live sample counts (never the unused tail of a category's
// capacity).
type CategoryPair struct {
	Cat1 []lwe.Sample
	Cat2 []lwe.Sample // nil when Cat1's category is a singleton
}

// Reader streams adjacent category pairs out of a sealed sorted store.
type Reader struct {
	st               *store.Store
	step             category.StepParameters
	numCategories    uint64
	categoryCapacity uint64
	perCategory      []uint64

	f   *os.File
	buf []lwe.Sample // bufCategories * categoryCapacity samples

	bufCategories       uint64
	indexOfFirstInBuf   uint64
	numCategoriesInBuf  uint64
	currentCategory     uint64

	minibuf []lwe.Sample // one category's worth, for boundary-straddling pairs
}

// NewReader opens a sealed sorted store for streaming reads.
func NewReader(st *store.Store) (*Reader, error) {
	if !st.Info.Sorted {
		return nil, fmt.Errorf("storage: %s is not a sorted store", st.Dir)
	}
	f, err := os.Open(st.DataPath())
	if err != nil {
		return nil, fmt.Errorf("storage: opening samples.dat: %w", err)
	}
	categorySizeBytes := st.Info.CategoryCapacity * lwe.RecordSize
	bufCategories := uint64(approxReaderBufferBytes) / categorySizeBytes
	if bufCategories < 3 {
		bufCategories = 3
	}
	r := &Reader{
		st:               st,
		step:             st.Info.Step,
		numCategories:    st.Info.NumCategories,
		categoryCapacity: st.Info.CategoryCapacity,
		perCategory:      st.Info.PerCategory,
		f:                f,
		bufCategories:    bufCategories,
		buf:              make([]lwe.Sample, bufCategories*st.Info.CategoryCapacity),
		minibuf:          make([]lwe.Sample, st.Info.CategoryCapacity),
	}
	return r, nil
}

// Close releases the reader's file handle.
func (r *Reader) Close() error { return r.f.Close() }

func (r *Reader) fillBuf() (uint64, error) {
	raw := make([]byte, r.bufCategories*r.categoryCapacity*lwe.RecordSize)
	n, err := io.ReadFull(r.f, raw)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return 0, fmt.Errorf("storage: reading samples.dat: %w", err)
	}
	numSamples := uint64(n) / lwe.RecordSize
	numCategoriesRead := numSamples / r.categoryCapacity
	for i := uint64(0); i < numCategoriesRead*r.categoryCapacity; i++ {
		r.buf[i].Decode(raw[i*lwe.RecordSize : (i+1)*lwe.RecordSize])
	}
	if r.numCategoriesInBuf > 0 {
		r.indexOfFirstInBuf += r.numCategoriesInBuf
	}
	r.numCategoriesInBuf = numCategoriesRead
	return numCategoriesRead, nil
}

func (r *Reader) categorySlice(bufIndex uint64) []lwe.Sample {
	off := bufIndex * r.categoryCapacity
	return r.buf[off : off+r.categoryCapacity]
}

// NextAdjacentCategoryPair returns the next pair of adjacent categories
// (or a single category, if it is a singleton under the store's sorting
// mode), advancing the logical cursor by 1 or 2. It returns (nil, false)
// once every category has been consumed.
func (r *Reader) NextAdjacentCategoryPair() (CategoryPair, bool, error) {
	if r.currentCategory >= r.numCategories {
		return CategoryPair{}, false, nil
	}
	firstRead := r.numCategoriesInBuf == 0
	exhausted := r.currentCategory >= r.indexOfFirstInBuf+r.numCategoriesInBuf
	if firstRead || exhausted {
		n, err := r.fillBuf()
		if err != nil {
			return CategoryPair{}, false, err
		}
		if n == 0 {
			return CategoryPair{}, false, nil
		}
	}

	if category.IsSingleton(r.st.Inst, r.step, r.currentCategory, r.numCategories) {
		off := r.currentCategory - r.indexOfFirstInBuf
		n := r.perCategory[r.currentCategory]
		pair := CategoryPair{Cat1: r.categorySlice(off)[:n]}
		r.currentCategory++
		return pair, true, nil
	}

	available := r.indexOfFirstInBuf + r.numCategoriesInBuf - r.currentCategory
	off := r.currentCategory - r.indexOfFirstInBuf
	var cat1, cat2 []lwe.Sample
	if available >= 2 {
		cat1 = r.categorySlice(off)
		cat2 = r.categorySlice(off + 1)
	} else {
		// the pair straddles the buffer boundary: stash category k in
		// the scratch minibuf so it stays valid across the refill that
		// is needed to obtain category k+1.
		copy(r.minibuf, r.categorySlice(off))
		n, err := r.fillBuf()
		if err != nil {
			return CategoryPair{}, false, err
		}
		if n == 0 {
			return CategoryPair{}, false, fmt.Errorf("storage: expected category %d after boundary straddle", r.currentCategory+1)
		}
		cat1 = r.minibuf
		cat2 = r.categorySlice(r.currentCategory + 1 - r.indexOfFirstInBuf)
	}
	n1 := r.perCategory[r.currentCategory]
	n2 := r.perCategory[r.currentCategory+1]
	pair := CategoryPair{Cat1: cat1[:n1], Cat2: cat2[:n2]}
	r.currentCategory += 2
	return pair, true, nil
}
