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

package storage

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fbbl-go/fbbl/category"
	"github.com/fbbl-go/fbbl/lwe"
	"github.com/fbbl-go/fbbl/store"
)

// AddStatus is the outcome of a Writer.AddSample call, matching the four
// status codes named in spec.md 4.5.
type AddStatus int

const (
	// Added: room remained in both cache and file.
	Added AddStatus = iota
	// AddedCacheRowFull: added, but this filled the category's cache row.
	AddedCacheRowFull
	// DiscardedCacheFull: cache row full but the file still has room;
	// the caller should Flush to unblock this category.
	DiscardedCacheFull
	// DiscardedCategoryFull: the category is full on file; the sample
	// is permanently discarded.
	DiscardedCategoryFull
)

// flushChunkBytes bounds the size of one super-chunk read-modify
// -write pass over the destination file, matching the "hundreds of MiB
// at a time" granularity named in spec.md 4.5.
const flushChunkBytes = 256 << 20

// MinFlushLoadPercent and EarlyAbortLoadPercent implement the
// backpressure policy of spec.md 4.5.
const (
	MinFlushLoadPercent   = 25.0
	EarlyAbortLoadPercent = 99.0
)

// Writer is the cache-backed sorted-store writer: samples are inserted
// into a RAM-resident cache keyed by destination category, and
// periodically flushed into the pre-extended destination file.
type Writer struct {
	st               *store.Store
	numCategories    uint64
	categoryCapBuf   uint64
	categoryCapFile  uint64

	mu sync.Mutex // guards the fields below; see Pool for a sharded alternative

	cache       [][]lwe.Sample // [category][slot], len(cache[c]) tracks occupancy
	numFile     []uint64       // per-category occupancy already committed to file

	totalProcessed uint64
	totalInCache   uint64
	totalAdded     uint64
	totalOnFile    uint64

	f *os.File
}

// NewWriter creates a new sorted destination store (with inst as its
// LWE instance and step as its destination category scheme) and its
// writer. dir must not already exist; ErrAlreadyExists is returned (and
// the step should be treated as skipped, status 100) if it does.
func NewWriter(dir string, inst *lwe.Instance, step category.StepParameters, numCategories, categoryCapacityFile uint64, cacheBudgetSamplesPerCategory uint64) (*Writer, error) {
	dst, err := store.CreateSorted(dir, inst, step, numCategories, categoryCapacityFile)
	if err != nil {
		return nil, err
	}
	capBuf := cacheBudgetSamplesPerCategory
	if capBuf > categoryCapacityFile {
		capBuf = categoryCapacityFile
	}
	if capBuf < 1 {
		capBuf = 1
	}
	f, err := os.OpenFile(dst.DataPath(), os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("storage: opening destination samples.dat: %w", err)
	}
	w := &Writer{
		st:              dst,
		numCategories:   numCategories,
		categoryCapBuf:  capBuf,
		categoryCapFile: categoryCapacityFile,
		cache:           make([][]lwe.Sample, numCategories),
		numFile:         make([]uint64, numCategories),
		f:               f,
	}
	for i := range w.cache {
		w.cache[i] = make([]lwe.Sample, 0, capBuf)
	}
	return w, nil
}

// HasRoom reports the AddStatus that AddSample would return for
// categoryIndex without mutating any state, matching
// storageWriterHasRoom.
func (w *Writer) HasRoom(categoryIndex uint64) AddStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.hasRoomLocked(categoryIndex)
}

func (w *Writer) hasRoomLocked(categoryIndex uint64) AddStatus {
	inCache := uint64(len(w.cache[categoryIndex]))
	onFile := w.numFile[categoryIndex]
	if inCache+onFile < w.categoryCapFile {
		switch {
		case inCache < w.categoryCapBuf-1:
			return Added
		case inCache == w.categoryCapBuf-1:
			return AddedCacheRowFull
		default:
			return DiscardedCacheFull
		}
	}
	return DiscardedCategoryFull
}

// AddSample inserts sample into categoryIndex's cache row if there is
// room and returns the status. A caller that needs to roll back a
// spurious insertion (e.g. a zero-column cancellation) calls
// UndoAddSample(categoryIndex). On DiscardedCacheFull/
// DiscardedCategoryFull no slot is reserved.
func (w *Writer) AddSample(categoryIndex uint64, sample lwe.Sample) AddStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.totalProcessed++
	status := w.hasRoomLocked(categoryIndex)
	if status == Added || status == AddedCacheRowFull {
		w.cache[categoryIndex] = append(w.cache[categoryIndex], sample)
		w.totalInCache++
		w.totalAdded++
	}
	return status
}

// UndoAddSample rolls back the most recent successful insertion into
// categoryIndex, used when a combined sample turns out to be an
// all-zero column (spec.md 4.8, Zero-column suppression).
func (w *Writer) UndoAddSample(categoryIndex uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	row := w.cache[categoryIndex]
	w.cache[categoryIndex] = row[:len(row)-1]
	w.totalInCache--
	w.totalAdded--
}

// LoadPercentCache is the cache-fill fraction driving the flush
// backpressure policy (spec.md 4.5).
func (w *Writer) LoadPercentCache() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return 100 * float64(w.totalInCache) / float64(w.categoryCapBuf*w.numCategories)
}

// LoadPercentGlobal is the store-wide fill fraction driving the
// early-abort policy (spec.md 4.5): total samples ever accepted (cache
// or file) over total capacity.
func (w *Writer) LoadPercentGlobal() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return 100 * float64(w.totalInCache+w.totalOnFile) / float64(w.categoryCapFile*w.numCategories)
}

// Flush walks the destination file in super-chunks, appending each
// category's cached rows (clipped to remaining file capacity) and
// writing the chunk back in place, then empties the cache and rewrites
// samples_info.txt with the updated file occupancy.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.totalInCache == 0 {
		return nil
	}

	recordSize := int64(lwe.RecordSize)
	categoryBytes := recordSize * int64(w.categoryCapFile)
	categoriesPerChunk := flushChunkBytes / categoryBytes
	if categoriesPerChunk < 1 {
		categoriesPerChunk = 1
	}

	chunkSamples := categoriesPerChunk * int64(w.categoryCapFile)
	raw := make([]byte, chunkSamples*recordSize)

	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("storage: seeking to flush: %w", err)
	}

	var cat uint64
	for cat < w.numCategories {
		n, err := io.ReadFull(w.f, raw)
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			return fmt.Errorf("storage: reading chunk during flush: %w", err)
		}
		readCategories := int64(n) / categoryBytes
		if readCategories == 0 {
			break
		}

		for i := int64(0); i < readCategories; i++ {
			c := cat + uint64(i)
			row := w.cache[c]
			toCopy := uint64(len(row))
			if toCopy+w.numFile[c] > w.categoryCapFile {
				toCopy = w.categoryCapFile - w.numFile[c]
			}
			base := i * int64(w.categoryCapFile)
			for j := uint64(0); j < toCopy; j++ {
				off := (base + int64(w.numFile[c]) + int64(j)) * recordSize
				row[j].Encode(raw[off : off+recordSize])
			}
			w.totalInCache -= uint64(len(row))
			w.cache[c] = row[:0]
			w.numFile[c] += toCopy
			w.totalOnFile += toCopy
		}

		if _, err := w.f.Seek(-int64(n), io.SeekCurrent); err != nil {
			return fmt.Errorf("storage: seeking back for chunk rewrite: %w", err)
		}
		if _, err := w.f.Write(raw[:n]); err != nil {
			return fmt.Errorf("storage: writing chunk during flush: %w", err)
		}
		cat += uint64(readCategories)
	}

	w.st.Info.TotalStored = w.totalOnFile
	w.st.Info.PerCategory = append([]uint64(nil), w.numFile...)
	return w.st.Seal()
}

// Free flushes any remaining cached samples and closes the destination
// file.
func (w *Writer) Free() error {
	if err := w.Flush(); err != nil {
		return err
	}
	return w.f.Close()
}
