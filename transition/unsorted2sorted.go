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
	"io"
	"os"

	"github.com/fbbl-go/fbbl/category"
	"github.com/fbbl-go/fbbl/lwe"
	"github.com/fbbl-go/fbbl/storage"
	"github.com/fbbl-go/fbbl/store"
)

// unsortedReadBufferBytes is the ~250 MiB fixed read buffer named in
// spec.md 4.7.
const unsortedReadBufferBytes = 250 << 20

// UnsortedToSorted streams src's unsorted samples.dat through a fixed
// read buffer, computes each sample's destination category under step,
// and inserts it into a freshly created sorted store at dstDir. Between
// batches it flushes the writer once its cache load crosses
// storage.MinFlushLoadPercent.
func UnsortedToSorted(src *store.Store, dstDir string, step category.StepParameters, categoryCapacity uint64) (*store.Store, error) {
	numCategories := category.NumCategories(src.Inst, step)
	w, err := storage.NewWriter(dstDir, src.Inst, step, numCategories, categoryCapacity, categoryCapacity)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(src.DataPath())
	if err != nil {
		return nil, fmt.Errorf("transition: opening source samples.dat: %w", err)
	}
	defer f.Close()

	buf := make([]byte, unsortedReadBufferBytes)
	var s lwe.Sample
	for {
		n, err := io.ReadFull(f, buf)
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			return nil, fmt.Errorf("transition: reading unsorted source: %w", err)
		}
		count := n / lwe.RecordSize
		for i := 0; i < count; i++ {
			s.Decode(buf[i*lwe.RecordSize : (i+1)*lwe.RecordSize])
			idx := category.CategoryIndexFromPartial(src.Inst, s.A[:], step)
			switch w.AddSample(idx, s) {
			case storage.Added, storage.AddedCacheRowFull:
			case storage.DiscardedCacheFull:
				if err := w.Flush(); err != nil {
					return nil, err
				}
				w.AddSample(idx, s)
			case storage.DiscardedCategoryFull:
			}
		}
		if w.LoadPercentCache() >= storage.MinFlushLoadPercent {
			if err := w.Flush(); err != nil {
				return nil, err
			}
		}
		if count < len(buf)/lwe.RecordSize {
			break
		}
	}

	if err := w.Free(); err != nil {
		return nil, err
	}
	return store.Open(dstDir)
}
