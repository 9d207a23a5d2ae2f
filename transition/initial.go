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

// Package transition implements the store-to-store reduction passes:
// the initial linear transform, the unsorted-to-sorted bootstrap, the
// BKW combination step, the final step, and mod-2 projection.
package transition

import (
	"fmt"
	"io"
	"os"

	"github.com/fbbl-go/fbbl/lwe"
	"github.com/fbbl-go/fbbl/store"
)

// initialTransformBufferSamples bounds how many seed samples are read
// into memory at once while searching for n linearly independent rows;
// spec.md 4.6 only requires them "in order", not all at once, but seed
// stores are small enough relative to the ~250 MiB streaming budget
// used everywhere else that one bounded read suffices in practice.
const initialTransformBufferSamples = 1 << 20

// ApplyInitialTransform reads st's unsorted samples once: the leading
// samples are consumed to build inst's initial transform (A, A⁻¹, b_T),
// and every remaining sample is rewritten in place via RewriteSample.
// On success it reports how many seed samples were consumed finding the
// transform and reseals st's params.txt with the transform recorded.
func ApplyInitialTransform(st *store.Store) (int, error) {
	f, err := os.OpenFile(st.DataPath(), os.O_RDWR, 0o644)
	if err != nil {
		return 0, fmt.Errorf("transition: opening samples.dat: %w", err)
	}
	defer f.Close()

	seed, err := readSeedWindow(f, st.Inst.N)
	if err != nil {
		return 0, err
	}
	used := st.Inst.ComputeInitialTransform(seed)
	if used == 0 {
		return 0, fmt.Errorf("transition: no %d linearly independent samples found in seed window", st.Inst.N)
	}

	if err := rewriteTail(f, st.Inst, used); err != nil {
		return 0, err
	}
	paramsFile, err := os.Create(fmt.Sprintf("%s/params.txt", st.Dir))
	if err != nil {
		return used, fmt.Errorf("transition: reopening params.txt: %w", err)
	}
	defer paramsFile.Close()
	if err := st.Inst.WriteParams(paramsFile); err != nil {
		return used, fmt.Errorf("transition: rewriting params.txt with transform: %w", err)
	}
	return used, nil
}

// readSeedWindow reads up to initialTransformBufferSamples records (or
// until EOF) to hand to ComputeInitialTransform. n linearly independent
// rows are virtually always found within the first few dozen samples,
// so this window is generous headroom, not a hard requirement.
func readSeedWindow(f *os.File, n int) ([]lwe.Sample, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	buf := make([]byte, initialTransformBufferSamples*lwe.RecordSize)
	nRead, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, fmt.Errorf("transition: reading seed window: %w", err)
	}
	count := nRead / lwe.RecordSize
	out := make([]lwe.Sample, count)
	for i := range out {
		out[i].Decode(buf[i*lwe.RecordSize : (i+1)*lwe.RecordSize])
	}
	return out, nil
}

// rewriteTail re-reads the whole samples.dat file, leaves the first
// used records untouched (they were consumed to build the transform and
// are not meaningful seed data any more) and rewrites every record from
// used onward via inst.RewriteSample, matching spec.md 4.6 step 2.
func rewriteTail(f *os.File, inst *lwe.Instance, used int) error {
	if _, err := f.Seek(int64(used)*int64(lwe.RecordSize), io.SeekStart); err != nil {
		return err
	}
	buf := make([]byte, lwe.RecordSize)
	var s lwe.Sample
	for {
		pos, err := f.Seek(0, io.SeekCurrent)
		if err != nil {
			return err
		}
		n, err := io.ReadFull(f, buf)
		if err == io.EOF {
			break
		}
		if err != nil && err != io.ErrUnexpectedEOF {
			return fmt.Errorf("transition: reading sample to rewrite: %w", err)
		}
		if n < lwe.RecordSize {
			break
		}
		s.Decode(buf)
		if err := inst.RewriteSample(&s); err != nil {
			return fmt.Errorf("transition: rewriting sample at offset %d: %w", pos, err)
		}
		s.Encode(buf)
		if _, err := f.WriteAt(buf, pos); err != nil {
			return fmt.Errorf("transition: writing rewritten sample at offset %d: %w", pos, err)
		}
	}
	return nil
}
