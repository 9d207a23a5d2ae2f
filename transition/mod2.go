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
	"io"
	"os"

	"github.com/fbbl-go/fbbl/lwe"
	"github.com/fbbl-go/fbbl/store"
)

// mod2ReadBufferBytes mirrors the ~250 MiB streaming budget used
// elsewhere in the pipeline.
const mod2ReadBufferBytes = 250 << 20

// centeredMod2 reduces v to its centered representative before taking
// the mod-2 image, per spec.md 4.10: v <= q/2 uses v mod 2 directly,
// otherwise |(v-q) mod 2|.
func centeredMod2(v int16, q int) int16 {
	iv := int(v)
	if iv <= q/2 {
		return int16(((iv % 2) + 2) % 2)
	}
	d := iv - q
	m := d % 2
	if m < 0 {
		m = -m
	}
	return int16(m)
}

// Mod2Projection reads every sample of src, replaces each active
// coordinate and sum_with_error with its centered mod-2 image,
// recomputes the hash, and writes an unsorted store at dstDir whose
// instance has q=2 and s rewritten to its binary image.
func Mod2Projection(src *store.Store, dstDir string) (*store.Store, error) {
	q := src.Inst.Q
	n := src.Inst.N

	dstInst := &lwe.Instance{
		N:     n,
		Q:     2,
		Alpha: src.Inst.Alpha,
		Sigma: src.Inst.Sigma,
		Rnd:   src.Inst.Rnd,
	}
	for i := 0; i < n; i++ {
		dstInst.S[i] = centeredMod2(src.Inst.S[i], q)
	}

	dst, err := store.CreateUnsorted(dstDir, dstInst)
	if err != nil {
		return nil, err
	}

	in, err := os.Open(src.DataPath())
	if err != nil {
		return nil, err
	}
	defer in.Close()
	out, err := os.OpenFile(dst.DataPath(), os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	defer out.Close()
	bw := bufio.NewWriter(out)

	buf := make([]byte, mod2ReadBufferBytes)
	rec := make([]byte, lwe.RecordSize)
	var s lwe.Sample
	var total uint64
	for {
		nRead, err := io.ReadFull(in, buf)
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			return nil, err
		}
		count := nRead / lwe.RecordSize
		for i := 0; i < count; i++ {
			s.Decode(buf[i*lwe.RecordSize : (i+1)*lwe.RecordSize])
			for j := 0; j < n; j++ {
				s.A[j] = centeredMod2(s.A[j], q)
			}
			for j := n; j < lwe.MaxN; j++ {
				s.A[j] = 0
			}
			s.SumWithError = centeredMod2(s.SumWithError, q)
			s.Error = lwe.UnknownError
			s.Hash = lwe.ColumnHash(s.A[:n], n)
			s.Encode(rec)
			if _, err := bw.Write(rec); err != nil {
				return nil, err
			}
			total++
		}
		if count < len(buf)/lwe.RecordSize {
			break
		}
	}
	if err := bw.Flush(); err != nil {
		return nil, err
	}
	return sealFlatAsFinal(dst, total)
}
