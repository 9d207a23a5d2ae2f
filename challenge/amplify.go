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
	"bufio"
	"os"

	"github.com/fbbl-go/fbbl/lwe"
	"github.com/fbbl-go/fbbl/store"
)

// Amplify produces totalNumSamples samples from seed by combining
// signed triples a_ii +/- a_jj +/- a_kk, with (ii,jj,kk) chosen by a
// maximum-length-LFSR-like recurrence over the seed index space. This
// spreads triple selection evenly instead of naive nested loops, which
// would otherwise overweight a handful of seed vectors and generate an
// excess of accidental zero vectors (spec.md 6, external challenge
// file). The sign of each combination is drawn uniformly from the
// instance's random stream.
func Amplify(inst *lwe.Instance, seed []lwe.Sample, totalNumSamples uint64) []lwe.Sample {
	m := len(seed)
	tables := lwe.Tables(inst.Q)
	out := make([]lwe.Sample, 0, totalNumSamples)

	ii, jj, kk := 0, 0, 1
	for uint64(len(out)) < totalNumSamples {
		for {
			temp := (1594*ii + 1600*jj + 1600*kk) % inst.Q
			ii, jj, kk = jj, kk, temp
			if ii < jj && jj < kk && ii < m && jj < m && kk < m {
				break
			}
		}

		sign1, sign2 := signsForCase(inst.Rnd.Intn(4))
		out = append(out, combineTriple(&seed[ii], &seed[jj], &seed[kk], sign1, sign2, inst.N, tables))
	}
	return out
}

// signsForCase maps the four equally likely cases (add/add, add/sub,
// sub/add, sub/sub) onto the two signs applied to the second and third
// terms of a_ii +/- a_jj +/- a_kk.
func signsForCase(c int) (sign2, sign3 int) {
	switch c {
	case 0:
		return +1, +1
	case 1:
		return +1, -1
	case 2:
		return -1, +1
	default:
		return -1, -1
	}
}

func combineTriple(a, b, c *lwe.Sample, sign2, sign3, n int, tables *lwe.ArithTables) lwe.Sample {
	var tmp lwe.Sample
	for i := 0; i < n; i++ {
		if sign2 > 0 {
			tmp.A[i] = tables.AddMod(a.A[i], b.A[i])
		} else {
			tmp.A[i] = tables.SubMod(a.A[i], b.A[i])
		}
	}
	if sign2 > 0 {
		tmp.SumWithError = tables.AddMod(a.SumWithError, b.SumWithError)
	} else {
		tmp.SumWithError = tables.SubMod(a.SumWithError, b.SumWithError)
	}

	var out lwe.Sample
	for i := 0; i < n; i++ {
		if sign3 > 0 {
			out.A[i] = tables.AddMod(tmp.A[i], c.A[i])
		} else {
			out.A[i] = tables.SubMod(tmp.A[i], c.A[i])
		}
	}
	if sign3 > 0 {
		out.SumWithError = tables.AddMod(tmp.SumWithError, c.SumWithError)
	} else {
		out.SumWithError = tables.SubMod(tmp.SumWithError, c.SumWithError)
	}
	out.Error = lwe.UnknownError
	out.Hash = lwe.ColumnHash(out.A[:n], n)
	return out
}

// writeUnsorted appends samples to st's samples.dat in one pass,
// matching the amplification converter's buffered append behavior.
func writeUnsorted(st *store.Store, samples []lwe.Sample) (*store.Store, error) {
	f, err := os.OpenFile(st.DataPath(), os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	bw := bufio.NewWriter(f)
	buf := make([]byte, lwe.RecordSize)
	for i := range samples {
		samples[i].Encode(buf)
		if _, err := bw.Write(buf); err != nil {
			return nil, err
		}
	}
	if err := bw.Flush(); err != nil {
		return nil, err
	}
	return st, nil
}
