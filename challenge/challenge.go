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

// Package challenge adapts an external LWE challenge text file into a
// native unsorted sample store, with optional sample amplification. The
// exact grammar of the upstream challenge file format and any
// hard-coded per-challenge parameter schedule are outside this
// package's concern (spec.md 1, Non-goals); only the conversion and
// amplification machinery itself lives here.
package challenge

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fbbl-go/fbbl/lwe"
	"github.com/fbbl-go/fbbl/store"
)

// Header is the four decimal lines preceding a challenge file's vector
// and matrix blocks.
type Header struct {
	N          int
	NumSamples int
	Q          int
	Alpha      float64
}

// Parsed is one fully-read challenge file: the header, the b-vector and
// the a-matrix (row i is sample i's a-vector).
type Parsed struct {
	Header Header
	B      []int64
	A      [][]int64
}

// Parse reads a challenge file of the form:
//
//	n
//	numSamples
//	q
//	alpha
//	[b_0 b_1 ... b_{m-1}]
//	[[a_00 a_01 ...] [a_10 a_11 ...] ... ]
func Parse(r io.Reader) (*Parsed, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 1<<20), 1<<28)

	readLine := func(name string) (string, error) {
		if !sc.Scan() {
			return "", fmt.Errorf("challenge: unexpected EOF reading %s", name)
		}
		return strings.TrimSpace(sc.Text()), nil
	}

	nLine, err := readLine("n")
	if err != nil {
		return nil, err
	}
	n, err := strconv.Atoi(nLine)
	if err != nil {
		return nil, fmt.Errorf("challenge: parsing n: %w", err)
	}
	numLine, err := readLine("numSamples")
	if err != nil {
		return nil, err
	}
	numSamples, err := strconv.Atoi(numLine)
	if err != nil {
		return nil, fmt.Errorf("challenge: parsing numSamples: %w", err)
	}
	qLine, err := readLine("q")
	if err != nil {
		return nil, err
	}
	q, err := strconv.Atoi(qLine)
	if err != nil {
		return nil, fmt.Errorf("challenge: parsing q: %w", err)
	}
	alphaLine, err := readLine("alpha")
	if err != nil {
		return nil, err
	}
	alpha, err := strconv.ParseFloat(alphaLine, 64)
	if err != nil {
		return nil, fmt.Errorf("challenge: parsing alpha: %w", err)
	}

	bLine, err := readLine("b-vector")
	if err != nil {
		return nil, err
	}
	b, err := parseBracketedInts(bLine)
	if err != nil {
		return nil, fmt.Errorf("challenge: parsing b-vector: %w", err)
	}

	var aMatrixLines strings.Builder
	for sc.Scan() {
		aMatrixLines.WriteString(sc.Text())
		aMatrixLines.WriteByte(' ')
	}
	a, err := parseMatrix(aMatrixLines.String())
	if err != nil {
		return nil, fmt.Errorf("challenge: parsing a-matrix: %w", err)
	}
	if len(a) != numSamples || len(b) != numSamples {
		return nil, fmt.Errorf("challenge: header declares %d samples, got %d a-rows and %d b-values", numSamples, len(a), len(b))
	}

	return &Parsed{Header: Header{N: n, NumSamples: numSamples, Q: q, Alpha: alpha}, B: b, A: a}, nil
}

func parseBracketedInts(line string) ([]int64, error) {
	line = strings.TrimSpace(line)
	line = strings.TrimPrefix(line, "[")
	line = strings.TrimSuffix(line, "]")
	fields := strings.Fields(line)
	out := make([]int64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// parseMatrix parses the "[[...] [...] ...]" grammar into one row per
// bracketed group.
func parseMatrix(s string) ([][]int64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	var rows [][]int64
	depth := 0
	start := -1
	for i, c := range s {
		switch c {
		case '[':
			if depth == 0 {
				start = i + 1
			}
			depth++
		case ']':
			depth--
			if depth == 0 && start >= 0 {
				row, err := parseBracketedInts(s[start:i])
				if err != nil {
					return nil, err
				}
				rows = append(rows, row)
				start = -1
			}
		}
	}
	return rows, nil
}

// ToSamples converts a Parsed challenge into plain samples with unknown
// error terms (e is not recoverable from an external b-only challenge).
func (p *Parsed) ToSamples() []lwe.Sample {
	out := make([]lwe.Sample, p.Header.NumSamples)
	for i := range out {
		for j := 0; j < p.Header.N; j++ {
			out[i].A[j] = int16(mod(p.A[i][j], p.Header.Q))
		}
		out[i].SumWithError = int16(mod(p.B[i], p.Header.Q))
		out[i].Error = lwe.UnknownError
		out[i].Hash = lwe.ColumnHash(out[i].A[:p.Header.N], p.Header.N)
	}
	return out
}

func mod(a int64, q int) int64 {
	m := a % int64(q)
	if m < 0 {
		m += int64(q)
	}
	return m
}

// ConvertToStore writes a Parsed challenge's samples, amplified to
// totalNumSamples via Amplify, into a new unsorted store at dstDir.
// ErrAlreadyExists is returned unmodified so the caller can treat this
// as the "destination already exists" skip, per spec.md 7.
func ConvertToStore(p *Parsed, dstDir string, totalNumSamples uint64, rnd *lwe.RandContext) (*store.Store, error) {
	inst := &lwe.Instance{N: p.Header.N, Q: p.Header.Q, Alpha: p.Header.Alpha, Sigma: p.Header.Alpha * float64(p.Header.Q)}
	inst.Rnd = *rnd

	st, err := store.CreateUnsorted(dstDir, inst)
	if err != nil {
		return nil, err
	}

	seed := p.ToSamples()
	amplified := Amplify(inst, seed, totalNumSamples)

	return writeUnsorted(st, amplified)
}
