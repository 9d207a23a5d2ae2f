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

package solve

import (
	"math"
	"math/bits"
	"sync"

	"github.com/fbbl-go/fbbl/lwe"
	"github.com/fbbl-go/fbbl/storage"
	"github.com/fbbl-go/fbbl/store"
)

// softInfoBound is the heuristic normalization cutoff for the
// soft-information bias table named in spec.md 9 Open Questions.
const softInfoBound = 101

// FWHTResult is the outcome of one FWHT solve: the recovered bits
// (unpacked from the argmax index) and, for the brute-force hybrid, the
// small-signed brute-force coordinates that produced the best peak.
type FWHTResult struct {
	Bits       []int16
	BruteForce []int16
	PeakValue  float64
}

// biasTable maps a noise value e (mod q, centered) to a signed weight
// derived from the discrete Gaussian PMF, used by the soft-information
// tally instead of a flat +-1 vote.
func biasTable(q int, sigma float64) []float64 {
	table := make([]float64, q)
	for e := 0; e < q; e++ {
		v := e
		if v > q/2 {
			v -= q
		}
		if v < -softInfoBound || v > softInfoBound {
			table[e] = 0
			continue
		}
		table[e] = math.Exp(-float64(v*v) / (2 * sigma * sigma))
	}
	return table
}

// FWHTSolve implements spec.md 4.12's scalar and soft-information forms.
// It tallies a length-2^fwhtPositions sign histogram from st's samples
// (only meaningful after mod-2 projection, so st.Inst.Q == 2), applies
// the in-place Fast Walsh-Hadamard Transform, and returns the bit tuple
// at the argmax of |list[.]|. softInformation, when true, weighs each
// vote by the bias table derived from originalSigma instead of a flat
// +-1, recovering more accuracy at higher noise.
func FWHTSolve(st *store.Store, zeroPositions, fwhtPositions int, softInformation bool, originalQ int, originalSigma float64) (FWHTResult, error) {
	n := 1 << uint(fwhtPositions)
	list := make([]float64, n)

	var bias []float64
	if softInformation {
		bias = biasTable(originalQ, originalSigma)
	}

	r, err := storage.NewReader(st)
	if err != nil {
		return FWHTResult{}, err
	}
	defer r.Close()

	tally := func(samples []lwe.Sample) {
		for i := range samples {
			s := &samples[i]
			x := 0
			for j := 0; j < fwhtPositions; j++ {
				x |= int(s.A[zeroPositions+j]&1) << uint(j)
			}
			weight := 1.0
			if softInformation {
				weight = bias[mod16(s.Error, originalQ)]
			}
			if s.SumWithError&1 == 0 {
				list[x] += weight
			} else {
				list[x] -= weight
			}
		}
	}

	for {
		pair, ok, err := r.NextAdjacentCategoryPair()
		if err != nil {
			return FWHTResult{}, err
		}
		if !ok {
			break
		}
		tally(pair.Cat1)
		if pair.Cat2 != nil {
			tally(pair.Cat2)
		}
	}

	fwht(list)
	return FWHTResult{Bits: argmaxAbs(list, fwhtPositions), PeakValue: peakAbs(list)}, nil
}

// fwht applies the in-place radix-2 Fast Walsh-Hadamard Transform to a
// slice whose length is a power of two, via butterflies across every
// log2(len(a)) level.
func fwht(a []float64) {
	levels := bits.Len(uint(len(a))) - 1
	for level := 0; level < levels; level++ {
		step := 1 << uint(level)
		for i := 0; i < len(a); i += step * 2 {
			for j := i; j < i+step; j++ {
				x, y := a[j], a[j+step]
				a[j] = x + y
				a[j+step] = x - y
			}
		}
	}
}

func argmaxAbs(list []float64, bitsCount int) []int16 {
	bestIdx, best := 0, -1.0
	for i, v := range list {
		av := math.Abs(v)
		if av > best {
			best, bestIdx = av, i
		}
	}
	out := make([]int16, bitsCount)
	for j := 0; j < bitsCount; j++ {
		out[j] = int16((bestIdx >> uint(j)) & 1)
	}
	return out
}

func peakAbs(list []float64) float64 {
	best := 0.0
	for _, v := range list {
		if av := math.Abs(v); av > best {
			best = av
		}
	}
	return best
}

func mod16(v int16, q int) int {
	iv := int(v) % q
	if iv < 0 {
		iv += q
	}
	return iv
}

// HybridFWHTSolve brute-forces bfPositions additional coordinates
// treated as small-signed integers in [-ratio, ratio] (ratio ~= 2*alpha*
// q), partitioning the outer brute-force loop across numThreads workers
// that each run an independent FWHT pass with their own tally buffer,
// per spec.md 4.12's brute-force hybrid. originalQ/originalSigma feed
// the optional soft-information bias table.
func HybridFWHTSolve(st *store.Store, zeroPositions, fwhtPositions, bfPositions, bfStartIndex, numThreads int, softInformation bool, originalQ int, originalSigma float64) (FWHTResult, error) {
	inst := st.Inst
	ratio := int(math.Ceil(2 * inst.Alpha * float64(originalQ)))
	if ratio < 1 {
		ratio = 1
	}
	span := 2*ratio + 1
	total := 1
	for i := 0; i < bfPositions; i++ {
		total *= span
	}
	if numThreads < 1 {
		numThreads = 1
	}
	band := (total + numThreads - 1) / numThreads

	r, err := storage.NewReader(st)
	if err != nil {
		return FWHTResult{}, err
	}
	defer r.Close()
	pairs, err := drainPairs(r)
	if err != nil {
		return FWHTResult{}, err
	}

	var bias []float64
	if softInformation {
		bias = biasTable(originalQ, originalSigma)
	}

	var mu sync.Mutex
	best := FWHTResult{PeakValue: -1}
	var wg sync.WaitGroup
	for t := 0; t < numThreads; t++ {
		lo := t * band
		hi := lo + band
		if hi > total {
			hi = total
		}
		if lo >= hi {
			continue
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			bruteForceBand(pairs, lo, hi, span, ratio, bfPositions, bfStartIndex, zeroPositions, fwhtPositions, bias, softInformation, originalQ, &mu, &best)
		}(lo, hi)
	}
	wg.Wait()
	return best, nil
}

func drainPairs(r *storage.Reader) ([]storage.CategoryPair, error) {
	var out []storage.CategoryPair
	for {
		pair, ok, err := r.NextAdjacentCategoryPair()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		cp := storage.CategoryPair{Cat1: append([]lwe.Sample(nil), pair.Cat1...)}
		if pair.Cat2 != nil {
			cp.Cat2 = append([]lwe.Sample(nil), pair.Cat2...)
		}
		out = append(out, cp)
	}
}

func bruteForceBand(pairs []storage.CategoryPair, lo, hi, span, ratio, bfPositions, bfStartIndex, zeroPositions, fwhtPositions int, bias []float64, softInformation bool, originalQ int, mu *sync.Mutex, best *FWHTResult) {
	n := 1 << uint(fwhtPositions)
	list := make([]float64, n)
	guess := make([]int16, bfPositions)

	for g := lo; g < hi; g++ {
		rem := g
		for j := bfPositions - 1; j >= 0; j-- {
			guess[j] = int16(rem%span - ratio)
			rem /= span
		}

		for i := range list {
			list[i] = 0
		}
		for _, pair := range pairs {
			tallyGuess(list, pair.Cat1, guess, bfStartIndex, zeroPositions, fwhtPositions, bias, softInformation, originalQ)
			if pair.Cat2 != nil {
				tallyGuess(list, pair.Cat2, guess, bfStartIndex, zeroPositions, fwhtPositions, bias, softInformation, originalQ)
			}
		}
		fwht(list)
		peak := peakAbs(list)

		mu.Lock()
		if peak > best.PeakValue {
			best.PeakValue = peak
			best.Bits = argmaxAbs(list, fwhtPositions)
			best.BruteForce = append([]int16(nil), guess...)
		}
		mu.Unlock()
	}
}

func tallyGuess(list []float64, samples []lwe.Sample, guess []int16, bfStartIndex, zeroPositions, fwhtPositions int, bias []float64, softInformation bool, originalQ int) {
	for i := range samples {
		s := &samples[i]
		adjustment := 0
		for j, g := range guess {
			adjustment += int(s.A[bfStartIndex+j]) * int(g)
		}
		bit := (int(s.SumWithError) + adjustment) & 1

		x := 0
		for j := 0; j < fwhtPositions; j++ {
			x |= int(s.A[zeroPositions+j]&1) << uint(j)
		}
		weight := 1.0
		if softInformation {
			weight = bias[mod16(s.Error, originalQ)]
		}
		if bit == 0 {
			list[x] += weight
		} else {
			list[x] -= weight
		}
	}
}
