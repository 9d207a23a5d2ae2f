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

// Package lwe holds the LWE instance model: the fixed-stride sample
// record, the reproducible pseudo-random generator context, the
// arithmetic tables shared across sample combination, and the linear
// transform that redistributes a known secret into the noise
// distribution.
package lwe

import "encoding/binary"

// MaxN is the largest dimension this build supports; sample records are
// fixed-stride, so every sample reserves MaxN coordinate slots even when
// the active instance uses fewer (the tail is zeroed).
const MaxN = 64

// RecordSize is the on-disk byte size of one Sample: MaxN little-endian
// int16 coordinates, an 8-byte hash, a 2-byte error, a 2-byte
// sum-with-error.
const RecordSize = MaxN*2 + 8 + 2 + 2

// UnknownError is stored in place of the noise term once a sample's
// constituent error can no longer be tracked (e.g. after conversion from
// an external challenge file that only supplies b, not e).
const UnknownError = -1

// Sample is one LWE sample record: a ∈ Z_q^MaxN (tail zero for n < MaxN),
// a 64-bit non-cryptographic column hash, an optional error term, and
// sum_with_error = <a,s> + e (mod q), or the corresponding linear
// combination after reductions.
type Sample struct {
	A            [MaxN]int16
	Hash         uint64
	Error        int16
	SumWithError int16
}

// ActiveA returns the first n coordinates, the only ones that participate
// in category/combination logic for an instance of dimension n.
func (s *Sample) ActiveA(n int) []int16 { return s.A[:n] }

// Encode writes the record in its fixed on-disk layout.
func (s *Sample) Encode(buf []byte) {
	for i := 0; i < MaxN; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s.A[i]))
	}
	off := MaxN * 2
	binary.LittleEndian.PutUint64(buf[off:], s.Hash)
	binary.LittleEndian.PutUint16(buf[off+8:], uint16(s.Error))
	binary.LittleEndian.PutUint16(buf[off+10:], uint16(s.SumWithError))
}

// Decode reads a record from its fixed on-disk layout.
func (s *Sample) Decode(buf []byte) {
	for i := 0; i < MaxN; i++ {
		s.A[i] = int16(binary.LittleEndian.Uint16(buf[i*2:]))
	}
	off := MaxN * 2
	s.Hash = binary.LittleEndian.Uint64(buf[off:])
	s.Error = int16(binary.LittleEndian.Uint16(buf[off+8:]))
	s.SumWithError = int16(binary.LittleEndian.Uint16(buf[off+10:]))
}

// IsZeroColumn reports whether every active coordinate is zero, using
// the hash as a cheap pre-check before scanning (a zero column always
// hashes to zero, by construction of ColumnHash).
func (s *Sample) IsZeroColumn(n int) bool {
	if s.Hash != 0 {
		return false
	}
	for i := 0; i < n; i++ {
		if s.A[i] != 0 {
			return false
		}
	}
	return true
}

// SumWithErrorInvariant reports whether the sum-with-error invariant
// (Σ a_i·s_i + e ≡ sum_with_error, mod q) holds for this sample, given
// the instance's secret. Only meaningful when Error is known.
func (inst *Instance) SumWithErrorInvariant(s *Sample) bool {
	if s.Error < 0 {
		return true
	}
	sum := 0
	for i := 0; i < inst.N; i++ {
		sum += int(s.A[i]) * int(inst.S[i])
	}
	sum = (sum + int(s.Error)) % inst.Q
	if sum < 0 {
		sum += inst.Q
	}
	return int16(sum) == s.SumWithError
}
