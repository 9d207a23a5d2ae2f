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

package lwe_test

import (
	"testing"

	"github.com/fbbl-go/fbbl/lwe"
)

// TestInitialTransformSecretRoundTrip checks invariant 7: once an initial
// transform has been computed from a linearly independent seed prefix,
// TransformSecret followed by InverseTransformSecret recovers the
// original secret exactly.
func TestInitialTransformSecretRoundTrip(t *testing.T) {
	const n, q = 6, 101
	inst, err := lwe.NewInstance(n, q, 0.01)
	if err != nil {
		t.Fatalf("NewInstance: %v", err)
	}

	samples := make([]lwe.Sample, 0, n*4)
	for len(samples) < n*4 {
		samples = append(samples, *inst.NewRandomSample())
	}
	used := inst.ComputeInitialTransform(samples)
	if used == 0 {
		t.Fatalf("ComputeInitialTransform found no invertible basis among %d samples", len(samples))
	}

	original := inst.S
	secret := make([]int16, n)
	copy(secret, original[:n])

	if err := inst.TransformSecret(secret); err != nil {
		t.Fatalf("TransformSecret: %v", err)
	}
	if err := inst.InverseTransformSecret(secret); err != nil {
		t.Fatalf("InverseTransformSecret: %v", err)
	}

	for i := 0; i < n; i++ {
		if secret[i] != original[i] {
			t.Fatalf("secret coordinate %d: got %d after round trip, want %d", i, secret[i], original[i])
		}
	}
}

// TestRewriteSampleClearsErrorAndPreservesInvariant checks that
// RewriteSample marks the error term unknown and produces a sample whose
// sum-with-error invariant still holds vacuously (since Error < 0 makes
// SumWithErrorInvariant trivially true), and that the hash matches the
// rewritten coordinates.
func TestRewriteSampleClearsErrorAndPreservesInvariant(t *testing.T) {
	const n, q = 5, 101
	inst, err := lwe.NewInstance(n, q, 0.01)
	if err != nil {
		t.Fatalf("NewInstance: %v", err)
	}

	samples := make([]lwe.Sample, 0, n*4)
	for len(samples) < n*4 {
		samples = append(samples, *inst.NewRandomSample())
	}
	used := inst.ComputeInitialTransform(samples)
	if used == 0 {
		t.Fatalf("ComputeInitialTransform found no invertible basis among %d samples", len(samples))
	}

	s := inst.NewRandomSample()
	if err := inst.RewriteSample(s); err != nil {
		t.Fatalf("RewriteSample: %v", err)
	}
	if s.Error != lwe.UnknownError {
		t.Fatalf("RewriteSample left Error = %d, want UnknownError", s.Error)
	}
	if !inst.SumWithErrorInvariant(s) {
		t.Fatalf("SumWithErrorInvariant should hold vacuously once Error is unknown")
	}
	if got := lwe.ColumnHash(s.A[:n], n); got != s.Hash {
		t.Fatalf("Hash = %d, want ColumnHash(A[:n]) = %d", s.Hash, got)
	}
}
