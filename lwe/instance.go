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

package lwe

import (
	"fmt"
	"math"
)

// Instance is one immutable-per-run LWE problem: dimension n, prime
// modulus q, noise rate alpha (sigma = alpha*q), the secret s, an
// optional initial-transform (A, A_inverse, b) and the reproducible
// random-generator context that produced it.
type Instance struct {
	N     int
	Q     int
	Alpha float64
	Sigma float64
	S     [MaxN]int16
	Rnd   RandContext

	A, AInverse [][]int16 // n x n, nil until a transform is computed
	B           []int16   // n, paired with A
}

// NewInstance builds a fresh instance of dimension n and modulus q with
// alpha noise rate, drawing the secret directly from the error
// distribution (so the instance starts out already indistinguishable
// from noise, matching the "implicit initial transformation" branch of
// the original generator; the explicit initial-transform machinery in
// transform.go is for when samples instead arrive with a uniformly
// random, as-yet-untransformed secret from an external challenge file).
func NewInstance(n, q int, alpha float64) (*Instance, error) {
	if n > MaxN {
		return nil, fmt.Errorf("lwe: n=%d exceeds MaxN=%d", n, MaxN)
	}
	inst := &Instance{N: n, Q: q, Alpha: alpha, Sigma: alpha * float64(q)}
	if err := inst.Rnd.Seed(); err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		inst.S[i] = int16(mod(inst.chi(inst.Sigma), q))
	}
	return inst, nil
}

func mod(a, q int) int {
	a %= q
	if a < 0 {
		a += q
	}
	return a
}

// chi is the discrete Gaussian error sampler: Box-Muller over the
// instance's random stream, rounded to the nearest integer.
func (inst *Instance) chi(sigma float64) int {
	aa := inst.Rnd.Float64()
	a := 0.0
	if aa != 0 {
		a = math.Sqrt(-2 * math.Log(aa))
	}
	b := 2 * math.Pi * inst.Rnd.Float64()
	x := sigma * a * math.Cos(b)
	return roundInt(x)
}

func roundInt(d float64) int {
	if d > 0 {
		return int(d + 0.5)
	}
	return int(d - 0.5)
}

// NewRandomSample draws a fresh random sample (a, e, sum_with_error) for
// this instance's secret, used by tests and by cmd/bkwrun to fill the
// seed store.
func (inst *Instance) NewRandomSample() *Sample {
	s := &Sample{}
	sum := 0
	for i := 0; i < inst.N; i++ {
		v := inst.Rnd.Intn(inst.Q)
		s.A[i] = int16(v)
		sum += v * int(inst.S[i])
	}
	err := mod(inst.chi(inst.Sigma), inst.Q)
	s.Error = int16(err)
	sum = mod(sum+err, inst.Q)
	s.SumWithError = int16(sum)
	s.Hash = ColumnHash(s.A[:], inst.N)
	return s
}
