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

package category

// symmetricIndex is the generalization of plainBKW2Table's construction
// (spec.md 4.2: "a tuple and its negation land in adjacent category
// indices") to any raw key space and any negation function. LMS,
// smoothLMS and codedBKW each have a natural raw indexing scheme (base-c
// digit tuples, or a mod-q syndrome) that is not adjacency-symmetric on
// its own, so every sorting mode builds one of these tables to assign
// the compact category index that the reader and BKW step rely on: a
// raw key and its negation always land at compact indices {i, i+1}, or
// share index i when the key is self-inverse (a singleton).
type symmetricIndex struct {
	compact   []int // raw key -> compact index
	raw       []int // compact index -> raw key
	singleton []bool // compact index -> is a singleton category
}

// buildSymmetricIndex assigns compact indices over the raw key space
// [0,size) by walking keys in order and handing out adjacent indices to
// a key and its negate(key) together, mirroring buildPlainBKW2Table.
func buildSymmetricIndex(size int, negate func(key int) int) *symmetricIndex {
	t := &symmetricIndex{
		compact:   make([]int, size),
		raw:       make([]int, size),
		singleton: make([]bool, size),
	}
	assigned := make([]bool, size)
	next := 0
	for key := 0; key < size; key++ {
		if assigned[key] {
			continue
		}
		negKey := negate(key)
		if negKey < 0 || negKey >= size {
			panic("category: negate produced an out-of-range key")
		}
		if negKey == key {
			t.compact[key] = next
			t.raw[next] = key
			t.singleton[next] = true
			assigned[key] = true
			next++
			continue
		}
		t.compact[key] = next
		t.raw[next] = key
		t.compact[negKey] = next + 1
		t.raw[next+1] = negKey
		assigned[key] = true
		assigned[negKey] = true
		next += 2
	}
	return t
}

// digitSpec names one digit's radix and the digit value representing
// the coordinate value 0, for a mixed-radix index built by repeatedly
// doing idx = idx*radix + digit (the pattern every categoryIndex*
// function in this package follows). reflectDigits decodes a raw key
// built that way, negates every digit by reflecting around its own
// zero point, and re-encodes — giving the negate function a
// buildSymmetricIndex table needs without hand-deriving a closed-form
// formula per sorting mode.
type digitSpec struct {
	radix int
	zero  int
}

func reflectDigits(key int, specs []digitSpec) int {
	digits := make([]int, len(specs))
	for i := len(specs) - 1; i >= 0; i-- {
		digits[i] = key % specs[i].radix
		key /= specs[i].radix
	}
	out := 0
	for i, d := range digits {
		z, m := specs[i].zero, specs[i].radix
		rd := ((2*z-d)%m + m) % m
		out = out*m + rd
	}
	return out
}
