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
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// WriteParams writes the textual params.txt representation of the
// instance: n, q, alpha, sigma, the random-generator state, the secret,
// and (if computed) the initial-transform matrices.
func (inst *Instance) WriteParams(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "n = %d\n", inst.N)
	fmt.Fprintf(bw, "q = %d\n", inst.Q)
	fmt.Fprintf(bw, "alpha = %v\n", inst.Alpha)
	fmt.Fprintf(bw, "sigma = %v\n", inst.Sigma)
	fmt.Fprintf(bw, "rnd_ctx = (%d,%d,%d,%d,%d,%d,%d)\n",
		inst.Rnd.A1, inst.Rnd.A2, inst.Rnd.B1, inst.Rnd.B2, inst.Rnd.C1, inst.Rnd.C2, boolToInt(inst.Rnd.Initialized))
	fmt.Fprintf(bw, "s = %s\n", joinInt16(inst.S[:inst.N]))
	if inst.A != nil {
		fmt.Fprint(bw, "A =\n")
		writeMatrix(bw, inst.A)
		fmt.Fprint(bw, "A_inverse =\n")
		writeMatrix(bw, inst.AInverse)
		fmt.Fprintf(bw, "b = %s\n", joinInt16(inst.B))
	}
	return bw.Flush()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func joinInt16(v []int16) string {
	var sb strings.Builder
	sb.WriteByte('(')
	for i, x := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(int(x)))
	}
	sb.WriteByte(')')
	return sb.String()
}

func writeMatrix(w io.Writer, m [][]int16) {
	for _, row := range m {
		fmt.Fprintln(w, joinRowPlain(row))
	}
}

func joinRowPlain(row []int16) string {
	var sb strings.Builder
	for i, x := range row {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(strconv.Itoa(int(x)))
	}
	return sb.String()
}

// ReadParams parses a params.txt file back into an Instance.
func ReadParams(r io.Reader) (*Instance, error) {
	sc := bufio.NewScanner(r)
	inst := &Instance{}
	var pendingA, pendingAInv bool
	var rowsA, rowsAInv [][]int16
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		switch {
		case pendingA, pendingAInv:
			row, err := parseRow(line)
			if err != nil {
				return nil, err
			}
			if pendingA {
				rowsA = append(rowsA, row)
				if len(rowsA) == inst.N {
					pendingA = false
				}
			} else {
				rowsAInv = append(rowsAInv, row)
				if len(rowsAInv) == inst.N {
					pendingAInv = false
				}
			}
			continue
		}

		key, val, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("lwe: malformed params.txt line %q", line)
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)
		switch key {
		case "n":
			n, err := strconv.Atoi(val)
			if err != nil {
				return nil, err
			}
			inst.N = n
		case "q":
			q, err := strconv.Atoi(val)
			if err != nil {
				return nil, err
			}
			inst.Q = q
		case "alpha":
			a, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return nil, err
			}
			inst.Alpha = a
		case "sigma":
			s, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return nil, err
			}
			inst.Sigma = s
		case "rnd_ctx":
			if err := parseRndCtx(val, &inst.Rnd); err != nil {
				return nil, err
			}
		case "s":
			vals, err := parseIntTuple(val)
			if err != nil {
				return nil, err
			}
			for i, v := range vals {
				inst.S[i] = int16(v)
			}
		case "A":
			pendingA = true
		case "A_inverse":
			pendingAInv = true
		case "b":
			vals, err := parseIntTuple(val)
			if err != nil {
				return nil, err
			}
			inst.B = make([]int16, len(vals))
			for i, v := range vals {
				inst.B[i] = int16(v)
			}
		default:
			return nil, fmt.Errorf("lwe: unknown params.txt key %q", key)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if rowsA != nil {
		inst.A = rowsA
	}
	if rowsAInv != nil {
		inst.AInverse = rowsAInv
	}
	return inst, nil
}

func parseRow(line string) ([]int16, error) {
	fields := strings.Fields(line)
	row := make([]int16, len(fields))
	for i, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, err
		}
		row[i] = int16(v)
	}
	return row, nil
}

func parseIntTuple(val string) ([]int, error) {
	val = strings.TrimPrefix(val, "(")
	val = strings.TrimSuffix(val, ")")
	if val == "" {
		return nil, nil
	}
	parts := strings.Split(val, ",")
	out := make([]int, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func parseRndCtx(val string, rnd *RandContext) error {
	parts, err := parseUint64Tuple(val)
	if err != nil {
		return err
	}
	if len(parts) != 7 {
		return fmt.Errorf("lwe: rnd_ctx wants 7 fields, got %d", len(parts))
	}
	rnd.A1, rnd.A2, rnd.B1, rnd.B2, rnd.C1, rnd.C2 = parts[0], parts[1], parts[2], parts[3], parts[4], parts[5]
	rnd.Initialized = parts[6] != 0
	return nil
}

func parseUint64Tuple(val string) ([]uint64, error) {
	val = strings.TrimPrefix(val, "(")
	val = strings.TrimSuffix(val, ")")
	parts := strings.Split(val, ",")
	out := make([]uint64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
