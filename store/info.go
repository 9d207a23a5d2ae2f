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

package store

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/fbbl-go/fbbl/category"
	"github.com/fbbl-go/fbbl/lwe"
)

// Seal writes samples_info.txt for a sorted store's current occupancy,
// computing the blake2b-256 digest over the occupied prefix of each
// category slot in samples.dat (see SPEC_FULL.md DOMAIN STACK, Store
// integrity). The digest is only recorded: Open parses it into Info but
// does not recompute or compare it.
func (s *Store) Seal() error {
	digest, err := s.digestOccupied()
	if err != nil {
		return err
	}
	s.Info.Blake2b256 = digest
	s.Info.HasIntegrityDigest = true
	return writeInfo(infoPath(s.Dir), s.Info)
}

func (s *Store) digestOccupied() ([32]byte, error) {
	f, err := os.Open(s.DataPath())
	if err != nil {
		return [32]byte{}, fmt.Errorf("store: opening samples.dat for sealing: %w", err)
	}
	defer f.Close()
	h, err := blake2b.New256(nil)
	if err != nil {
		return [32]byte{}, err
	}
	if !s.Info.Sorted {
		if _, err := io.Copy(h, f); err != nil {
			return [32]byte{}, err
		}
	} else {
		const rs = int64(lwe.RecordSize)
		for cat, n := range s.Info.PerCategory {
			off := int64(cat) * int64(s.Info.CategoryCapacity) * rs
			sz := int64(n) * rs
			if _, err := io.CopyN(h, io.NewSectionReader(f, off, sz), sz); err != nil {
				return [32]byte{}, err
			}
		}
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

func writeInfo(path string, info Info) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("store: creating samples_info.txt: %w", err)
	}
	defer f.Close()
	bw := bufio.NewWriter(f)
	fmt.Fprintf(bw, "sorting = %s\n", info.Step.String())
	fmt.Fprintf(bw, "num categories = %d\n", info.NumCategories)
	fmt.Fprintf(bw, "category capacity (num samples) = %d\n", info.CategoryCapacity)
	fmt.Fprintf(bw, "total num samples stored = %d\n", info.TotalStored)
	fmt.Fprintf(bw, "num samples per category = %s\n", joinUint64(info.PerCategory))
	if info.HasIntegrityDigest {
		fmt.Fprintf(bw, "blake2b256 = %s\n", hex.EncodeToString(info.Blake2b256[:]))
	}
	return bw.Flush()
}

func joinUint64(v []uint64) string {
	var sb strings.Builder
	sb.WriteByte('(')
	for i, x := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatUint(x, 10))
	}
	sb.WriteByte(')')
	return sb.String()
}

func readInfo(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("store: opening samples_info.txt: %w", err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 1<<20), 1<<24)
	var info Info
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			return Info{}, fmt.Errorf("store: malformed samples_info.txt line %q", line)
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)
		var err error
		switch key {
		case "sorting":
			info.Step, err = category.ParseStepParameters(val)
		case "num categories":
			info.NumCategories, err = strconv.ParseUint(val, 10, 64)
		case "category capacity (num samples)":
			info.CategoryCapacity, err = strconv.ParseUint(val, 10, 64)
		case "total num samples stored":
			info.TotalStored, err = strconv.ParseUint(val, 10, 64)
		case "num samples per category":
			info.PerCategory, err = parseUint64List(val)
		case "blake2b256":
			var b []byte
			b, err = hex.DecodeString(val)
			if err == nil {
				copy(info.Blake2b256[:], b)
				info.HasIntegrityDigest = true
			}
		default:
			return Info{}, fmt.Errorf("store: unknown samples_info.txt key %q", key)
		}
		if err != nil {
			return Info{}, err
		}
	}
	if err := sc.Err(); err != nil {
		return Info{}, err
	}
	return info, nil
}

func parseUint64List(val string) ([]uint64, error) {
	val = strings.TrimPrefix(val, "(")
	val = strings.TrimSuffix(val, ")")
	if val == "" {
		return nil, nil
	}
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
