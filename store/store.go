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

// Package store implements the on-disk sample-store layout: a folder
// holding params.txt, samples_info.txt and samples.dat, created once and
// read many times per spec.md 3 ("create-once, read-many").
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fbbl-go/fbbl/category"
	"github.com/fbbl-go/fbbl/lwe"
)

// ErrAlreadyExists is returned by CreateUnsorted, CreateSorted and
// Unarchive (via mkStoreDir) when the destination folder is
// already present, mapping to the "already-done" error class (exit code
// 100 at the driver) in spec.md 7.
var ErrAlreadyExists = errors.New("store: destination already exists")

const (
	paramsFileName = "params.txt"
	infoFileName   = "samples_info.txt"
	dataFileName   = "samples.dat"
)

// Info is the parsed content of samples_info.txt: sorting descriptor (or
// zero value for an unsorted store), category geometry and per-category
// occupancy.
type Info struct {
	Sorted              bool
	Step                category.StepParameters
	NumCategories       uint64
	CategoryCapacity    uint64
	TotalStored         uint64
	PerCategory         []uint64
	Blake2b256          [32]byte
	HasIntegrityDigest  bool
}

// Store is an open handle on a sample-store directory.
type Store struct {
	Dir  string
	Inst *lwe.Instance
	Info Info
}

func paramsPath(dir string) string { return filepath.Join(dir, paramsFileName) }
func infoPath(dir string) string   { return filepath.Join(dir, infoFileName) }
func dataPath(dir string) string   { return filepath.Join(dir, dataFileName) }

// CreateUnsorted creates a brand-new unsorted store: a directory with
// params.txt (from inst) and an empty samples.dat; samples_info.txt is
// absent until the store is sealed, per spec.md 3.
func CreateUnsorted(dir string, inst *lwe.Instance) (*Store, error) {
	if err := mkStoreDir(dir); err != nil {
		return nil, err
	}
	if err := writeParams(dir, inst); err != nil {
		return nil, err
	}
	f, err := os.Create(dataPath(dir))
	if err != nil {
		return nil, fmt.Errorf("store: creating samples.dat: %w", err)
	}
	f.Close()
	return &Store{Dir: dir, Inst: inst}, nil
}

// CreateSorted creates a new sorted store pre-extended to its full
// numCategories*categoryCapacity*recordSize byte size.
func CreateSorted(dir string, inst *lwe.Instance, step category.StepParameters, numCategories, categoryCapacity uint64) (*Store, error) {
	if err := mkStoreDir(dir); err != nil {
		return nil, err
	}
	if err := writeParams(dir, inst); err != nil {
		return nil, err
	}
	size := numCategories * categoryCapacity * lwe.RecordSize
	if err := Extend(dataPath(dir), size); err != nil {
		return nil, err
	}
	s := &Store{
		Dir:  dir,
		Inst: inst,
		Info: Info{
			Sorted:           true,
			Step:             step,
			NumCategories:    numCategories,
			CategoryCapacity: categoryCapacity,
			PerCategory:      make([]uint64, numCategories),
		},
	}
	return s, nil
}

func mkStoreDir(dir string) error {
	if _, err := os.Stat(dir); err == nil {
		return ErrAlreadyExists
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("store: checking %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: creating %s: %w", dir, err)
	}
	return nil
}

func writeParams(dir string, inst *lwe.Instance) error {
	f, err := os.Create(paramsPath(dir))
	if err != nil {
		return fmt.Errorf("store: creating params.txt: %w", err)
	}
	defer f.Close()
	return inst.WriteParams(f)
}

// Open opens an existing store for reading, parsing params.txt and, if
// present, samples_info.txt.
func Open(dir string) (*Store, error) {
	pf, err := os.Open(paramsPath(dir))
	if err != nil {
		return nil, fmt.Errorf("store: opening params.txt: %w", err)
	}
	defer pf.Close()
	inst, err := lwe.ReadParams(pf)
	if err != nil {
		return nil, fmt.Errorf("store: parsing params.txt: %w", err)
	}
	s := &Store{Dir: dir, Inst: inst}
	if _, err := os.Stat(infoPath(dir)); err == nil {
		info, err := readInfo(infoPath(dir))
		if err != nil {
			return nil, err
		}
		s.Info = info
		s.Info.Sorted = true
	}
	return s, nil
}

// DataPath returns the samples.dat path for this store.
func (s *Store) DataPath() string { return dataPath(s.Dir) }

// InfoPath returns the samples_info.txt path for this store.
func (s *Store) InfoPath() string { return infoPath(s.Dir) }

// Delete removes the store's folder and its contents, matching
// deleteStorageFolder's "original may be deleted after its successor is
// sealed" lifecycle note in spec.md 3.
func Delete(dir string) error {
	return os.RemoveAll(dir)
}
