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
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// Archive packages a sealed store's three files (params.txt,
// samples_info.txt, samples.dat) into a single zstd-compressed tar at
// destPath, so that a reduction step whose successor has already been
// sealed can be moved to cold storage instead of deleted outright
// (spec.md 3's "original may be deleted after its successor is sealed"
// names deletion; archiving is the same lifecycle point applied to
// runs worth keeping for replay instead of discarding).
func Archive(dir, destPath string) error {
	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("store: creating archive %s: %w", destPath, err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("store: opening zstd writer: %w", err)
	}
	defer zw.Close()

	tw := tar.NewWriter(zw)
	defer tw.Close()

	for _, name := range []string{paramsFileName, infoFileName, dataFileName} {
		if err := addArchiveMember(tw, dir, name); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("store: closing archive tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("store: closing archive zstd stream: %w", err)
	}
	return nil
}

func addArchiveMember(tw *tar.Writer, dir, name string) error {
	path := filepath.Join(dir, name)
	fi, err := os.Stat(path)
	if os.IsNotExist(err) && name == infoFileName {
		return nil // unsorted stores have no samples_info.txt yet
	}
	if err != nil {
		return fmt.Errorf("store: statting %s: %w", path, err)
	}
	if err := tw.WriteHeader(&tar.Header{Name: name, Size: fi.Size(), Mode: 0o644}); err != nil {
		return fmt.Errorf("store: writing archive header for %s: %w", name, err)
	}
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("store: opening %s: %w", path, err)
	}
	defer src.Close()
	if _, err := io.Copy(tw, src); err != nil {
		return fmt.Errorf("store: copying %s into archive: %w", name, err)
	}
	return nil
}

// Unarchive restores a store folder previously written by Archive.
func Unarchive(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("store: opening archive %s: %w", archivePath, err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("store: opening zstd reader: %w", err)
	}
	defer zr.Close()

	if err := mkStoreDir(destDir); err != nil {
		return err
	}

	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("store: reading archive tar: %w", err)
		}
		dst, err := os.OpenFile(filepath.Join(destDir, hdr.Name), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return fmt.Errorf("store: creating %s: %w", hdr.Name, err)
		}
		if _, err := io.Copy(dst, tr); err != nil {
			dst.Close()
			return fmt.Errorf("store: writing %s: %w", hdr.Name, err)
		}
		dst.Close()
	}
	return nil
}
