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

// Command bkwrun drives one BKW reduction pipeline run from a YAML
// schedule: a random LWE instance is generated, reduced step by step,
// optionally mod-2 projected, and solved. Flags name only the schedule
// file and a working directory; hard-coded per-challenge parameter
// schedules and a richer CLI are explicitly out of scope (spec.md 1).
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/fbbl-go/fbbl/category"
	"github.com/fbbl-go/fbbl/lwe"
	"github.com/fbbl-go/fbbl/schedule"
	"github.com/fbbl-go/fbbl/solve"
	"github.com/fbbl-go/fbbl/store"
	"github.com/fbbl-go/fbbl/transition"
)

func main() {
	schedulePath := flag.String("schedule", "", "path to a YAML step schedule")
	workDir := flag.String("dir", "", "working directory for intermediate stores")
	flag.Parse()

	if *schedulePath == "" || *workDir == "" {
		log.Fatal("bkwrun: -schedule and -dir are required")
	}

	runID := uuid.New()
	log.Printf("bkwrun: run %s starting", runID)

	if _, err := run(*schedulePath, *workDir); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			log.Printf("bkwrun: run %s: %v (step skipped)", runID, err)
			os.Exit(100)
		}
		log.Printf("bkwrun: run %s: %v", runID, err)
		os.Exit(1)
	}
	log.Printf("bkwrun: run %s complete", runID)
	os.Exit(0)
}

// RunResult summarizes the solved outcome of one pipeline run: which
// solver ran and the coordinates/peak it settled on.
type RunResult struct {
	SolverKind string
	Positions  []int16
	BruteForce []int16
	PeakValue  float64
}

func run(schedulePath, workDir string) (RunResult, error) {
	sched, err := schedule.Load(schedulePath)
	if err != nil {
		return RunResult{}, err
	}

	inst, err := lwe.NewInstance(sched.N, sched.Q, sched.Alpha)
	if err != nil {
		return RunResult{}, err
	}

	seedDir := filepath.Join(workDir, "seed")
	seedStore, err := store.CreateUnsorted(seedDir, inst)
	if err != nil {
		return RunResult{}, err
	}
	if err := writeRandomSamples(seedStore, sched.NumSeedSamples); err != nil {
		return RunResult{}, err
	}
	consumed, err := transition.ApplyInitialTransform(seedStore)
	if err != nil {
		return RunResult{}, err
	}
	log.Printf("bkwrun: initial transform consumed %d seed samples", consumed)

	current := seedStore
	currentDir := seedDir
	var prevPar category.StepParameters
	for i, stepCfg := range sched.Steps {
		par, err := stepCfg.ToStepParameters()
		if err != nil {
			return RunResult{}, err
		}
		dstDir := filepath.Join(workDir, fmt.Sprintf("step_%02d", i+1))
		if i == 0 {
			current, err = transition.UnsortedToSorted(current, dstDir, par, stepCfg.DstCategoryCapacity)
		} else {
			current, err = transition.BKWStep(current, dstDir, prevPar, par, stepCfg.DstCategoryCapacity, stepCfg.MaxPerPairLF2)
		}
		if err != nil {
			return RunResult{}, err
		}
		if sched.ArchivePredecessors {
			if err := archiveAndRemove(currentDir); err != nil {
				return RunResult{}, err
			}
		}
		currentDir = dstDir
		prevPar = par
	}

	finalDir := filepath.Join(workDir, "final")
	lastPar, err := sched.Steps[len(sched.Steps)-1].ToStepParameters()
	if err != nil {
		return RunResult{}, err
	}
	finalStore, err := transition.FinalStep(current, finalDir, lastPar, 0)
	if err != nil {
		return RunResult{}, err
	}
	if sched.ArchivePredecessors {
		if err := archiveAndRemove(currentDir); err != nil {
			return RunResult{}, err
		}
	}

	solveStore := finalStore
	if sched.Mod2 {
		mod2Dir := filepath.Join(workDir, "mod2")
		solveStore, err = transition.Mod2Projection(finalStore, mod2Dir)
		if err != nil {
			return RunResult{}, err
		}
		if sched.ArchivePredecessors {
			if err := archiveAndRemove(finalDir); err != nil {
				return RunResult{}, err
			}
		}
	}

	switch sched.Solver.Kind {
	case "fft":
		res, err := solve.FFTSolve(solveStore, sched.Solver.StartIndex, sched.Solver.Positions, nil, solve.Float64Precision)
		if err != nil {
			return RunResult{}, err
		}
		log.Printf("bkwrun: fft peak %v at positions %v", res.PeakValue, res.Positions)
		return RunResult{SolverKind: "fft", Positions: res.Positions, PeakValue: res.PeakValue}, nil
	case "fwht":
		res, err := solve.HybridFWHTSolve(solveStore, sched.Solver.StartIndex, sched.Solver.Positions, sched.Solver.BruteForcePositions, sched.Solver.StartIndex+sched.Solver.Positions, sched.Solver.NumThreads, sched.Solver.SoftInformation, sched.Q, inst.Sigma)
		if err != nil {
			return RunResult{}, err
		}
		log.Printf("bkwrun: fwht peak %v bits %v bruteForce %v", res.PeakValue, res.Bits, res.BruteForce)
		return RunResult{SolverKind: "fwht", Positions: res.Bits, BruteForce: res.BruteForce, PeakValue: res.PeakValue}, nil
	default:
		return RunResult{}, fmt.Errorf("bkwrun: unknown solver kind %q", sched.Solver.Kind)
	}
}

// archiveAndRemove packages a now-superseded step directory into a
// sibling .tar.zst and deletes the original, per spec.md 3's "original
// may be deleted after its successor is sealed" lifecycle note.
func archiveAndRemove(dir string) error {
	dest := dir + ".tar.zst"
	if err := store.Archive(dir, dest); err != nil {
		return fmt.Errorf("bkwrun: archiving %s: %w", dir, err)
	}
	if err := store.Delete(dir); err != nil {
		return fmt.Errorf("bkwrun: removing archived %s: %w", dir, err)
	}
	return nil
}

func writeRandomSamples(st *store.Store, count uint64) error {
	f, err := os.OpenFile(st.DataPath(), os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	buf := make([]byte, lwe.RecordSize)
	for i := uint64(0); i < count; i++ {
		s := st.Inst.NewRandomSample()
		s.Encode(buf)
		if _, err := f.Write(buf); err != nil {
			return err
		}
	}
	return nil
}
