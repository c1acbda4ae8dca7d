package placement

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	kerr "github.com/kiln-build/kiln/internal/errors"
	"github.com/kiln-build/kiln/internal/footprint"
	"github.com/kiln-build/kiln/internal/logfields"
)

// Result classifies what happened to one candidate file.
type Result string

const (
	ResultPlaced      Result = "placed"
	ResultSkipped     Result = "skipped"
	ResultOverwritten Result = "overwritten"
)

// Resolver copies qualifying files from dependency trees into the output
// tree exactly once, consulting the ledger for collision decisions.
type Resolver struct {
	OutputDir string
	Ledger    *Ledger

	// Rewrite allows a later dependency to overwrite differing content.
	// When false, the first writer wins and later conflicts are only logged.
	Rewrite bool

	Includes []string
	Excludes []string

	// Observer receives the result of each candidate file; may be nil.
	Observer func(Result)

	Logger *slog.Logger
}

// Counts summarizes one dependency tree's placement pass.
type Counts struct {
	Placed      int
	Skipped     int
	Overwritten int
}

// PlaceTree places every qualifying file from one dependency's extracted
// tree. An I/O failure on any single file is fatal for the whole pass:
// partial output trees are not valid.
func (r *Resolver) PlaceTree(dependency, dir string) (Counts, error) {
	log := r.logger()
	if r.Ledger.FindDependency(dependency) {
		log.Debug("Found previously placed binaries", logfields.Dependency(dependency))
	}

	files, err := Walk(dir, r.Includes, r.Excludes)
	if err != nil {
		return Counts{}, kerr.IOFailure(err, fmt.Sprintf("walk dependency tree %s", dir))
	}

	var counts Counts
	for _, rel := range files {
		result, err := r.placeFile(dependency, filepath.Join(dir, filepath.FromSlash(rel)), rel)
		if err != nil {
			return counts, err
		}
		switch result {
		case ResultPlaced:
			counts.Placed++
		case ResultOverwritten:
			counts.Overwritten++
		case ResultSkipped:
			counts.Skipped++
		}
		if r.Observer != nil {
			r.Observer(result)
		}
	}
	r.Ledger.PlaceDependency(dependency)

	if counts.Placed+counts.Overwritten > 0 {
		log.Debug("Placed binary files",
			logfields.Dependency(dependency),
			slog.Int("placed", counts.Placed),
			slog.Int("overwritten", counts.Overwritten),
			slog.Int("total", len(files)))
	} else {
		log.Debug("No binary files placed",
			logfields.Dependency(dependency),
			slog.Int("total", len(files)))
	}
	return counts, nil
}

// placeFile decides and executes the fate of a single candidate file.
func (r *Resolver) placeFile(dependency, file, rel string) (Result, error) {
	log := r.logger()
	target := filepath.Join(r.OutputDir, filepath.FromSlash(rel))

	candidateInfo, err := os.Stat(file)
	if err != nil {
		return "", kerr.PlacementFailed(err, fmt.Sprintf("stat candidate %s", file)).
			WithContext("target", target)
	}

	record, active := r.Ledger.Find(target)
	if active && record.Unplaced {
		active = false
	}

	if active {
		targetInfo, statErr := os.Stat(target)
		switch {
		case statErr != nil:
			// Placed before, but the file is gone from the output tree.
			log.Info("Previously placed file is gone, replacing",
				logfields.Target(target),
				logfields.Dependency(record.Dependency))
		case targetInfo.Size() == candidateInfo.Size():
			// Same size is taken as same content. This is a deliberate weak
			// equality check, not a hash comparison; the cache layout and
			// existing ledgers depend on it.
			if record.Dependency != dependency {
				log.Debug("Same file already placed by another dependency, skipping",
					logfields.Target(target),
					logfields.Dependency(record.Dependency))
			} else {
				log.Debug("File already placed, skipping", logfields.Target(target))
			}
			r.Ledger.Put(target, record.Dependency, targetInfo.Size())
			return ResultSkipped, nil
		case !r.Rewrite:
			log.Warn("Conflicting file already placed, skipping",
				logfields.Target(target),
				logfields.Dependency(record.Dependency),
				slog.Int64("placed_size", targetInfo.Size()),
				slog.Int64("candidate_size", candidateInfo.Size()))
			r.Ledger.Put(target, record.Dependency, targetInfo.Size())
			return ResultSkipped, nil
		default:
			log.Debug("Conflicting file already placed, replacing",
				logfields.Target(target),
				logfields.Dependency(record.Dependency),
				slog.Int64("placed_size", targetInfo.Size()),
				slog.Int64("candidate_size", candidateInfo.Size()))
		}
	}

	generated := footprint.Generated{Gen: func(src string) ([]byte, error) {
		return os.ReadFile(src)
	}}
	// Without an active record the target is placed unconditionally, even
	// over a stale file left behind by an unplaced record. The existence
	// gate applies only to active-record replacements.
	var placer footprint.Footprint = generated
	if active {
		placer = footprint.IfTargetExists{
			Then: footprint.ForkBool(r.Rewrite, generated, footprint.Ignore{}),
			Else: generated,
		}
	}
	if _, err := placer.Apply(file, target); err != nil {
		return "", kerr.PlacementFailed(err, fmt.Sprintf("place %s", file)).
			WithContext("target", target).
			WithContext("dependency", dependency)
	}
	r.Ledger.Put(target, dependency, candidateInfo.Size())

	if active {
		return ResultOverwritten, nil
	}
	return ResultPlaced, nil
}

func (r *Resolver) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
