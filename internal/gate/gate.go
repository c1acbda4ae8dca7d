// Package gate decides stage success from severity-classified diagnostic
// counts returned by the external verify/transform collaborators.
package gate

import (
	"fmt"
	"log/slog"

	kerr "github.com/kiln-build/kiln/internal/errors"
	"github.com/kiln-build/kiln/internal/logfields"
)

// Diagnostics counts a collaborator's findings per severity level.
type Diagnostics struct {
	Critical int
	Errors   int
	Warnings int
}

// Empty reports whether there are no diagnostics at all.
func (d Diagnostics) Empty() bool {
	return d.Critical == 0 && d.Errors == 0 && d.Warnings == 0
}

// Gate is the pass/fail decision for a pipeline stage.
type Gate struct {
	// FailOnWarning promotes warnings to stage failures.
	FailOnWarning bool

	Logger *slog.Logger
}

// Check gates the artifact of one unit. Critical and error diagnostics are
// always fatal for the unit; warnings are fatal only when FailOnWarning is
// set, otherwise they are logged and the stage passes.
func (g Gate) Check(unit string, d Diagnostics) error {
	if d.Critical > 0 {
		return kerr.StageGateFailed(
			fmt.Sprintf("%d critical diagnostic(s) in %s", d.Critical, unit),
		).WithContext("unit", unit)
	}
	if d.Errors > 0 {
		return kerr.StageGateFailed(
			fmt.Sprintf("%d error diagnostic(s) in %s", d.Errors, unit),
		).WithContext("unit", unit)
	}
	if d.Warnings > 0 {
		if g.FailOnWarning {
			return kerr.StageGateFailed(
				fmt.Sprintf("%d warning(s) in %s and fail-on-warning is set", d.Warnings, unit),
			).WithContext("unit", unit)
		}
		log := g.Logger
		if log == nil {
			log = slog.Default()
		}
		log.Warn("Diagnostics found, continuing",
			logfields.Unit(unit),
			slog.Int("warnings", d.Warnings))
	}
	return nil
}
