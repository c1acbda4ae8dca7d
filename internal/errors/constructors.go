package errors

// Constructors for the failure taxonomy used across the pipeline. Each maps
// to one user-visible failure class; callers attach context fields for the
// unit identifier, stage, and paths involved.

// GenerationFailed wraps an upstream producer error (fetch, transform, parse).
// Always fatal for the unit, never for its siblings.
func GenerationFailed(err error, message string) *BuildError {
	return Wrap(err, CategoryGeneration, SeverityFatal, message)
}

// IOFailure wraps a filesystem access error. Fatal for the unit.
func IOFailure(err error, message string) *BuildError {
	return Wrap(err, CategoryIO, SeverityFatal, message)
}

// CacheMiss reports a missing cache entry under a key the decision tree
// claimed was present. This is a programming error, not a user condition.
func CacheMiss(message string) *BuildError {
	return New(CategoryCacheMiss, SeverityFatal, message)
}

// PlacementFailed wraps a copy failure during binary placement. Fatal for
// the whole placement pass, partial output trees are not valid.
func PlacementFailed(err error, message string) *BuildError {
	return Wrap(err, CategoryPlacement, SeverityFatal, message)
}

// StageGateFailed reports that the diagnostic-severity gate rejected an
// artifact. Never downgraded.
func StageGateFailed(message string) *BuildError {
	return New(CategoryGate, SeverityFatal, message)
}

// IsGenerationFailed reports whether err is a generation failure.
func IsGenerationFailed(err error) bool { return IsCategory(err, CategoryGeneration) }

// IsIOFailure reports whether err is a filesystem failure.
func IsIOFailure(err error) bool { return IsCategory(err, CategoryIO) }

// IsCacheMiss reports whether err is a cache invariant violation.
func IsCacheMiss(err error) bool { return IsCategory(err, CategoryCacheMiss) }

// IsPlacementFailed reports whether err is a placement failure.
func IsPlacementFailed(err error) bool { return IsCategory(err, CategoryPlacement) }

// IsStageGateFailed reports whether err is a stage gate rejection.
func IsStageGateFailed(err error) bool { return IsCategory(err, CategoryGate) }
