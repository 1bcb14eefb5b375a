package replication

import "errors"

var (
	// ErrInvalidVariantCount is returned for a count outside [1, len(Perturbations)].
	ErrInvalidVariantCount = errors.New("invalid variant count")
	// ErrInvalidTargets is returned when a target is not one of the trend's sources.
	ErrInvalidTargets = errors.New("target sources must be a subset of the trend sources")
	// ErrGenerationBackend wraps any failure of one variant's backend call.
	ErrGenerationBackend = errors.New("generation backend error")
	// ErrAllVariantsFailed leaves the opportunity pending for retry.
	ErrAllVariantsFailed = errors.New("all variants failed")
)
