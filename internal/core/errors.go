package core

import "errors"

// Sentinel errors classify failures. Wrap them with fmt.Errorf("...: %w").
var (
	// ErrMetadata means field definitions were missing or malformed.
	ErrMetadata = errors.New("invalid field metadata")

	// ErrFormat means the input file could not be parsed as delimited text.
	ErrFormat = errors.New("invalid file format")

	// ErrRule means a single score rule was malformed. Never fatal.
	ErrRule = errors.New("malformed score rule")

	// ErrPersistence means a batch or counter write failed.
	ErrPersistence = errors.New("persistence failure")

	// ErrNotClaimable means the file is not in a claimable state.
	ErrNotClaimable = errors.New("file not claimable")

	// ErrNotFound means no file exists with the given id.
	ErrNotFound = errors.New("file not found")

	// ErrInvalidTransition means the requested status change is not allowed.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrTooManyRuns means the run limiter is full.
	ErrTooManyRuns = errors.New("too many concurrent runs")

	// ErrInvalidInput means a registration or API request was incomplete.
	ErrInvalidInput = errors.New("invalid input")
)
