// Package blockmatch computes dense disparity maps from rectified stereo pairs
// and reprojects them to 3D with a disparity-to-depth matrix. Matcher
// parameters are validated when set, never at computation time, so an invalid
// configuration can never silently degrade output.
package blockmatch

import "github.com/pkg/errors"

// ErrBadBlockMatcherArgument is the root of every parameter validation error;
// the per-parameter sentinels below all wrap it.
var ErrBadBlockMatcherArgument = errors.New("bad argument supplied for a block matcher")

var (
	// ErrInvalidSearchRange rejects a StereoBM search range that is not a
	// multiple of 16.
	ErrInvalidSearchRange = errors.Wrap(ErrBadBlockMatcherArgument,
		"search range must be a non-negative multiple of 16")
	// ErrInvalidWindowSize rejects a StereoBM window size outside the odd
	// 5..255 range.
	ErrInvalidWindowSize = errors.Wrap(ErrBadBlockMatcherArgument,
		"window size must be an odd number between 5 and 255")
	// ErrInvalidNumDisparities rejects an SGBM disparity count that is not a
	// positive multiple of 16.
	ErrInvalidNumDisparities = errors.Wrap(ErrBadBlockMatcherArgument,
		"number of disparities must be a positive multiple of 16")
	// ErrInvalidSADWindowSize rejects an SGBM SAD window outside the odd
	// 1..11 range.
	ErrInvalidSADWindowSize = errors.Wrap(ErrBadBlockMatcherArgument,
		"SAD window size must be odd and within 1 to 11")
	// ErrInvalidFirstDisparityChangePenalty requires P1 < P2.
	ErrInvalidFirstDisparityChangePenalty = errors.Wrap(ErrBadBlockMatcherArgument,
		"first disparity change penalty must be positive and less than the second")
	// ErrInvalidSecondDisparityChangePenalty requires P2 > P1.
	ErrInvalidSecondDisparityChangePenalty = errors.Wrap(ErrBadBlockMatcherArgument,
		"second disparity change penalty must be greater than the first")
	// ErrInvalidUniquenessRatio bounds the uniqueness ratio to 5..15.
	ErrInvalidUniquenessRatio = errors.Wrap(ErrBadBlockMatcherArgument,
		"uniqueness ratio must be between 5 and 15")
	// ErrInvalidSpeckleWindowSize allows 0 (disabled) or 50..200.
	ErrInvalidSpeckleWindowSize = errors.Wrap(ErrBadBlockMatcherArgument,
		"speckle window size must be 0 to disable the check or between 50 and 200")
	// ErrInvalidSpeckleRange rejects negative speckle ranges.
	ErrInvalidSpeckleRange = errors.Wrap(ErrBadBlockMatcherArgument,
		"speckle range cannot be negative")
)
