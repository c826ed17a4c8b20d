package quality

import "errors"

var (
	// ErrInsufficientData is returned when fewer than MinSamples samples
	// exist; a single-sample mean is not a confidence interval.
	ErrInsufficientData = errors.New("insufficient data for statistics")

	errWeightsMustSumToOne = errors.New("quality weights must sum to 1.0")
	errWeightOutOfRange    = errors.New("quality weight out of [0,1]")
	errBaselineOutOfRange  = errors.New("baseline out of [0,1]")
)
