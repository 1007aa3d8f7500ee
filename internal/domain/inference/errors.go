package inference

import "errors"

// ErrInvalidConfidenceWeights is returned for negative confidence weights.
var ErrInvalidConfidenceWeights = errors.New("invalid confidence weights")
