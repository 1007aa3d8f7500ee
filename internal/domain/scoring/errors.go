package scoring

import "errors"

// ErrFeatureLength is returned when a vector does not match the model's input size.
var ErrFeatureLength = errors.New("feature vector length mismatch")
