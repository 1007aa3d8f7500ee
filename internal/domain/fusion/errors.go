package fusion

import "errors"

// ErrDuplicateCollector is returned when two collectors claim one source.
var ErrDuplicateCollector = errors.New("duplicate collector")
