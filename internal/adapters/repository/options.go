package repository

// Option applies a configuration option to the MemoryEvidence store.
type Option func(*MemoryEvidence)

// WithFeatureNames names the model features. The vector length served by
// Features follows the number of names: short vectors are padded with NaN
// (missing) and long ones truncated.
func WithFeatureNames(names []string) Option {
	return func(s *MemoryEvidence) {
		if len(names) > 0 {
			s.featureNames = append([]string(nil), names...)
		}
	}
}
