//go:build !darwin && !linux

package clone

// No copy-on-write clone tool is known for this platform. Clone fails unless
// the copy strategy is enabled.
func platformStrategies() []Strategy {
	return nil
}
