//go:build darwin

package clone

// platformStrategies on macOS: APFS clonefile through cp, then ditto.
func platformStrategies() []Strategy {
	return []Strategy{
		CommandStrategy("cp", "cp", func(src, dst string) []string {
			return []string{"-cR", src, dst}
		}),
		CommandStrategy("ditto", "ditto", func(src, dst string) []string {
			return []string{"--clone", src, dst}
		}),
	}
}
