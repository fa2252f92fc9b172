//go:build linux

package clone

import "context"

// platformStrategies on Linux: reflink through GNU cp, then a per-file
// FICLONE walk for systems whose cp lacks --reflink.
func platformStrategies() []Strategy {
	return []Strategy{
		CommandStrategy("cp", "cp", func(src, dst string) []string {
			return []string{"-a", "--reflink=always", src, dst}
		}),
		StrategyFunc("ficlone", func(ctx context.Context, src, dst string) error {
			return copyTree(ctx, src, dst, cloneFile)
		}),
	}
}
