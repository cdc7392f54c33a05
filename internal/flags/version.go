package flags

import (
	"fmt"
	"time"
)

// NewVersion derives a snapshot version from wall-clock components, e.g.
// "2026.8.30.1542". Versions are comparable as strings only within the same
// granularity; this is not a semantic version. The unpadded layout is kept
// for compatibility with snapshots already in the remote store.
func NewVersion(now time.Time) string {
	return fmt.Sprintf("%d.%d.%d.%d%d",
		now.Year(), int(now.Month()), now.Day(), now.Hour(), now.Minute())
}
