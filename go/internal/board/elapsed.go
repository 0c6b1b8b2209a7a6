package board

import (
	"fmt"
	"time"
)

// FormatElapsed renders milliseconds as MM:SS. Minutes are not capped.
func FormatElapsed(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	total := ms / 1000
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// Elapsed formats the time between since and now
func Elapsed(since, now time.Time) string {
	return FormatElapsed(now.Sub(since).Milliseconds())
}
