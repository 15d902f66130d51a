package obs

import (
	"path/filepath"
	"strings"
	"time"
)

// recordingTimeLayout is OBS's default "%CCYY-%MM-%DD %hh-%mm-%ss" filename
// format.
const recordingTimeLayout = "2006-01-02 15-04-05"

// ExtractStartTime recovers the recording start time embedded in an output
// filename. Used to backfill a battle's start time when the matchmaking
// screen was never observed.
func ExtractStartTime(path string) (time.Time, bool) {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	start, err := time.ParseInLocation(recordingTimeLayout, base, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return start, true
}
