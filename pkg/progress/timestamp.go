package progress

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Largest timestamp that still fits a time.Duration.
var maxTimestampSeconds = float64(math.MaxInt64/int64(time.Second)) - 1

// ParseTimestamp converts an ffmpeg style HH:MM:SS[.frac] timestamp into a
// duration. When ceil is set the seconds field is rounded up, which gives a
// conservative bound for duration estimates.
func ParseTimestamp(ts string, ceil bool) (time.Duration, error) {
	ts = strings.TrimSpace(ts)
	parts := strings.Split(ts, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("malformed timestamp %q", ts)
	}

	hours, err := strconv.Atoi(parts[0])
	if err != nil || hours < 0 {
		return 0, fmt.Errorf("malformed hours in %q", ts)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("malformed minutes in %q", ts)
	}
	seconds, err := strconv.ParseFloat(parts[2], 64)
	if err != nil || seconds < 0 || seconds >= 60 || math.IsNaN(seconds) {
		return 0, fmt.Errorf("malformed seconds in %q", ts)
	}
	if ceil {
		seconds = math.Ceil(seconds)
	}

	total := float64(hours)*3600 + float64(minutes)*60 + seconds
	if total > maxTimestampSeconds {
		return 0, fmt.Errorf("timestamp %q out of range", ts)
	}
	return time.Duration(total * float64(time.Second)), nil
}

// FormatTimestamp renders d in the HH:MM:SS.mmm shape ffmpeg accepts for -ss.
func FormatTimestamp(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute
	millis := d / time.Millisecond
	return fmt.Sprintf("%02d:%02d:%02d.%03d", hours, minutes, millis/1000, millis%1000)
}
