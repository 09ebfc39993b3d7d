package timeline

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"montage/internal/pkg/errors"
)

// ParseTimecode parses "HH:MM:SS" (hours may be one digit).
func ParseTimecode(tc string) (time.Duration, error) {
	parts := strings.Split(strings.TrimSpace(tc), ":")
	if len(parts) != 3 {
		return 0, errors.Validationf("timecode %q is not HH:MM:SS", tc)
	}
	var vals [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, errors.Validationf("timecode %q is not HH:MM:SS", tc)
		}
		if i > 0 && n > 59 {
			return 0, errors.Validationf("timecode %q has out of range minutes or seconds", tc)
		}
		vals[i] = n
	}
	return time.Duration(vals[0])*time.Hour +
		time.Duration(vals[1])*time.Minute +
		time.Duration(vals[2])*time.Second, nil
}

// TrimFrames converts a begin/end trim window into a frame count.
func TrimFrames(begin, end string, fps int) (int, error) {
	b, err := ParseTimecode(begin)
	if err != nil {
		return 0, err
	}
	e, err := ParseTimecode(end)
	if err != nil {
		return 0, err
	}
	if e < b {
		return 0, errors.Validationf("trim end %s is before begin %s", end, begin)
	}
	return int((e - b).Seconds()) * fps, nil
}

// FormatTimecode renders seconds as HH:MM:SS.
func FormatTimecode(d time.Duration) string {
	s := int(d.Seconds())
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, (s/60)%60, s%60)
}
