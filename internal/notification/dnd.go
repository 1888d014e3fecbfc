package notification

import (
	"fmt"
	"regexp"
	"time"
)

var clockRe = regexp.MustCompile(`^([01][0-9]|2[0-3]):([0-5][0-9])$`)

// parseClock converts an "HH:MM" string to minutes since midnight.
func parseClock(s string) (int, error) {
	m := clockRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid clock time %q, expected HH:MM", s)
	}
	var h, min int
	fmt.Sscanf(m[1], "%d", &h)
	fmt.Sscanf(m[2], "%d", &min)
	return h*60 + min, nil
}

// InDNDWindow reports whether now falls inside the preference's
// Do-Not-Disturb window.
//
// The window is [start, end) on the minute grid. A window with start > end
// crosses midnight (22:00-08:00 covers 23:30 but not 09:00). start == end
// means the window covers the whole day. An empty DNDDays set means every
// day. Malformed stored times fail closed: the recipient is treated as not
// in DND, because the caller prefers over-delivery to silent loss.
func InDNDWindow(pref *Preference, now time.Time) bool {
	if pref == nil || !pref.DNDEnabled {
		return false
	}

	if len(pref.DNDDays) > 0 {
		day := int(now.Weekday())
		found := false
		for _, d := range pref.DNDDays {
			if d == day {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	start, err := parseClock(pref.DNDStartTime)
	if err != nil {
		return false
	}
	end, err := parseClock(pref.DNDEndTime)
	if err != nil {
		return false
	}

	minute := now.Hour()*60 + now.Minute()
	switch {
	case start < end:
		return minute >= start && minute < end
	case start > end:
		return minute >= start || minute < end
	default:
		// start == end is a 24h window.
		return true
	}
}
