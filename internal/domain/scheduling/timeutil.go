package scheduling

import (
	"strings"
	"time"
)

var twelveHourLayouts = []string{"3:04 PM", "3:04PM", "3:04:05 PM", "3:04:05PM", "3 PM", "3PM"}

// NormalizeTime converts a stored wall-clock string to "HH:MM" so it can be
// compared with grid labels. Legacy rows hold "09:00", "9:00:00" or "2:30 PM".
// Input that cannot be understood is returned unchanged.
func NormalizeTime(s string) string {
	if s == "" {
		return ""
	}

	upper := strings.ToUpper(strings.TrimSpace(s))
	if strings.Contains(upper, "AM") || strings.Contains(upper, "PM") {
		for _, layout := range twelveHourLayouts {
			if t, err := time.Parse(layout, upper); err == nil {
				return t.Format("15:04")
			}
		}
		return s
	}

	parts := strings.Split(s, ":")
	if len(parts) < 2 {
		return s
	}
	return padTwo(parts[0]) + ":" + padTwo(parts[1])
}

func padTwo(p string) string {
	if len(p) >= 2 {
		return p
	}
	return strings.Repeat("0", 2-len(p)) + p
}
