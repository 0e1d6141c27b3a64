package population

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParseTime parses HH:MM:SS, HH:MM or plain seconds. Hours may exceed 23.
func ParseTime(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrMalformedTime)
	}

	parts := strings.Split(s, ":")
	if len(parts) == 1 {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("%w: %q", ErrMalformedTime, s)
		}
		return v, nil
	}
	if len(parts) > 3 {
		return 0, fmt.Errorf("%w: %q", ErrMalformedTime, s)
	}

	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 {
		return 0, fmt.Errorf("%w: %q", ErrMalformedTime, s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("%w: %q", ErrMalformedTime, s)
	}
	var sec float64
	if len(parts) == 3 {
		sec, err = strconv.ParseFloat(parts[2], 64)
		if err != nil || sec < 0 || sec >= 60 {
			return 0, fmt.Errorf("%w: %q", ErrMalformedTime, s)
		}
	}
	return float64(h*3600+m*60) + sec, nil
}

// FormatTime renders seconds as HH:MM:SS, keeping any fractional seconds.
func FormatTime(v float64) string {
	neg := v < 0
	if neg {
		v = -v
	}
	whole := math.Floor(v)
	total := int64(whole)
	h, m, s := total/3600, (total%3600)/60, total%60

	out := fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	if frac := v - whole; frac > 0 {
		out += strings.TrimPrefix(strconv.FormatFloat(frac, 'f', -1, 64), "0")
	}
	if neg {
		out = "-" + out
	}
	return out
}
