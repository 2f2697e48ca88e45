// Package duration parses the extended duration grammar used throughout
// the precache configuration: the standard time.ParseDuration units plus
// day, week and year suffixes, and an "unlimited" sentinel.
package duration

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Unlimited is the sentinel value returned for the "unlimited" literal.
// A duration field set to Unlimited disables whatever threshold it guards.
const Unlimited time.Duration = -1

const (
	day  = 24 * time.Hour
	week = 7 * day
	// year is calendar-relative, not a fixed multiple of day; Parse handles
	// the "y" suffix by advancing a real calendar date rather than using
	// this constant directly.
	year = 365 * day
)

var extendedPattern = regexp.MustCompile(`(?i)^\s*(\d+(?:\.\d+)?)\s*(d|w|y)\s*$`)

// Parse parses a duration string. It accepts everything time.ParseDuration
// accepts (ns, us/µs, ms, s, m, h, and combinations like "1h30m"), plus
// bare "d" (day), "w" (week) and "y" (year) suffixes, and the literal
// "unlimited" (case-insensitive), which returns Unlimited.
//
// The "y" suffix is calendar-relative: "1y" is the duration from now to
// the same date one year from now, which varies with leap years. All
// other units are fixed-length.
func Parse(s string) (time.Duration, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, fmt.Errorf("empty duration string")
	}

	if strings.EqualFold(trimmed, "unlimited") {
		return Unlimited, nil
	}

	if matches := extendedPattern.FindStringSubmatch(trimmed); matches != nil {
		n, err := strconv.ParseFloat(matches[1], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number in duration: %q", matches[1])
		}

		switch strings.ToLower(matches[2]) {
		case "d":
			return time.Duration(n * float64(day)), nil
		case "w":
			return time.Duration(n * float64(week)), nil
		case "y":
			return yearsFromNow(n), nil
		}
	}

	d, err := time.ParseDuration(trimmed)
	if err != nil {
		return 0, fmt.Errorf("invalid duration format: %q", s)
	}
	return d, nil
}

// yearsFromNow computes the duration to n years from the current instant,
// honouring calendar month/day-length variation the way AddDate does.
func yearsFromNow(n float64) time.Duration {
	whole := int(n)
	frac := n - float64(whole)

	now := time.Now()
	then := now.AddDate(whole, 0, 0)
	d := then.Sub(now)
	if frac != 0 {
		d += time.Duration(frac * float64(year))
	}
	return d
}

// UnmarshalText implements encoding.TextUnmarshaler so Duration values can
// be decoded directly by mapstructure/yaml the same way bytesize.ByteSize is.
type Duration time.Duration

// UnmarshalText parses the extended duration grammar into a Duration.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// String renders the duration, using "unlimited" for the sentinel value.
func (d Duration) String() string {
	if time.Duration(d) == Unlimited {
		return "unlimited"
	}
	return time.Duration(d).String()
}

// IsUnlimited reports whether d represents the "unlimited" sentinel.
func (d Duration) IsUnlimited() bool {
	return time.Duration(d) == Unlimited
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
