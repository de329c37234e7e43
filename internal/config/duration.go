package config

import (
	"fmt"
	"strings"
	"time"
)

// Duration fields travel through the config file as Go duration
// strings ("250ms", "15s", "2m"); parsing happens once, at mapping
// time, so a typo surfaces at boot or reload instead of mid-dispatch.

// ParseDurationField parses raw, treating empty input as zero. The
// path names the offending field in errors.
func ParseDurationField(path, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %q is not a duration: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: %q must not be negative", path, raw)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def substituted
// when the field is empty or zero. Invalid input still errors rather
// than silently defaulting.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
