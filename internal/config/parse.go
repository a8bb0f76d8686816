package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Larkinyegor/telegram-bot-bw/pkg/daytime"
)

func parseDuration(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault returns def when raw is empty. An explicit "0s" is
// kept as zero so options can be switched off.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	return parseDuration(path, raw)
}

func ParseClockOrDefault(path, raw string, def daytime.Clock) (daytime.Clock, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	c, err := daytime.Parse(raw)
	if err != nil {
		return daytime.Clock{}, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}
