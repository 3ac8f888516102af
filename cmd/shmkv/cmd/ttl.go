package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/leonardcser/shmkv/internal/cache"
)

// parseTTL accepts a Go duration or a number of seconds. Empty means no
// expiry.
func parseTTL(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, &CLIError{
			Code:     cache.CodeBadRequest,
			Message:  fmt.Sprintf("invalid --ttl %q", s),
			Hint:     "Use a duration such as 30s or 15m, or a number of seconds",
			ExitCode: ExitUsage,
		}
	}
	return d, nil
}
