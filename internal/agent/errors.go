package agent

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// TimeoutError is raised when an invocation exceeded its deadline. It
// carries whatever partial output the stream produced before the process
// was killed.
type TimeoutError struct {
	Elapsed       time.Duration
	PartialOutput string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("agent invocation timed out after %s (%d bytes of partial output)",
		e.Elapsed.Round(time.Second), len(e.PartialOutput))
}

// transientMarkers are substrings of agent/stderr output that indicate an
// error worth retrying. Everything else propagates immediately.
var transientMarkers = []string{
	"connection reset",
	"connection refused",
	"rate limit",
	"rate_limit",
	"overloaded",
	"429",
	"503",
	"temporarily unavailable",
}

// IsTransient classifies an error as retryable: timeouts, connection resets,
// rate limiting. Permanent failures (bad config, missing binary, non-zero
// exit with a real error message) are not transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var timeout *TimeoutError
	if errors.As(err, &timeout) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
