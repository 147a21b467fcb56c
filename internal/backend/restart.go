package backend

import (
	"time"

	"github.com/stacklok/mcprelay/internal/config"
)

// nextRestartDelay implements spec §4.2's restart policy: "backoff starts
// at 1s, doubles to a ceiling (e.g., 30s)". attempt is 1-indexed. The bool
// return is false once the policy's restart ceiling (MaxRestarts) has been
// exceeded, at which point the backend is permanently down.
func nextRestartDelay(p config.RestartPolicy, attempt int) (time.Duration, bool) {
	if p.MaxRestarts > 0 && attempt > p.MaxRestarts {
		return 0, false
	}

	initial := p.InitialDelay
	if initial <= 0 {
		initial = time.Second
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}

	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			delay = maxDelay
			break
		}
	}
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay, true
}
