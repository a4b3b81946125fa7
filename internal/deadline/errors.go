package deadline

import (
	"fmt"
	"time"
)

// ErrExceeded is returned when elapsed time surpasses the session budget.
type ErrExceeded struct {
	Elapsed time.Duration
	Limit   time.Duration
}

func (e ErrExceeded) Error() string {
	return fmt.Sprintf("session budget exceeded: elapsed=%s limit=%s", e.Elapsed, e.Limit)
}

// ErrConfig reports an invalid deadline configuration value.
type ErrConfig struct {
	Field  string
	Reason string
}

func (e ErrConfig) Error() string {
	return fmt.Sprintf("deadline config %s: %s", e.Field, e.Reason)
}
