package xtime

import "time"

// UTCNow returns the current time in UTC. All persisted timestamps and
// expiry comparisons go through this function.
func UTCNow() time.Time {
	return time.Now().UTC()
}
