package eventbus

import "time"

// nowUTC is the bus's single time source, isolated so tests can see exactly
// where "now" is read from if a fake clock is ever substituted.
func nowUTC() time.Time {
	return time.Now().UTC()
}
