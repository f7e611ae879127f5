// Package timex contains time helpers shared by config loading and services.
package timex

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration decodes from JSON as either a Go duration string ("90s", "15m")
// or an integer number of nanoseconds.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		d.Duration = parsed
		return nil
	default:
		return fmt.Errorf("invalid duration: %s", string(b))
	}
}

// Clock abstracts the current time so TTL and inactivity arithmetic can be
// pinned in tests.
type Clock func() time.Time

// Now returns the wall clock in UTC when c is nil.
func (c Clock) Now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c()
}

// Fixed returns a Clock stuck at t.
func Fixed(t time.Time) Clock {
	return func() time.Time { return t }
}
