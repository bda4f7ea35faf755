package backoff

import "time"

// Defaults for the restart backoff schedule.
const (
	DefaultBase = 5 * time.Second
	DefaultMax  = 300 * time.Second
)

// Policy computes the wait before the next restart attempt of a failing
// service. The zero value is not usable; use Default() or fill both fields.
type Policy struct {
	Base time.Duration
	Max  time.Duration
}

// Default returns the standard 5s-doubling schedule capped at 300s.
func Default() Policy {
	return Policy{Base: DefaultBase, Max: DefaultMax}
}

// Next steps the schedule by one restart attempt: from a zero current
// delay it returns Base, otherwise the doubled delay capped at Max. The
// caller resets the delay to zero on a healthy verdict.
func (p Policy) Next(cur time.Duration) time.Duration {
	if cur <= 0 {
		return p.Base
	}
	d := cur * 2
	if d > p.Max {
		return p.Max
	}
	return d
}

// Delay returns 0 for zero consecutive failures, otherwise
// min(Base * 2^(failures-1), Max). The sequence is non-decreasing.
func (p Policy) Delay(consecutiveFailures int) time.Duration {
	if consecutiveFailures <= 0 {
		return 0
	}
	d := p.Base
	for i := 1; i < consecutiveFailures; i++ {
		d *= 2
		if d >= p.Max {
			return p.Max
		}
	}
	if d > p.Max {
		return p.Max
	}
	return d
}
