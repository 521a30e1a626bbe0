package resilience

import "time"

// Backoff is a capped exponential delay.
type Backoff struct {
	Initial time.Duration // first delay (ex: 1s)
	Max     time.Duration // cap (ex: 30s)
	Factor  float64       // growth per failure, 2 when unset
}

// DefaultBackoff is used when a Runner is built with a zero Backoff.
var DefaultBackoff = Backoff{Initial: time.Second, Max: 30 * time.Second, Factor: 2}

// Next returns the delay following prev. A zero prev yields Initial.
func (b Backoff) Next(prev time.Duration) time.Duration {
	b = b.normalize()
	if prev <= 0 {
		return b.Initial
	}

	next := time.Duration(float64(prev) * b.Factor)
	if next > b.Max || next <= 0 {
		next = b.Max
	}
	return next
}

func (b Backoff) normalize() Backoff {
	if b.Initial <= 0 {
		b.Initial = DefaultBackoff.Initial
	}
	if b.Max <= 0 {
		b.Max = DefaultBackoff.Max
	}
	if b.Max < b.Initial {
		b.Max = b.Initial
	}
	if b.Factor < 1 {
		b.Factor = DefaultBackoff.Factor
	}
	return b
}
