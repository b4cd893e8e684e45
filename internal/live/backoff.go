package live

import "time"

// Backoff computes reconnect delays: base, base*m, base*m^2, ... capped at
// max. The first delay after Reset is always base.
type Backoff struct {
	Base       time.Duration
	Max        time.Duration
	Multiplier float64

	attempt int
}

// Next returns the delay before the next reconnect and advances.
func (b *Backoff) Next() time.Duration {
	delay := b.Base
	for i := 0; i < b.attempt; i++ {
		delay = time.Duration(float64(delay) * b.Multiplier)
		if b.Max > 0 && delay >= b.Max {
			delay = b.Max
			break
		}
	}
	if b.Max > 0 && delay > b.Max {
		delay = b.Max
	}
	if delay < b.Base {
		delay = b.Base
	}
	b.attempt++
	return delay
}

// Reset starts the sequence over after a successful connect.
func (b *Backoff) Reset() {
	b.attempt = 0
}
