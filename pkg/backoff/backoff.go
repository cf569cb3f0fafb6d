// Package backoff implements the exponential-backoff-with-jitter policy
// shared by the streaming gateway's upstream reconnects and the control
// adapter's event-stream reconnects.
package backoff

import (
	"math/rand"
	"time"
)

// Policy is an exponential backoff with a base delay, a cap and jitter,
// grounded on the retry/circuit-breaker plumbing in the teacher's Deepgram
// WebSocket client: delay(k) = min(base*2^k, max) + rand[0, jitter].
type Policy struct {
	Base   time.Duration
	Max    time.Duration
	Jitter time.Duration
}

// Default returns the policy mandated by spec.md §4.4/§8 for SgwSession
// reconnects: base 500ms, cap 8s, jitter up to 200ms.
func Default() Policy {
	return Policy{Base: 500 * time.Millisecond, Max: 8 * time.Second, Jitter: 200 * time.Millisecond}
}

// Delay returns the wait duration before reconnect attempt number attempt
// (0-indexed: the delay before the first retry after the initial failure).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	// Cap the exponent so the multiplication cannot overflow for a
	// pathologically large attempt count; anything beyond this already
	// saturates at p.Max.
	const maxExponent = 32
	exp := attempt
	if exp > maxExponent {
		exp = maxExponent
	}

	delay := p.Base
	for i := 0; i < exp && delay < p.Max; i++ {
		delay *= 2
	}
	if delay > p.Max {
		delay = p.Max
	}

	if p.Jitter > 0 {
		delay += time.Duration(rand.Int63n(int64(p.Jitter) + 1))
	}
	return delay
}
