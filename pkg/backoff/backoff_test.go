package backoff

import (
	"testing"
	"time"
)

func TestDelayMonotonicity(t *testing.T) {
	p := Default()
	for attempt := 0; attempt < 6; attempt++ {
		base := p.Base * time.Duration(1<<uint(attempt))
		if base > p.Max {
			base = p.Max
		}
		for i := 0; i < 50; i++ {
			d := p.Delay(attempt)
			if d < base {
				t.Fatalf("attempt %d: delay %v below base %v", attempt, d, base)
			}
			if d > base+p.Jitter {
				t.Fatalf("attempt %d: delay %v exceeds base+jitter %v", attempt, d, base+p.Jitter)
			}
			if d > p.Max+p.Jitter {
				t.Fatalf("attempt %d: delay %v exceeds cap+jitter %v", attempt, d, p.Max+p.Jitter)
			}
		}
	}
}

func TestDelayCapsAtMax(t *testing.T) {
	p := Default()
	d := p.Delay(20)
	if d < p.Max || d > p.Max+p.Jitter {
		t.Errorf("expected delay near cap %v, got %v", p.Max, d)
	}
}

func TestDelayNegativeAttemptTreatedAsZero(t *testing.T) {
	p := Default()
	d := p.Delay(-3)
	if d < p.Base || d > p.Base+p.Jitter {
		t.Errorf("expected delay near base %v for negative attempt, got %v", p.Base, d)
	}
}
