package backoff

import (
	"math/rand"
	"time"
)

// JitterType selects how NewJitterFunc perturbs an interval.
type JitterType int

const (
	// NoJitter returns the interval unchanged.
	NoJitter JitterType = iota
	// FullJitter returns a random duration in [0, interval].
	FullJitter
	// Jitter returns a random duration in [interval/2, interval*1.5].
	Jitter
)

// JitterFunc perturbs a base interval and returns the duration to actually wait.
type JitterFunc func(interval time.Duration) time.Duration

// NewJitterFunc returns the JitterFunc for the given JitterType.
func NewJitterFunc(jt JitterType) JitterFunc {
	switch jt {
	case FullJitter:
		return fullJitter
	case Jitter:
		return halfJitter
	default:
		return noJitter
	}
}

func noJitter(interval time.Duration) time.Duration {
	if interval <= 0 {
		return 0
	}
	return interval
}

func fullJitter(interval time.Duration) time.Duration {
	if interval <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(interval) + 1))
}

func halfJitter(interval time.Duration) time.Duration {
	if interval <= 0 {
		return 0
	}
	half := interval / 2
	return half + time.Duration(rand.Int63n(int64(interval)+1))
}

// WithJitter wraps a RetryPolicy so every computed interval is perturbed by jt
// before it is returned to the caller.
func WithJitter(policy RetryPolicy, jt JitterType) RetryPolicy {
	return &jitteredPolicy{policy: policy, jitterFunc: NewJitterFunc(jt)}
}

type jitteredPolicy struct {
	policy     RetryPolicy
	jitterFunc JitterFunc
}

func (p *jitteredPolicy) ComputeNextInterval(retryCount int, elapsedTime time.Duration, err error) (time.Duration, error) {
	interval, computeErr := p.policy.ComputeNextInterval(retryCount, elapsedTime, err)
	if computeErr != nil {
		return 0, computeErr
	}
	return p.jitterFunc(interval), nil
}
