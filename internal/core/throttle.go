package core

import (
	"time"

	"golang.org/x/time/rate"
)

// maxLoginFailures caps the failures stored per account
const maxLoginFailures = 64

// loginThrottle is a token bucket per account. The bucket is rebuilt for every attempt
// from the failed logins stored with the account, so separate processes share it.
type loginThrottle struct {
	limit rate.Limit
	burst int
}

// newLoginThrottle returns nil, which allows everything, when perSecond or burst is not positive.
func newLoginThrottle(perSecond float64, burst int) *loginThrottle {
	if perSecond <= 0 || burst <= 0 {
		return nil
	}
	return &loginThrottle{limit: rate.Limit(perSecond), burst: burst}
}

// Allow replays failures through a full bucket and takes one token for an attempt at now.
func (l *loginThrottle) Allow(failures []time.Time, now time.Time) bool {
	if l == nil {
		return true
	}
	lim := rate.NewLimiter(l.limit, l.burst)
	for _, at := range failures {
		if at.After(now) {
			at = now
		}
		lim.AllowN(at, 1)
	}
	return lim.AllowN(now, 1)
}

// Window is how long an idle bucket takes to refill. Older failures no longer matter.
func (l *loginThrottle) Window() time.Duration {
	if l == nil {
		return 0
	}
	return time.Duration(float64(l.burst) / float64(l.limit) * float64(time.Second))
}
