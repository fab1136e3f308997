package httpserver

import (
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

type triggerLimiter struct {
	limiter *rate.Limiter
}

func newTriggerLimiter(rps float64, burst int) *triggerLimiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &triggerLimiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// allow reports whether a request may proceed and, if not, how long to wait.
func (l *triggerLimiter) allow(now time.Time) (bool, time.Duration) {
	if l == nil {
		return true, 0
	}
	res := l.limiter.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Second
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, wait := s.limiter.allow(time.Now())
		if !ok {
			seconds := int(wait.Seconds() + 0.999)
			if seconds < 1 {
				seconds = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}
