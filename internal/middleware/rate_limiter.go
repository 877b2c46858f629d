package middleware

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"
)

// idleTTL is how long a client may stay silent before its limiter is dropped.
const idleTTL = 3 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type rateLimiter struct {
	bucket    map[string]*visitor
	rate      rate.Limit
	burstSize int
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
	mutex     sync.Mutex
}

func newRateLimiter(reqRate rate.Limit, burstSize int) *rateLimiter {
	if burstSize < 1 {
		burstSize = 1
	}
	return &rateLimiter{
		bucket:    make(map[string]*visitor),
		rate:      reqRate,
		burstSize: burstSize,
		idleTTL:   idleTTL,
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

func (r *rateLimiter) GetLimiterFrom(ip string) *rate.Limiter {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	now := r.now()
	if now.Sub(r.lastSweep) >= r.idleTTL {
		r.sweep(now)
	}

	v, exist := r.bucket[ip]
	if !exist {
		v = &visitor{limiter: rate.NewLimiter(r.rate, r.burstSize)}
		r.bucket[ip] = v
	}
	v.lastSeen = now

	return v.limiter
}

// sweep drops visitors idle for longer than idleTTL. Callers hold the mutex.
func (r *rateLimiter) sweep(now time.Time) {
	for ip, v := range r.bucket {
		if now.Sub(v.lastSeen) >= r.idleTTL {
			delete(r.bucket, ip)
		}
	}
	r.lastSweep = now
}

func (r *rateLimiter) size() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.bucket)
}

// NewRateLimiter limits requests per client IP. It passes everything through
// when limiting is disabled.
func (m *middleware) NewRateLimiter() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		if m.rateLimiter == nil {
			return ctx.Next()
		}

		clientIP := ctx.IP()
		if !m.rateLimiter.GetLimiterFrom(clientIP).Allow() {
			m.log.Warnf("too many requests for IP %s", clientIP)
			return ctx.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":      "too many requests",
				"code":       "RATE_LIMITED",
				"request_id": GetRequestID(ctx),
			})
		}

		return ctx.Next()
	}
}
