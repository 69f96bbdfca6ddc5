package auth

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/saasledger/pkg/saasledger/apperr"
	"golang.org/x/time/rate"
)

// idleLimiterTTL is how long a client's limiter is kept without traffic
const idleLimiterTTL = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LoginLimiter throttles credential attempts per client IP
type LoginLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	rate    rate.Limit
	burst   int
	now     func() time.Time
}

// NewLoginLimiter allows perSecond attempts per client with the given burst
func NewLoginLimiter(perSecond float64, burst int) *LoginLimiter {
	return &LoginLimiter{
		clients: make(map[string]*clientLimiter),
		rate:    rate.Limit(perSecond),
		burst:   burst,
		now:     time.Now,
	}
}

// Allow reports whether key may attempt a login now
func (l *LoginLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for k, cl := range l.clients {
		if now.Sub(cl.lastSeen) > idleLimiterTTL {
			delete(l.clients, k)
		}
	}

	cl, ok := l.clients[key]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.clients[key] = cl
	}
	cl.lastSeen = now
	return cl.limiter.AllowN(now, 1)
}

// Middleware rejects requests beyond the client's budget with 429
func (l *LoginLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.ClientIP()) {
			apperr.Respond(c, apperr.New(apperr.ErrTooManyRequests, "Too many login attempts, try again later"))
			return
		}
		c.Next()
	}
}
