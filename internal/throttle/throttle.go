package throttle

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	apperrors "country-stats/internal/errors"
	"country-stats/internal/metrics"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Limiter hands out one token bucket per client key
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*client
	rps     rate.Limit
	burst   int
	idleTTL time.Duration
	trusted bool
	metrics *metrics.Metrics
	cancel  context.CancelFunc
	done    chan struct{}
	nowFunc func() time.Time
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiter creates a limiter and starts its idle-client cleanup loop,
// which runs until ctx is cancelled or Stop is called.
func NewLimiter(ctx context.Context, rps float64, burst int, idleTTL time.Duration, m *metrics.Metrics) *Limiter {
	if m == nil {
		m = metrics.GetMetrics()
	}
	ctx, cancel := context.WithCancel(ctx)

	l := &Limiter{
		clients: make(map[string]*client),
		rps:     rate.Limit(rps),
		burst:   burst,
		idleTTL: idleTTL,
		metrics: m,
		cancel:  cancel,
		done:    make(chan struct{}),
		nowFunc: time.Now,
	}

	interval := idleTTL / 2
	if interval <= 0 {
		interval = time.Minute
	}
	go l.cleanupLoop(ctx, interval)

	log.Infof("Client rate limiter initialized - %.1f RPS, burst %d", rps, burst)
	return l
}

// TrustProxy makes the middleware key clients by the first X-Forwarded-For
// hop. Only enable it behind a proxy that overwrites the header; call it
// before the limiter starts serving.
func (l *Limiter) TrustProxy(trusted bool) {
	l.trusted = trusted
}

// Allow reports whether key may make a request now
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	c, ok := l.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.clients[key] = c
	}
	c.lastSeen = l.nowFunc()
	l.mu.Unlock()

	return c.limiter.Allow()
}

// Middleware rejects requests over budget with 429
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := ClientKey(r, l.trusted)
		if !l.Allow(key) {
			l.metrics.RecordRateLimited()
			log.WithFields(log.Fields{"client": key, "url": r.RequestURI}).Debug("Request rate limited")
			w.Header().Set("Retry-After", "1")
			http.Error(w, apperrors.ErrRateLimitExceeded.Error(), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientKey identifies the caller by the remote IP. With trustProxy set the
// first X-Forwarded-For hop wins when present.
func ClientKey(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			if first := strings.TrimSpace(strings.Split(fwd, ",")[0]); first != "" {
				return first
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (l *Limiter) cleanupLoop(ctx context.Context, interval time.Duration) {
	defer close(l.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.cleanup()
		}
	}
}

func (l *Limiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	removed := 0
	for key, c := range l.clients {
		if now.Sub(c.lastSeen) > l.idleTTL {
			delete(l.clients, key)
			removed++
		}
	}
	if removed > 0 {
		log.Debugf("Rate limiter: removed %d idle clients", removed)
	}
}

// Len returns the number of tracked clients
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Stop ends the cleanup loop and waits for it to exit
func (l *Limiter) Stop() {
	l.cancel()
	<-l.done
}
