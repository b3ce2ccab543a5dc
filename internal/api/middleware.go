package api

import (
	"log"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// RateLimiter provides simple in-memory rate limiting
type RateLimiter struct {
	requests   map[string][]time.Time
	mu         sync.Mutex
	limit      int
	window     time.Duration
	maxEntries int
	now        func() time.Time
	stopChan   chan struct{}
	stopOnce   sync.Once
}

// NewRateLimiter creates a rate limiter with specified limit per window
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return NewRateLimiterWithMax(limit, window, 10000) // Default 10k max entries
}

// NewRateLimiterWithMax creates a rate limiter with configurable max entries
func NewRateLimiterWithMax(limit int, window time.Duration, maxEntries int) *RateLimiter {
	rl := &RateLimiter{
		requests:   make(map[string][]time.Time),
		limit:      limit,
		window:     window,
		maxEntries: maxEntries,
		now:        time.Now,
		stopChan:   make(chan struct{}),
	}
	// Cleanup old entries periodically
	go rl.cleanup()
	return rl
}

// Stop stops the cleanup goroutine. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopChan) })
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			now := rl.now()
			for ip, times := range rl.requests {
				if valid := rl.recent(times, now); len(valid) == 0 {
					delete(rl.requests, ip)
				} else {
					rl.requests[ip] = valid
				}
			}
			rl.mu.Unlock()
		case <-rl.stopChan:
			return
		}
	}
}

// recent returns the timestamps still inside the window.
func (rl *RateLimiter) recent(times []time.Time, now time.Time) []time.Time {
	var valid []time.Time
	for _, t := range times {
		if now.Sub(t) < rl.window {
			valid = append(valid, t)
		}
	}
	return valid
}

// evictOldest drops the client whose first tracked request is the oldest.
// Called with mu held.
func (rl *RateLimiter) evictOldest() {
	var oldestIP string
	var oldestTime time.Time
	for ip, times := range rl.requests {
		if len(times) == 0 {
			continue
		}
		if oldestIP == "" || times[0].Before(oldestTime) {
			oldestIP, oldestTime = ip, times[0]
		}
	}
	if oldestIP != "" {
		delete(rl.requests, oldestIP)
		log.Printf("[RATE_LIMIT] Evicted oldest entry for %s to stay under max entries", oldestIP)
	}
}

// Allow checks if a request from the given IP is allowed
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	valid := rl.recent(rl.requests[ip], now)
	if len(valid) >= rl.limit {
		return false
	}

	if _, exists := rl.requests[ip]; !exists && len(rl.requests) >= rl.maxEntries {
		rl.evictOldest()
	}

	rl.requests[ip] = append(valid, now)
	return true
}

// Wrap adds rate limiting to a handler
func (rl *RateLimiter) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// RemoteAddr only: X-Forwarded-For is client controlled and the API
		// is served without a reverse proxy.
		ip := r.RemoteAddr

		if !rl.Allow(ip) {
			log.Printf("[RATE_LIMIT] Blocked request from %s", ip)
			w.Header().Set("Retry-After", "60")
			http.Error(w, `{"success":false,"error":{"code":"RATE_LIMIT","message":"Too many requests"}}`, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// LimitBodySize wraps a handler with request body size limiting
func LimitBodySize(next http.Handler, maxBytes int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// LogRequests logs one line per request.
func LogRequests(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Debug("request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}
