package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type clientLimiter struct {
	general  *rate.Limiter
	tasks    *rate.Limiter
	lastSeen time.Time
}

// RateLimitMiddleware keeps one pair of token buckets per principal: a general
// one for every request and a stricter one for requests that start tasks.
// Requests are keyed by actor once authenticated and by client IP before that.
type RateLimitMiddleware struct {
	generalRPM int
	taskRPM    int
	mu         sync.Mutex
	clients    map[string]*clientLimiter
}

func NewRateLimitMiddleware(generalRPM int, taskRPM int) *RateLimitMiddleware {
	if generalRPM == 0 {
		generalRPM = 300
	}
	if taskRPM <= 0 {
		taskRPM = 60
	}

	return &RateLimitMiddleware{
		generalRPM: generalRPM,
		taskRPM:    taskRPM,
		clients:    map[string]*clientLimiter{},
	}
}

func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := extractClientIP(r)
		if actor, ok := ActorFromContext(r.Context()); ok {
			key = "actor:" + actor.Key()
		}
		limiter := m.getLimiter(key)

		target := limiter.general
		if startsTask(r) {
			target = limiter.tasks
		}

		// A negative general limit disables it; task starts stay limited.
		if target != nil && !target.Allow() {
			w.Header().Set("Retry-After", "60")
			writeProblem(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func startsTask(r *http.Request) bool {
	return r.Method == http.MethodPost && strings.HasPrefix(strings.ToLower(r.URL.Path), "/api/v1/fileops/")
}

func (m *RateLimitMiddleware) getLimiter(key string) *clientLimiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limiter, exists := m.clients[key]; exists {
		limiter.lastSeen = time.Now()
		m.gcLocked()
		return limiter
	}

	created := &clientLimiter{
		tasks:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(m.taskRPM)), m.taskRPM),
		lastSeen: time.Now(),
	}
	if m.generalRPM > 0 {
		created.general = rate.NewLimiter(rate.Every(time.Minute/time.Duration(m.generalRPM)), m.generalRPM)
	}
	m.clients[key] = created
	m.gcLocked()

	return created
}

func (m *RateLimitMiddleware) gcLocked() {
	if len(m.clients) < 1000 {
		return
	}

	cutoff := time.Now().Add(-10 * time.Minute)
	for key, limiter := range m.clients {
		if limiter.lastSeen.Before(cutoff) {
			delete(m.clients, key)
		}
	}
}

func extractClientIP(r *http.Request) string {
	forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}

	realIP := strings.TrimSpace(r.Header.Get("X-Real-IP"))
	if realIP != "" {
		return realIP
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}

	if strings.TrimSpace(r.RemoteAddr) == "" {
		return "unknown"
	}

	return r.RemoteAddr
}
