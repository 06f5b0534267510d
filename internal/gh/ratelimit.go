package gh

import (
	"context"
	"sync"
	"time"

	gogithub "github.com/google/go-github/v80/github"
	"golang.org/x/time/rate"
)

const (
	// githubRateLimit is the authenticated REST quota (5000/hour).
	githubRateLimit = 5000

	// proactiveRate throttles to ~4300 requests/hour so a single indexing
	// run cannot exhaust the installation's quota.
	proactiveRate = 1.2

	// minBuffer is the remaining-request floor below which calls wait for
	// the quota reset instead of spending the tail.
	minBuffer = 100
)

// RateLimiter combines a proactive token bucket with reactive tracking of
// the quota headers GitHub returns on every response.
type RateLimiter struct {
	mu        sync.Mutex
	remaining int
	resetTime time.Time
	bucket    *rate.Limiter
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		remaining: githubRateLimit,
		bucket:    rate.NewLimiter(rate.Limit(proactiveRate), 1),
	}
}

// Wait blocks until a request may be sent.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if err := r.bucket.Wait(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	remaining := r.remaining
	resetTime := r.resetTime
	r.mu.Unlock()

	if remaining < minBuffer && time.Now().Before(resetTime) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Until(resetTime)):
		}
	}
	return nil
}

// Update records quota state from a go-github response.
func (r *RateLimiter) Update(resp *gogithub.Response) {
	if resp == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remaining = resp.Rate.Remaining
	r.resetTime = resp.Rate.Reset.Time
}
