package gh

import (
	"context"
	"testing"
	"time"

	gogithub "github.com/google/go-github/v80/github"
)

func TestRateLimiterWaitsForResetBelowBuffer(t *testing.T) {
	r := NewRateLimiter()
	r.remaining = minBuffer - 1
	r.resetTime = time.Now().Add(150 * time.Millisecond)

	start := time.Now()
	if err := r.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("Wait returned after %v, want a wait until the quota reset", elapsed)
	}
}

func TestRateLimiterWaitHonorsContext(t *testing.T) {
	r := NewRateLimiter()
	r.remaining = 0
	r.resetTime = time.Now().Add(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := r.Wait(ctx); err == nil {
		t.Fatal("expected context error while waiting for reset")
	}
}

func TestRateLimiterSkipsWaitWithBudget(t *testing.T) {
	r := NewRateLimiter()
	r.remaining = minBuffer
	r.resetTime = time.Now().Add(time.Hour)

	start := time.Now()
	if err := r.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("Wait blocked %v with quota budget remaining", elapsed)
	}
}

func TestRateLimiterUpdate(t *testing.T) {
	r := NewRateLimiter()
	reset := time.Now().Add(30 * time.Minute)

	r.Update(&gogithub.Response{Rate: gogithub.Rate{
		Remaining: 4200,
		Reset:     gogithub.Timestamp{Time: reset},
	}})

	if r.remaining != 4200 {
		t.Errorf("remaining = %d, want 4200", r.remaining)
	}
	if !r.resetTime.Equal(reset) {
		t.Errorf("resetTime = %v, want %v", r.resetTime, reset)
	}

	// A nil response leaves the tracked state alone.
	r.Update(nil)
	if r.remaining != 4200 {
		t.Errorf("remaining = %d after nil update, want 4200", r.remaining)
	}
}
