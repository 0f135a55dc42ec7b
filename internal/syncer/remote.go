// internal/syncer/remote.go
// Package syncer drives the best-effort push of locally-pending catches
// and posts to the remote feed service once connectivity is available.
package syncer

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/fishnetapp/fishnet-vault-go/internal/model"
)

// Remote is the push side of the sync protocol, conceptually
// PUT /catches/{id} and PUT /posts/{id} on the feed service.
type Remote interface {
	PushCatch(ctx context.Context, rec model.CatchRecord) error
	PushPost(ctx context.Context, post model.SocialPost) error
}

// ErrPushFailed is the per-item failure returned by the simulated remote.
var ErrPushFailed = errors.New("network error during sync")

// simulated stands in for the remote feed service: an artificial delay
// and a configurable random per-item failure rate, no real network call.
type simulated struct {
	failureRate float64
	minDelay    time.Duration
	maxDelay    time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulatedRemote creates the simulated remote endpoint.
// Parameters:
//   - failureRate: per-item failure probability in [0,1]
//   - minDelay, maxDelay: bounds on the artificial push latency
func NewSimulatedRemote(failureRate float64, minDelay, maxDelay time.Duration) Remote {
	return &simulated{
		failureRate: failureRate,
		minDelay:    minDelay,
		maxDelay:    maxDelay,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// push sleeps through the artificial latency and rolls the failure dice.
func (s *simulated) push(ctx context.Context, endpoint, item string) error {
	s.mu.Lock()
	delay := s.minDelay
	if s.maxDelay > s.minDelay {
		delay += time.Duration(s.rng.Int63n(int64(s.maxDelay - s.minDelay)))
	}
	failed := s.rng.Float64() < s.failureRate
	s.mu.Unlock()

	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return ctx.Err()
	}

	if failed {
		return ErrPushFailed
	}

	slog.Debug("pushed item to remote", "endpoint", endpoint, "item", item)
	return nil
}

func (s *simulated) PushCatch(ctx context.Context, rec model.CatchRecord) error {
	return s.push(ctx, "/api/catches", rec.Species)
}

func (s *simulated) PushPost(ctx context.Context, post model.SocialPost) error {
	return s.push(ctx, "/api/posts", post.ID)
}
