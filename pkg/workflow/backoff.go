package workflow

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/sortie/pkg/models"
	"github.com/dukex/sortie/pkg/persistence"
)

const (
	// DefaultTransientRetries is the floor for transient retries; a larger
	// phase retry_count raises it.
	DefaultTransientRetries = 3

	transientBaseDelay = 15 * time.Second
	transientMaxDelay  = 120 * time.Second
	transientJitter    = 10 * time.Second

	maxConflictRetries = 5
)

// phaseBackOff yields min(15s*2^(n-1) + jitter, 120s) for the n-th retry.
type phaseBackOff struct {
	attempt int
	jitter  func() time.Duration
}

func newPhaseBackOff(jitter func() time.Duration) *phaseBackOff {
	return &phaseBackOff{jitter: jitter}
}

func (b *phaseBackOff) NextBackOff() time.Duration {
	b.attempt++

	return TransientDelay(b.attempt, b.jitter())
}

func (b *phaseBackOff) Reset() {
	b.attempt = 0
}

// TransientDelay is the wait before retry number attempt (1-based).
func TransientDelay(attempt int, jitter time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := transientBaseDelay << min(attempt-1, 8)

	return min(delay+jitter, transientMaxDelay)
}

func randomJitter() time.Duration {
	return rand.N(transientJitter)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UpdateMission applies fn to the latest stored mission and writes it with an
// optimistic version check, retrying on conflicts.
func UpdateMission(ctx context.Context, repo persistence.MissionRepository, id string, fn persistence.MutateFunc) (*models.MissionRun, error) {
	var updated *models.MissionRun

	operation := func() error {
		mission, err := repo.Get(ctx, id)
		if err != nil {
			return backoff.Permanent(err)
		}

		if err := fn(mission); err != nil {
			return backoff.Permanent(err)
		}

		if err := repo.Update(ctx, mission); err != nil {
			if persistence.IsVersionConflict(err) {
				return err
			}

			return backoff.Permanent(err)
		}

		updated = mission

		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 10 * time.Millisecond
	policy.MaxInterval = 200 * time.Millisecond

	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, maxConflictRetries), ctx)); err != nil {
		return nil, err
	}

	return updated, nil
}
