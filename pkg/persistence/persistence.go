// Package persistence provides the durable record store for missions.
package persistence

import (
	"context"

	"github.com/dukex/sortie/pkg/models"
)

// Persistence is the storage backend selected at startup.
type Persistence interface {
	MissionRepository() MissionRepository
	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// MutateFunc computes the next state of a mission from the current one.
// Returning an error aborts the write.
type MutateFunc func(mission *models.MissionRun) error

// MissionRepository stores MissionRun records. Every write is an atomic
// read-compute-write; implementations bump Version on each successful write.
type MissionRepository interface {
	Get(ctx context.Context, id string) (*models.MissionRun, error)
	Create(ctx context.Context, mission *models.MissionRun) error

	// Update replaces the stored mission if its version still matches
	// mission.Version, otherwise it fails with ErrVersionConflict.
	Update(ctx context.Context, mission *models.MissionRun) error

	// Mutate applies fn to the latest stored state under the store's lock.
	Mutate(ctx context.Context, id string, fn MutateFunc) (*models.MissionRun, error)

	SetPhaseStatus(ctx context.Context, id string, index int, update PhaseUpdate) (*models.MissionRun, error)

	// SetCheckpoint raises checkpoint_index to index. Lower or equal values are a no-op.
	SetCheckpoint(ctx context.Context, id string, index int) (*models.MissionRun, error)

	List(ctx context.Context, opts ListMissionsOptions) ([]*models.MissionRun, error)
	Delete(ctx context.Context, id string) error
}

type ListMissionsOptions struct {
	Statuses  []models.MissionStatus
	ProjectID string
}

// Matches reports whether the mission passes the filter.
func (o ListMissionsOptions) Matches(mission *models.MissionRun) bool {
	if o.ProjectID != "" && mission.ProjectID != o.ProjectID {
		return false
	}

	if len(o.Statuses) == 0 {
		return true
	}

	for _, status := range o.Statuses {
		if mission.Status == status {
			return true
		}
	}

	return false
}
