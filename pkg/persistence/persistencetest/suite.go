// Package persistencetest holds behaviour tests shared by every MissionRepository implementation.
package persistencetest

import (
	"context"
	"sync"
	"testing"

	"github.com/dukex/sortie/pkg/models"
	"github.com/dukex/sortie/pkg/persistence"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewMission returns a pending mission with n always-gated phases.
func NewMission(n int) *models.MissionRun {
	phases := make([]*models.PhaseDefinition, 0, n)
	for i := range n {
		phases = append(phases, &models.PhaseDefinition{
			ID:         "p" + string(rune('1'+i)),
			TopologyID: "solo",
			Name:       "phase",
			Gate:       models.GateAlways,
		})
	}

	return models.NewMissionRun(uuid.New().String(), &models.WorkflowDefinition{
		ID:     "wf",
		Name:   "workflow",
		Phases: phases,
	}, "brief")
}

// Run exercises repo against the MissionRepository contract.
func Run(t *testing.T, ctx context.Context, repo persistence.MissionRepository) {
	t.Helper()

	t.Run("create and get", func(t *testing.T) {
		mission := NewMission(2)
		require.NoError(t, repo.Create(ctx, mission))

		got, err := repo.Get(ctx, mission.ID)
		require.NoError(t, err)
		assert.Equal(t, mission.ID, got.ID)
		assert.Equal(t, int64(1), got.Version)
		assert.Len(t, got.Phases, 2)
		assert.Equal(t, models.MissionPending, got.Status)

		err = repo.Create(ctx, mission)
		assert.ErrorIs(t, err, persistence.ErrMissionAlreadyExists)
	})

	t.Run("get missing", func(t *testing.T) {
		_, err := repo.Get(ctx, uuid.New().String())
		assert.True(t, persistence.IsMissionNotFound(err))
	})

	t.Run("optimistic update", func(t *testing.T) {
		mission := NewMission(1)
		require.NoError(t, repo.Create(ctx, mission))

		first, err := repo.Get(ctx, mission.ID)
		require.NoError(t, err)
		second, err := repo.Get(ctx, mission.ID)
		require.NoError(t, err)

		first.Brief = "updated"
		require.NoError(t, repo.Update(ctx, first))

		second.Brief = "stale"
		err = repo.Update(ctx, second)
		assert.True(t, persistence.IsVersionConflict(err))

		got, err := repo.Get(ctx, mission.ID)
		require.NoError(t, err)
		assert.Equal(t, "updated", got.Brief)
		assert.Equal(t, int64(2), got.Version)
	})

	t.Run("checkpoint is idempotent and monotonic", func(t *testing.T) {
		mission := NewMission(3)
		require.NoError(t, repo.Create(ctx, mission))

		_, err := repo.SetCheckpoint(ctx, mission.ID, 2)
		require.NoError(t, err)
		_, err = repo.SetCheckpoint(ctx, mission.ID, 2)
		require.NoError(t, err)

		got, err := repo.SetCheckpoint(ctx, mission.ID, 1)
		require.NoError(t, err)
		assert.Equal(t, 2, got.CheckpointIndex)

		stored, err := repo.Get(ctx, mission.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, stored.CheckpointIndex)
	})

	t.Run("single running phase", func(t *testing.T) {
		mission := NewMission(2)
		require.NoError(t, repo.Create(ctx, mission))

		_, err := repo.SetPhaseStatus(ctx, mission.ID, 0, persistence.PhaseUpdate{Status: models.PhaseRunning})
		require.NoError(t, err)

		_, err = repo.SetPhaseStatus(ctx, mission.ID, 1, persistence.PhaseUpdate{Status: models.PhaseRunning})
		assert.True(t, persistence.IsInvalidTransition(err))

		got, err := repo.SetPhaseStatus(ctx, mission.ID, 0, persistence.PhaseUpdate{
			Status:  models.PhaseDone,
			Summary: persistence.StringPtr("done"),
		})
		require.NoError(t, err)
		assert.Equal(t, models.PhaseDone, got.Phases[0].Status)
		assert.Equal(t, "done", got.Phases[0].Summary)
	})

	t.Run("concurrent mutations are serialized", func(t *testing.T) {
		mission := NewMission(1)
		require.NoError(t, repo.Create(ctx, mission))

		var wg sync.WaitGroup
		for range 10 {
			wg.Add(1)

			go func() {
				defer wg.Done()

				_, err := repo.Mutate(ctx, mission.ID, func(m *models.MissionRun) error {
					m.Phases[0].Attempts++

					return nil
				})
				assert.NoError(t, err)
			}()
		}

		wg.Wait()

		got, err := repo.Get(ctx, mission.ID)
		require.NoError(t, err)
		assert.Equal(t, 10, got.Phases[0].Attempts)
		assert.Equal(t, int64(11), got.Version)
	})

	t.Run("list by status", func(t *testing.T) {
		paused := NewMission(1)
		paused.Status = models.MissionPaused
		paused.ProjectID = "list-project"
		require.NoError(t, repo.Create(ctx, paused))

		done := NewMission(1)
		done.Status = models.MissionCompleted
		done.ProjectID = "list-project"
		require.NoError(t, repo.Create(ctx, done))

		got, err := repo.List(ctx, persistence.ListMissionsOptions{
			Statuses:  []models.MissionStatus{models.MissionPaused},
			ProjectID: "list-project",
		})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, paused.ID, got[0].ID)
	})

	t.Run("delete", func(t *testing.T) {
		mission := NewMission(1)
		require.NoError(t, repo.Create(ctx, mission))
		require.NoError(t, repo.Delete(ctx, mission.ID))

		_, err := repo.Get(ctx, mission.ID)
		assert.True(t, persistence.IsMissionNotFound(err))
	})
}
