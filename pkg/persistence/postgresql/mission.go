package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/sortie/pkg/models"
	"github.com/dukex/sortie/pkg/persistence"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

const missionColumns = `
	id, workflow_id, name, brief, project_id, status, phases, current_phase_index,
	checkpoint_index, session_id, workspace, error_message, version, created_at,
	updated_at, completed_at
`

// MissionRepository stores missions in a single table with the phase list as JSONB.
type MissionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewMissionRepository(db *sql.DB, logger *slog.Logger) *MissionRepository {
	return &MissionRepository{db: db, logger: logger}
}

type scanner interface {
	Scan(dest ...any) error
}

func (r *MissionRepository) Get(ctx context.Context, id string) (*models.MissionRun, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+missionColumns+" FROM missions WHERE id = $1", id)

	mission, err := scanMission(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewMissionError("Get", id, persistence.ErrMissionNotFound)
		}

		return nil, persistence.NewMissionError("Get", id, err)
	}

	return mission, nil
}

func (r *MissionRepository) Create(ctx context.Context, mission *models.MissionRun) error {
	phasesJSON, err := json.Marshal(mission.Phases)
	if err != nil {
		return fmt.Errorf("failed to marshal phases: %w", err)
	}

	now := time.Now().UTC()
	if mission.CreatedAt.IsZero() {
		mission.CreatedAt = now
	}

	mission.UpdatedAt = now
	mission.Version = 1

	query := `
		INSERT INTO missions (` + missionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	_, err = r.db.ExecContext(ctx, query,
		mission.ID,
		mission.WorkflowID,
		mission.Name,
		mission.Brief,
		mission.ProjectID,
		mission.Status,
		phasesJSON,
		mission.CurrentPhaseIndex,
		mission.CheckpointIndex,
		mission.SessionID,
		mission.Workspace,
		mission.Error,
		mission.Version,
		mission.CreatedAt,
		mission.UpdatedAt,
		mission.CompletedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return persistence.NewMissionError("Create", mission.ID, persistence.ErrMissionAlreadyExists)
		}

		return persistence.NewMissionError("Create", mission.ID, err)
	}

	return nil
}

func (r *MissionRepository) Update(ctx context.Context, mission *models.MissionRun) error {
	expected := mission.Version

	mission.Version++
	mission.UpdatedAt = time.Now().UTC()

	updated, err := r.save(ctx, r.db, mission, expected)
	if err != nil {
		mission.Version = expected

		return persistence.NewMissionError("Update", mission.ID, err)
	}

	if !updated {
		mission.Version = expected

		_, err := r.Get(ctx, mission.ID)
		if err != nil {
			return err
		}

		return persistence.NewMissionError("Update", mission.ID, persistence.ErrVersionConflict)
	}

	return nil
}

func (r *MissionRepository) Mutate(ctx context.Context, id string, fn persistence.MutateFunc) (*models.MissionRun, error) {
	return r.mutate(ctx, "Mutate", id, fn)
}

func (r *MissionRepository) SetPhaseStatus(ctx context.Context, id string, index int, update persistence.PhaseUpdate) (*models.MissionRun, error) {
	return r.mutate(ctx, "SetPhaseStatus", id, func(mission *models.MissionRun) error {
		return persistence.ApplyPhaseUpdate(mission, index, update)
	})
}

func (r *MissionRepository) SetCheckpoint(ctx context.Context, id string, index int) (*models.MissionRun, error) {
	return r.mutate(ctx, "SetCheckpoint", id, func(mission *models.MissionRun) error {
		return persistence.ApplyCheckpoint(mission, index)
	})
}

func (r *MissionRepository) List(ctx context.Context, opts persistence.ListMissionsOptions) ([]*models.MissionRun, error) {
	var (
		clauses []string
		args    []any
	)

	if len(opts.Statuses) > 0 {
		statuses := make([]string, 0, len(opts.Statuses))
		for _, status := range opts.Statuses {
			statuses = append(statuses, string(status))
		}

		args = append(args, pq.Array(statuses))
		clauses = append(clauses, fmt.Sprintf("status = ANY($%d)", len(args)))
	}

	if opts.ProjectID != "" {
		args = append(args, opts.ProjectID)
		clauses = append(clauses, fmt.Sprintf("project_id = $%d", len(args)))
	}

	query := "SELECT " + missionColumns + " FROM missions"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}

	query += " ORDER BY created_at ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query missions: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	missions := make([]*models.MissionRun, 0)

	for rows.Next() {
		mission, err := scanMission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mission: %w", err)
		}

		missions = append(missions, mission)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating missions: %w", err)
	}

	return missions, nil
}

func (r *MissionRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM missions WHERE id = $1", id)
	if err != nil {
		return persistence.NewMissionError("Delete", id, err)
	}

	return nil
}

// mutate locks the row for the duration of a read-compute-write transaction.
func (r *MissionRepository) mutate(ctx context.Context, op, id string, fn persistence.MutateFunc) (*models.MissionRun, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, persistence.NewMissionError(op, id, fmt.Errorf("failed to begin transaction: %w", err))
	}

	defer func() {
		_ = tx.Rollback()
	}()

	row := tx.QueryRowContext(ctx, "SELECT "+missionColumns+" FROM missions WHERE id = $1 FOR UPDATE", id)

	mission, err := scanMission(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewMissionError(op, id, persistence.ErrMissionNotFound)
		}

		return nil, persistence.NewMissionError(op, id, err)
	}

	err = fn(mission)
	if err != nil {
		return nil, persistence.NewMissionError(op, id, err)
	}

	expected := mission.Version
	mission.Version++
	mission.UpdatedAt = time.Now().UTC()

	_, err = r.save(ctx, tx, mission, expected)
	if err != nil {
		return nil, persistence.NewMissionError(op, id, err)
	}

	err = tx.Commit()
	if err != nil {
		return nil, persistence.NewMissionError(op, id, fmt.Errorf("failed to commit: %w", err))
	}

	return mission, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *MissionRepository) save(ctx context.Context, db execer, mission *models.MissionRun, expectedVersion int64) (bool, error) {
	phasesJSON, err := json.Marshal(mission.Phases)
	if err != nil {
		return false, fmt.Errorf("failed to marshal phases: %w", err)
	}

	query := `
		UPDATE missions SET
			name = $2, brief = $3, project_id = $4, status = $5, phases = $6,
			current_phase_index = $7, checkpoint_index = $8, session_id = $9,
			workspace = $10, error_message = $11, version = $12, updated_at = $13,
			completed_at = $14
		WHERE id = $1 AND version = $15
	`

	result, err := db.ExecContext(ctx, query,
		mission.ID,
		mission.Name,
		mission.Brief,
		mission.ProjectID,
		mission.Status,
		phasesJSON,
		mission.CurrentPhaseIndex,
		mission.CheckpointIndex,
		mission.SessionID,
		mission.Workspace,
		mission.Error,
		mission.Version,
		mission.UpdatedAt,
		mission.CompletedAt,
		expectedVersion,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update mission: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return affected == 1, nil
}

func scanMission(row scanner) (*models.MissionRun, error) {
	var (
		mission     models.MissionRun
		phasesJSON  []byte
		completedAt sql.NullTime
	)

	err := row.Scan(
		&mission.ID,
		&mission.WorkflowID,
		&mission.Name,
		&mission.Brief,
		&mission.ProjectID,
		&mission.Status,
		&phasesJSON,
		&mission.CurrentPhaseIndex,
		&mission.CheckpointIndex,
		&mission.SessionID,
		&mission.Workspace,
		&mission.Error,
		&mission.Version,
		&mission.CreatedAt,
		&mission.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(phasesJSON, &mission.Phases)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal phases: %w", err)
	}

	if completedAt.Valid {
		mission.CompletedAt = &completedAt.Time
	}

	return &mission, nil
}
