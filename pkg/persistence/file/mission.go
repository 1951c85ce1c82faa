package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dukex/sortie/pkg/models"
	"github.com/dukex/sortie/pkg/persistence"
)

// MissionRepository stores one JSON file per mission. A single mutex
// serializes writes so every mutation is an atomic read-compute-write.
type MissionRepository struct {
	root string
	mu   sync.Mutex
}

// NewMissionRepository creates a new mission repository.
func NewMissionRepository(root string) *MissionRepository {
	return &MissionRepository{root: root}
}

func (r *MissionRepository) dir() string {
	return filepath.Join(r.root, "missions")
}

// validateMissionID validates that the mission ID is safe for file operations.
func validateMissionID(id string) error {
	if id == "" {
		return persistence.ErrInvalidMissionID
	}

	if strings.Contains(id, "..") || strings.Contains(id, "/") || strings.Contains(id, "\\") {
		return persistence.ErrInvalidMissionID
	}

	return nil
}

func (r *MissionRepository) Get(_ context.Context, id string) (*models.MissionRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	mission, err := r.read(id)
	if err != nil {
		return nil, persistence.NewMissionError("Get", id, err)
	}

	return mission, nil
}

func (r *MissionRepository) Create(_ context.Context, mission *models.MissionRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := validateMissionID(mission.ID)
	if err != nil {
		return persistence.NewMissionError("Create", mission.ID, err)
	}

	_, err = os.Stat(r.path(mission.ID))
	if err == nil {
		return persistence.NewMissionError("Create", mission.ID, persistence.ErrMissionAlreadyExists)
	}

	now := time.Now().UTC()
	if mission.CreatedAt.IsZero() {
		mission.CreatedAt = now
	}

	mission.UpdatedAt = now
	mission.Version = 1

	err = r.write(mission)
	if err != nil {
		return persistence.NewMissionError("Create", mission.ID, err)
	}

	return nil
}

func (r *MissionRepository) Update(_ context.Context, mission *models.MissionRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.read(mission.ID)
	if err != nil {
		return persistence.NewMissionError("Update", mission.ID, err)
	}

	if current.Version != mission.Version {
		return persistence.NewMissionError("Update", mission.ID, persistence.ErrVersionConflict)
	}

	mission.Version++
	mission.UpdatedAt = time.Now().UTC()

	err = r.write(mission)
	if err != nil {
		mission.Version--

		return persistence.NewMissionError("Update", mission.ID, err)
	}

	return nil
}

func (r *MissionRepository) Mutate(_ context.Context, id string, fn persistence.MutateFunc) (*models.MissionRun, error) {
	return r.mutate("Mutate", id, fn)
}

func (r *MissionRepository) SetPhaseStatus(_ context.Context, id string, index int, update persistence.PhaseUpdate) (*models.MissionRun, error) {
	return r.mutate("SetPhaseStatus", id, func(mission *models.MissionRun) error {
		return persistence.ApplyPhaseUpdate(mission, index, update)
	})
}

func (r *MissionRepository) SetCheckpoint(_ context.Context, id string, index int) (*models.MissionRun, error) {
	return r.mutate("SetCheckpoint", id, func(mission *models.MissionRun) error {
		return persistence.ApplyCheckpoint(mission, index)
	})
}

func (r *MissionRepository) List(_ context.Context, opts persistence.ListMissionsOptions) ([]*models.MissionRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	files, err := fs.Glob(os.DirFS(r.dir()), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list mission files: %w", err)
	}

	missions := make([]*models.MissionRun, 0, len(files))

	for _, file := range files {
		mission, err := r.read(strings.TrimSuffix(file, ".json"))
		if err != nil {
			if errors.Is(err, persistence.ErrMissionNotFound) {
				continue
			}

			return nil, fmt.Errorf("failed to load mission %s: %w", file, err)
		}

		if opts.Matches(mission) {
			missions = append(missions, mission)
		}
	}

	sort.Slice(missions, func(i, j int) bool {
		return missions[i].CreatedAt.Before(missions[j].CreatedAt)
	})

	return missions, nil
}

func (r *MissionRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := validateMissionID(id)
	if err != nil {
		return persistence.NewMissionError("Delete", id, err)
	}

	err = os.Remove(r.path(id))
	if err != nil && !os.IsNotExist(err) {
		return persistence.NewMissionError("Delete", id, err)
	}

	return nil
}

func (r *MissionRepository) mutate(op, id string, fn persistence.MutateFunc) (*models.MissionRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	mission, err := r.read(id)
	if err != nil {
		return nil, persistence.NewMissionError(op, id, err)
	}

	err = fn(mission)
	if err != nil {
		return nil, persistence.NewMissionError(op, id, err)
	}

	mission.Version++
	mission.UpdatedAt = time.Now().UTC()

	err = r.write(mission)
	if err != nil {
		return nil, persistence.NewMissionError(op, id, err)
	}

	return mission.Clone(), nil
}

func (r *MissionRepository) path(id string) string {
	return filepath.Join(r.dir(), id+".json")
}

func (r *MissionRepository) read(id string) (*models.MissionRun, error) {
	err := validateMissionID(id)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(r.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrMissionNotFound
		}

		return nil, fmt.Errorf("failed to read mission file: %w", err)
	}

	var mission models.MissionRun

	err = json.Unmarshal(data, &mission)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal mission: %w", err)
	}

	return &mission, nil
}

// write replaces the mission file through a temp file and rename so a crash
// never leaves a half-written record behind.
func (r *MissionRepository) write(mission *models.MissionRun) error {
	err := os.MkdirAll(r.dir(), 0750)
	if err != nil {
		return fmt.Errorf("failed to create missions directory: %w", err)
	}

	data, err := json.MarshalIndent(mission, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal mission: %w", err)
	}

	tmp, err := os.CreateTemp(r.dir(), mission.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	_, err = tmp.Write(data)
	if err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to write mission: %w", err)
	}

	err = tmp.Close()
	if err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to close temp file: %w", err)
	}

	err = os.Chmod(tmp.Name(), 0600)
	if err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to set mission file mode: %w", err)
	}

	err = os.Rename(tmp.Name(), r.path(mission.ID))
	if err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to replace mission file: %w", err)
	}

	return nil
}
