// Package file stores missions as JSON documents under a root directory, one
// file per mission in root/missions.
package file

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/dukex/sortie/pkg/persistence"
)

type Persistence struct {
	root     string
	missions *MissionRepository
}

// NewPersistence accepts a plain directory or a file:// URL. The directory is
// created lazily on the first write.
func NewPersistence(root string) *Persistence {
	root = strings.TrimPrefix(root, "file://")

	return &Persistence{
		root:     root,
		missions: NewMissionRepository(root),
	}
}

func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck reports whether the root is an existing, writable directory.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	info, err := os.Stat(fp.root)
	if err != nil {
		return fmt.Errorf("mission store root: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("mission store root %s is not a directory", fp.root)
	}

	tmp, err := os.CreateTemp(fp.root, ".health-*")
	if err != nil {
		return fmt.Errorf("mission store root is not writable: %w", err)
	}

	_ = tmp.Close()

	return os.Remove(tmp.Name())
}

func (fp *Persistence) MissionRepository() persistence.MissionRepository {
	return fp.missions
}
