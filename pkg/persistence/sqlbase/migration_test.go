package sqlbase

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMigrationManager_LatestVersion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		migrations map[int]string
		expected   int
	}{
		{name: "empty", migrations: map[int]string{}, expected: 0},
		{name: "single", migrations: map[int]string{1: "SELECT 1"}, expected: 1},
		{name: "unordered keys", migrations: map[int]string{3: "c", 1: "a", 2: "b"}, expected: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			m := NewMigrationManager(slog.Default(), nil, tt.migrations)
			assert.Equal(t, tt.expected, m.LatestVersion())
		})
	}
}
