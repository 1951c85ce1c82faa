package reactions_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dukex/sortie/pkg/models"
	"github.com/dukex/sortie/pkg/reactions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rulesYAML = `rules:
  - event: ci_failed
    action: send_to_agent
    auto: true
    retries: 4
    priority: warning
  - event: mission_failed
    action: escalate
    auto: true
`

func TestParseRules(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		input       string
		expectError bool
		expectLen   int
	}{
		{name: "valid rules", input: rulesYAML, expectLen: 2},
		{name: "empty document", input: "rules: []\n", expectLen: 0},
		{
			name:        "unknown action",
			input:       "rules:\n  - event: ci_failed\n    action: reboot\n",
			expectError: true,
		},
		{
			name:        "negative retries",
			input:       "rules:\n  - event: ci_failed\n    action: retry\n    retries: -1\n",
			expectError: true,
		},
		{
			name:        "duplicate event",
			input:       "rules:\n  - event: ci_failed\n    action: retry\n  - event: ci_failed\n    action: notify\n",
			expectError: true,
		},
		{name: "malformed yaml", input: "rules: [", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rules, err := reactions.ParseRules([]byte(tt.input))
			if tt.expectError {
				require.ErrorIs(t, err, reactions.ErrInvalidRules)

				return
			}

			require.NoError(t, err)
			assert.Len(t, rules, tt.expectLen)
		})
	}
}

func TestRuleWatcher_ReloadsOnChange(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "reactions.yaml")
	require.NoError(t, os.WriteFile(path, []byte(rulesYAML), 0o600))

	engine := reactions.NewEngine(nil, slog.Default())

	watcher, err := reactions.NewRuleWatcher(path, engine, slog.Default())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, watcher.Start(ctx))

	defer func() {
		_ = watcher.Stop()
	}()

	assert.Equal(t, 4, engine.Rules()[models.EventCIFailed].Retries)
	assert.Len(t, engine.Rules(), 2)

	updated := "rules:\n  - event: ci_failed\n    action: send_to_agent\n    auto: true\n    retries: 1\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

	require.Eventually(t, func() bool {
		rules := engine.Rules()

		return len(rules) == 1 && rules[models.EventCIFailed].Retries == 1
	}, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("rules: ["), 0o600))
	time.Sleep(500 * time.Millisecond)

	assert.Len(t, engine.Rules(), 1, "invalid files keep the previous rules")
}

func TestRuleWatcher_StartFailsOnInvalidFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "reactions.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - event: x\n    action: nope\n"), 0o600))

	watcher, err := reactions.NewRuleWatcher(path, reactions.NewEngine(nil, slog.Default()), slog.Default())
	require.NoError(t, err)

	defer func() {
		_ = watcher.Stop()
	}()

	require.ErrorIs(t, watcher.Start(context.Background()), reactions.ErrInvalidRules)
}
