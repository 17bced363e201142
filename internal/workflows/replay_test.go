package workflows_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/rfpstudio/internal/temporal"
	"github.com/Kocoro-lab/rfpstudio/internal/workflows"
)

// Histories under testdata/histories are exported from a running cluster
// with `temporal workflow show -w <id> --output json`.
func TestRecordPipelineWorkflowReplay(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("testdata", "histories", "*.json"))
	require.NoError(t, err)
	if len(files) == 0 {
		t.Skip("no exported histories in testdata/histories")
	}
	logger := temporal.NewZapAdapter(zaptest.NewLogger(t))
	for _, f := range files {
		t.Run(filepath.Base(f), func(t *testing.T) {
			assert.NoError(t, workflows.ReplayHistoryFile(logger, f))
		})
	}
}

func TestReplayMissingHistory(t *testing.T) {
	err := workflows.ReplayHistoryFile(nil, filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}
