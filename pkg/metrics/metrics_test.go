package metrics_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fclpkg/fclrecipe/pkg/metrics"
	"github.com/fclpkg/fclrecipe/pkg/types"
)

func TestRecorder_ObserveStage(t *testing.T) {
	r := metrics.NewRecorder("fcl/0.6.0RC")

	r.ObserveStage(types.StageSource, 2*time.Second, nil)
	r.ObserveStage(types.StageBuild, time.Minute, errors.New("build failure"))
	r.ObserveStage(types.StageBuild, time.Minute, nil)

	expected := `
# HELP fclrecipe_stage_total Total number of lifecycle stage executions
# TYPE fclrecipe_stage_total counter
fclrecipe_stage_total{recipe="fcl/0.6.0RC",stage="build",status="error"} 1
fclrecipe_stage_total{recipe="fcl/0.6.0RC",stage="build",status="success"} 1
fclrecipe_stage_total{recipe="fcl/0.6.0RC",stage="source",status="success"} 1
`
	require.NoError(t, testutil.GatherAndCompare(r.Registry(), strings.NewReader(expected), "fclrecipe_stage_total"))

	count, err := testutil.GatherAndCount(r.Registry(), "fclrecipe_stage_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "one histogram per stage")
}

func TestRecorder_WriteTextfile(t *testing.T) {
	r := metrics.NewRecorder("fcl/0.6.0RC")
	r.ObserveRun(5 * time.Minute)
	r.SetLibraries(1)

	path := filepath.Join(t.TempDir(), "textfile", "fclrecipe.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `fclrecipe_package_libraries{recipe="fcl/0.6.0RC"} 1`)
	assert.Contains(t, string(data), "fclrecipe_run_duration_seconds_count")
}

func TestRecorders_AreIndependent(t *testing.T) {
	a := metrics.NewRecorder("fcl/0.6.0RC")
	b := metrics.NewRecorder("fcl/0.6.0RC")

	a.SetLibraries(3)
	a.ObserveStage(types.StageLibs, time.Millisecond, nil)

	count, err := testutil.GatherAndCount(b.Registry(), "fclrecipe_stage_total")
	require.NoError(t, err)
	assert.Zero(t, count)
}
