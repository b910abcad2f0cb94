package batch

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"statecraft.ai/internal/runner"
	"statecraft.ai/internal/sim/scenario"
	"statecraft.ai/internal/sim/state"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func example(t *testing.T) *scenario.Scenario {
	t.Helper()
	sc, err := scenario.Example(state.DefaultRules())
	require.NoError(t, err)
	return sc
}

func TestRun_ParallelMatchesSequential(t *testing.T) {
	seeds := []int64{1, 2, 3, 4, 5, 6}
	sc := example(t)

	want := make([]string, len(seeds))
	for i, job := range Sweep(sc, 6, seeds) {
		res, err := runner.Run(context.Background(), job.Scenario, job.Turns, runner.Options{Log: zerolog.Nop()})
		require.NoError(t, err)
		want[i] = res.Final.Digest()
	}

	out, err := Run(context.Background(), Sweep(sc, 6, seeds), Options{Concurrency: 4, Log: zerolog.Nop()})
	require.NoError(t, err)
	require.Len(t, out, len(seeds))
	ids := map[string]bool{}
	for i, o := range out {
		require.NoError(t, o.Err)
		assert.Equal(t, want[i], o.Result.Final.Digest(), o.Label)
		assert.Equal(t, 6, o.Result.Turns)
		ids[o.RunID] = true
	}
	assert.Len(t, ids, len(seeds))

	// The source scenario is left untouched.
	assert.Equal(t, 0, sc.State.T)
	assert.Equal(t, int64(2025), sc.State.Rules.RNGSeed)
}

func TestRun_DifferentSeedsDiverge(t *testing.T) {
	out, err := Run(context.Background(), Sweep(example(t), 4, []int64{10, 11}), Options{Concurrency: 2, Log: zerolog.Nop()})
	require.NoError(t, err)
	assert.NotEqual(t, out[0].Result.Final.Digest(), out[1].Result.Final.Digest())
	assert.Equal(t, "three_bloc/seed=10", out[0].Label)
}

func TestRun_FailureIsPerJob(t *testing.T) {
	jobs := []Job{
		{Label: "empty", Scenario: &scenario.Scenario{}, Turns: 3},
		{Scenario: example(t), Turns: 3},
	}
	out, err := Run(context.Background(), jobs, Options{Concurrency: 2, Log: zerolog.Nop()})
	require.NoError(t, err)
	assert.ErrorIs(t, out[0].Err, runner.ErrNoScenario)
	assert.NoError(t, out[1].Err)
	assert.Equal(t, "three_bloc", out[1].Label)
	assert.Equal(t, 3, out[1].Result.Final.T)
}

func TestRun_WritesOneDirectoryPerRun(t *testing.T) {
	dir := t.TempDir()
	out, err := Run(context.Background(), Sweep(example(t), 2, []int64{1, 2}), Options{Dir: dir, Log: zerolog.Nop()})
	require.NoError(t, err)
	ents, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, ents, 2)
	for _, o := range out {
		snap, err := runner.EarliestSnapshot(dir + "/" + o.RunID)
		require.NoError(t, err)
		rep, err := runner.Replay(snap, dir+"/"+o.RunID)
		require.NoError(t, err)
		assert.Equal(t, 2, rep.Checked)
	}
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := Run(ctx, Sweep(example(t), 3, []int64{1, 2, 3}), Options{Concurrency: 2, Log: zerolog.Nop()})
	assert.True(t, errors.Is(err, context.Canceled))
	for _, o := range out {
		assert.ErrorIs(t, o.Err, context.Canceled)
	}
}
