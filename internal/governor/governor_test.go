package governor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	sample MemorySample
	err    error
}

func (r *fakeReader) Read() (MemorySample, error) { return r.sample, r.err }

type fakeRecycler struct {
	calls atomic.Int32
	err   error
}

func (r *fakeRecycler) Recycle(context.Context) error {
	r.calls.Add(1)
	return r.err
}

func newTestGovernor(cfg Config) (*Governor, *atomic.Int32, *atomic.Int32) {
	g := New(cfg)
	var light, forced atomic.Int32
	g.lightFn = func() { light.Add(1) }
	g.forcedFn = func() { forced.Add(1) }
	return g, &light, &forced
}

// TestObserveSchedule verifies light passes every 5 items and forced passes every 20.
func TestObserveSchedule(t *testing.T) {
	t.Parallel()

	recycler := &fakeRecycler{}
	g, light, forced := newTestGovernor(Config{
		Reader:   &fakeReader{sample: MemorySample{HeapAlloc: 1 << 20}},
		Recycler: recycler,
	})

	var passes []Pass
	for range 40 {
		passes = append(passes, g.Observe(context.Background()))
	}

	require.Equal(t, PassLight, passes[4])
	require.Equal(t, PassNone, passes[5])
	require.Equal(t, PassForced, passes[19])
	require.Equal(t, PassForced, passes[39])
	require.EqualValues(t, 6, light.Load())
	require.EqualValues(t, 2, forced.Load())
	require.EqualValues(t, 2, recycler.calls.Load())

	snap := g.Snapshot()
	require.EqualValues(t, 40, snap.Processed)
	require.EqualValues(t, 6, snap.LightPasses)
	require.EqualValues(t, 2, snap.ForcedPasses)
	require.EqualValues(t, 1<<20, snap.Last.HeapAlloc)
}

// TestObserveForcesUnderPressure verifies exceeding the ceiling fraction forces a pass off-schedule.
func TestObserveForcesUnderPressure(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{sample: MemorySample{HeapAlloc: 100, RSS: 900}}
	g, _, forced := newTestGovernor(Config{
		MemoryCeiling:    1000,
		PressureFraction: 0.8,
		Reader:           reader,
		Recycler:         &fakeRecycler{err: errors.New("browser gone")},
	})

	require.Equal(t, PassForced, g.Observe(context.Background()))
	require.EqualValues(t, 1, forced.Load())

	reader.sample = MemorySample{HeapAlloc: 100, RSS: 500}
	require.Equal(t, PassNone, g.Observe(context.Background()))
}

// TestSustainedPressureIsRateLimited verifies memory that stays above the
// ceiling fraction forces a pass at most once per PressureGap items.
func TestSustainedPressureIsRateLimited(t *testing.T) {
	t.Parallel()

	recycler := &fakeRecycler{}
	g, light, forced := newTestGovernor(Config{
		MemoryCeiling: 1000,
		PressureGap:   5,
		Reader:        &fakeReader{sample: MemorySample{RSS: 950}},
		Recycler:      recycler,
	})

	var passes []Pass
	for range 12 {
		passes = append(passes, g.Observe(context.Background()))
	}

	require.Equal(t, []Pass{
		PassForced, PassNone, PassNone, PassNone, PassLight,
		PassForced, PassNone, PassNone, PassNone, PassLight,
		PassForced, PassNone,
	}, passes)
	require.EqualValues(t, 3, forced.Load())
	require.EqualValues(t, 3, recycler.calls.Load())
	require.EqualValues(t, 2, light.Load())
}

func TestMemorySampleUsed(t *testing.T) {
	t.Parallel()

	require.EqualValues(t, 10, MemorySample{HeapAlloc: 10}.Used())
	require.EqualValues(t, 30, MemorySample{HeapAlloc: 10, RSS: 30}.Used())

	sample, err := RuntimeReader{}.Read()
	require.NoError(t, err)
	require.NotZero(t, sample.Sys)
}
