package optimize

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSpaceValid(t *testing.T) {
	assert.NoError(t, DefaultSpace().Validate())
}

func TestSampleStaysInBounds(t *testing.T) {
	space := DefaultSpace()
	rng := rand.New(rand.NewSource(1))
	rounds := map[int]bool{50: true, 100: true, 150: true, 200: true}
	for i := 0; i < 500; i++ {
		p := space.Sample(rng)
		assert.True(t, rounds[p.NumRounds], "num_rounds=%d 不在候选内", p.NumRounds)
		assert.GreaterOrEqual(t, p.BaseThresh, 0.45)
		assert.Less(t, p.BaseThresh, 0.85)
		assert.GreaterOrEqual(t, p.StopATR, 0.5)
		assert.Less(t, p.StopATR, 2.0)
		assert.GreaterOrEqual(t, p.TargetATR, 1.0)
		assert.Less(t, p.TargetATR, 4.0)
		assert.GreaterOrEqual(t, p.RiskPerTrade, 0.002)
		assert.Less(t, p.RiskPerTrade, 0.02)
		// 未搜索的字段由 Normalize 填默认
		assert.Equal(t, 0.6, p.TrainPct)
		assert.Equal(t, 0.2, p.TestPct)
	}
}

func TestSampleDeterministic(t *testing.T) {
	space := DefaultSpace()
	a := space.Sample(rand.New(rand.NewSource(7)))
	b := space.Sample(rand.New(rand.NewSource(7)))
	assert.Equal(t, a, b)
}

func TestLoadSpaceMissingFileUsesDefault(t *testing.T) {
	space, err := LoadSpace(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultSpace(), space)

	space, err = LoadSpace("")
	require.NoError(t, err)
	assert.Equal(t, DefaultSpace(), space)
}

func TestLoadSpaceOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "space.yaml")
	content := []byte(`
num_rounds: [25, 75]
base_thresh: {min: 0.5, max: 0.6}
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	space, err := LoadSpace(path)
	require.NoError(t, err)
	assert.Equal(t, []int{25, 75}, space.NumRounds)
	assert.Equal(t, Range{Min: 0.5, Max: 0.6}, space.BaseThresh)
	// 未覆盖的字段保持内置值
	assert.Equal(t, DefaultSpace().StopATR, space.StopATR)
}

func TestLoadSpaceRejectsBadBounds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "space.yaml")
	require.NoError(t, os.WriteFile(path, []byte("stop_atr: {min: 2.0, max: 0.5}\n"), 0o644))

	_, err := LoadSpace(path)
	assert.Error(t, err)
}
