package regime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quanta/internal/feature"
)

func clusterVector(center float64, i int) feature.Vector {
	wobble := float64(i%5) * 0.01
	return feature.Vector{
		ATR:       center + wobble,
		ADX:       center*2 + wobble,
		Vol20:     center/10 + wobble,
		Spread:    0.1 + wobble,
		Imbalance: center/100 + wobble,
		CVD:       center * 3,
		Entropy:   1 + wobble,
	}
}

func TestPredictBeforeFit(t *testing.T) {
	d, err := NewDetector(DetectorConfig{Regimes: 3})
	require.NoError(t, err)

	label, ok := d.Predict(clusterVector(1, 0))
	assert.False(t, ok)
	assert.Zero(t, label)
	assert.False(t, d.Fitted())
}

func TestFitBelowMinimumIsNoop(t *testing.T) {
	d, err := NewDetector(DetectorConfig{Regimes: 3})
	require.NoError(t, err)

	for i := 0; i < d.MinSamples()-1; i++ {
		d.Observe(clusterVector(1, i))
	}
	fitted, err := d.Fit()
	assert.NoError(t, err)
	assert.False(t, fitted)
	assert.False(t, d.Fitted())
}

func TestFitAndPredictSeparatedClusters(t *testing.T) {
	d, err := NewDetector(DetectorConfig{Regimes: 2})
	require.NoError(t, err)

	// 两团明显分离的样本，各 60 个
	for i := 0; i < 60; i++ {
		d.Observe(clusterVector(1, i))
		d.Observe(clusterVector(50, i))
	}
	fitted, err := d.Fit()
	require.NoError(t, err)
	require.True(t, fitted)

	lowLabel, ok := d.Predict(clusterVector(1, 2))
	require.True(t, ok)
	highLabel, ok := d.Predict(clusterVector(50, 2))
	require.True(t, ok)

	assert.GreaterOrEqual(t, lowLabel, 0)
	assert.Less(t, lowLabel, 2)
	assert.GreaterOrEqual(t, highLabel, 0)
	assert.Less(t, highLabel, 2)
	assert.NotEqual(t, lowLabel, highLabel)

	again, ok := d.Predict(clusterVector(1, 4))
	require.True(t, ok)
	assert.Equal(t, lowLabel, again)
}

func TestRingEvictionOldestFirst(t *testing.T) {
	d, err := NewDetector(DetectorConfig{Regimes: 2, Capacity: 5})
	require.NoError(t, err)

	for i := 0; i < 8; i++ {
		d.Observe(feature.Vector{ATR: float64(i)})
	}
	assert.Equal(t, 5, d.Size())

	window := d.Window()
	require.Len(t, window, 5)
	// 0..2 已被覆盖，剩 3..7 且从旧到新
	for i, row := range window {
		assert.Equal(t, float64(i+3), row[0])
	}
}

func TestDeterministicFit(t *testing.T) {
	build := func() *Detector {
		d, err := NewDetector(DetectorConfig{Regimes: 3, Seed: 42})
		require.NoError(t, err)
		for i := 0; i < 70; i++ {
			d.Observe(clusterVector(1, i))
			d.Observe(clusterVector(20, i))
			d.Observe(clusterVector(90, i))
		}
		fitted, err := d.Fit()
		require.NoError(t, err)
		require.True(t, fitted)
		return d
	}
	d1, d2 := build(), build()
	for _, center := range []float64{1, 20, 90} {
		l1, ok1 := d1.Predict(clusterVector(center, 1))
		l2, ok2 := d2.Predict(clusterVector(center, 1))
		require.True(t, ok1)
		require.True(t, ok2)
		assert.Equal(t, l1, l2)
	}
}
