package main

import (
	"context"
	"path/filepath"
	"slices"
	"testing"

	"flight-delay-demo/internal/common"
	"flight-delay-demo/internal/inference"
	"flight-delay-demo/internal/ml"
	"flight-delay-demo/internal/table"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_ArtifactsScoreQuickInputRow(t *testing.T) {
	dir := t.TempDir()
	opts := options{
		outDir:     filepath.Join(dir, "models"),
		samplePath: filepath.Join(dir, "data", "sample.csv"),
		rows:       800,
		sampleRows: 5,
		trees:      5,
		depth:      2,
		seed:       1,
	}
	require.NoError(t, generate(opts))

	bundle, err := ml.LoadBundle(context.Background(), ml.ArtifactConfig{
		TreeModelPath:       filepath.Join(opts.outDir, common.DefaultTreeModelFile),
		TreeThresholdPath:   filepath.Join(opts.outDir, common.DefaultTreeThresholdFile),
		TreeFeaturesPath:    filepath.Join(opts.outDir, common.DefaultTreeFeaturesFile),
		LinearModelPath:     filepath.Join(opts.outDir, common.DefaultLinearModelFile),
		LinearThresholdPath: filepath.Join(opts.outDir, common.DefaultLinearThresholdFile),
		LinearFeaturesPath:  filepath.Join(opts.outDir, common.DefaultLinearFeaturesFile),
		ScalerPath:          filepath.Join(opts.outDir, common.DefaultScalerFile),
		CacheDir:            filepath.Join(dir, "cache"),
	}, nil)
	require.NoError(t, err)
	assert.Contains(t, bundle.TreeFeatures, "dep_hour")
	assert.Contains(t, bundle.TreeFeatures, "avg_wind_speed_kts")
	assert.Equal(t, common.DefaultTreeThreshold, bundle.TreeThreshold)
	assert.Equal(t, common.DefaultLinearThreshold, bundle.LinearThreshold)

	scaler, ok := bundle.Scaler.(*ml.StandardScaler)
	require.True(t, ok, "scaler is %T", bundle.Scaler)

	row, err := table.FromPairs([]string{"dep_hour", "precip_in", "DISTANCE"}, []any{18.0, 0.5, 1200.0})
	require.NoError(t, err)
	res, err := inference.New(bundle, nil, nil).PredictBoth(context.Background(), row)
	require.NoError(t, err)

	hour := slices.Index(bundle.TreeFeatures, "dep_hour")
	want := (18 - scaler.Mean[hour]) / scaler.Scale[hour]
	assert.InDelta(t, want, res.TreeMatrix.Column("dep_hour")[0], 1e-9)

	for _, p := range append(res.Tree.Probabilities, res.Linear.Probabilities...) {
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, 1.0)
	}

	sample, err := table.Load(opts.samplePath)
	require.NoError(t, err)
	assert.Equal(t, opts.sampleRows, sample.Len())
	assert.Equal(t, append([]string{"carrier"}, featureNames...), sample.Columns)
}
