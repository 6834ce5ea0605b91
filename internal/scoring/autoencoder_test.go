package scoring

import (
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"AegisNet/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func squareLayer(n int, diag float64, act string) CheckpointLayer {
	w := make([][]float64, n)
	for i := range w {
		w[i] = make([]float64, n)
		w[i][i] = diag
	}
	return CheckpointLayer{Weights: w, Bias: make([]float64, n), Activation: act}
}

func checkpoint(layers ...CheckpointLayer) *Checkpoint {
	n := len(model.FeatureNames)
	mean := make([]float64, n)
	std := make([]float64, n)
	for i := range std {
		std[i] = 1
	}
	return &Checkpoint{
		Version:     1,
		FeatureCols: model.FeatureNames,
		Mean:        mean,
		Std:         std,
		Layers:      layers,
	}
}

func vector() model.FeatureVector {
	return model.FeatureVector{
		model.FeatureBytesIn:  0,
		model.FeatureBytesOut: 2,
		model.FeaturePackets:  1,
		model.FeatureDuration: 0.5,
		model.FeatureSrcPort:  1,
		model.FeatureDstPort:  3,
		model.FeatureProtocol: 1,
	}
}

func TestAutoencoder_IdentityScoresZero(t *testing.T) {
	ae, err := NewAutoencoder(checkpoint(squareLayer(7, 1, "linear")))
	require.NoError(t, err)

	score, err := ae.Score(vector())
	require.NoError(t, err)
	assert.InDelta(t, 0, score, 1e-12)
	assert.Equal(t, model.FeatureNames, ae.Fields())
}

func TestAutoencoder_ZeroReconstructionIsMeanSquare(t *testing.T) {
	ae, err := NewAutoencoder(checkpoint(squareLayer(7, 0, "relu"), squareLayer(7, 0, "linear")))
	require.NoError(t, err)

	score, err := ae.Score(vector())
	require.NoError(t, err)
	// (0 + 4 + 1 + 0.25 + 1 + 9 + 1) / 7
	assert.InDelta(t, 16.25/7, score, 1e-6)
}

func TestAutoencoder_Normalization(t *testing.T) {
	ckpt := checkpoint(squareLayer(7, 0, "linear"))
	for i := range ckpt.Mean {
		ckpt.Mean[i] = 1
		ckpt.Std[i] = 0 // epsilon keeps this finite
	}
	ae, err := NewAutoencoder(ckpt)
	require.NoError(t, err)

	fv := model.FeatureVector{}
	for _, f := range model.FeatureNames {
		fv[f] = 1
	}
	score, err := ae.Score(fv)
	require.NoError(t, err)
	assert.InDelta(t, 0, score, 1e-12)
}

func TestAutoencoder_Deterministic(t *testing.T) {
	ckpt := checkpoint(squareLayer(7, 0.5, "tanh"), squareLayer(7, 2, "sigmoid"))
	ae, err := NewAutoencoder(ckpt)
	require.NoError(t, err)

	first, err := ae.Score(vector())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := ae.Score(vector())
			assert.NoError(t, err)
			assert.Equal(t, first, s)
		}()
	}
	wg.Wait()
}

func TestAutoencoder_MissingAndNonFiniteFields(t *testing.T) {
	ae, err := NewAutoencoder(checkpoint(squareLayer(7, 1, "linear")))
	require.NoError(t, err)

	fv := vector()
	delete(fv, model.FeatureDstPort)
	_, err = ae.Score(fv)
	require.Error(t, err)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, model.FeatureDstPort, ve.Field)
	assert.True(t, errors.Is(err, model.ErrMalformed))

	fv = vector()
	fv[model.FeaturePackets] = math.NaN()
	_, err = ae.Score(fv)
	assert.True(t, IsValidationError(err))
}

func TestAutoencoder_BatchIsolatesFailures(t *testing.T) {
	ae, err := NewAutoencoder(checkpoint(squareLayer(7, 0, "linear")))
	require.NoError(t, err)

	bad := vector()
	delete(bad, model.FeatureBytesIn)
	scaled := vector()
	scaled[model.FeatureDstPort] = 10

	results := ae.ScoreBatch([]model.FeatureVector{vector(), bad, scaled})
	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.True(t, IsValidationError(results[1].Err))
	assert.NoError(t, results[2].Err)
	assert.Greater(t, results[2].Score, results[0].Score)

	single, _ := ae.Score(vector())
	assert.Equal(t, single, results[0].Score)
}

func TestAutoencoder_NotLoaded(t *testing.T) {
	var ae *Autoencoder
	_, err := ae.Score(vector())
	assert.True(t, errors.Is(err, ErrNotLoaded))
	assert.True(t, errors.Is(err, model.ErrFatal))

	ckpt := checkpoint(squareLayer(7, 1, "linear"))
	ckpt.Mean = nil
	_, err = NewAutoencoder(ckpt)
	assert.True(t, errors.Is(err, ErrNotLoaded))
}

func TestNewAutoencoder_ShapeMismatch(t *testing.T) {
	cases := map[string]*Checkpoint{
		"no layers":         checkpoint(),
		"output width":      checkpoint(squareLayer(7, 1, "relu"), CheckpointLayer{Weights: [][]float64{make([]float64, 7)}, Bias: []float64{0}}),
		"ragged row":        checkpoint(CheckpointLayer{Weights: [][]float64{{1, 2}}, Bias: []float64{0}}),
		"bias length":       checkpoint(CheckpointLayer{Weights: squareLayer(7, 1, "").Weights, Bias: []float64{0}}),
		"unknown activator": checkpoint(squareLayer(7, 1, "softmax")),
	}
	for name, ckpt := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewAutoencoder(ckpt)
			require.Error(t, err)
			assert.True(t, errors.Is(err, model.ErrFatal))
		})
	}
}

func TestLoadAutoencoder(t *testing.T) {
	data, err := json.Marshal(checkpoint(squareLayer(7, 1, "relu"), squareLayer(7, 1, "linear")))
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	ae, err := LoadAutoencoder(path)
	require.NoError(t, err)
	_, err = ae.Score(vector())
	assert.NoError(t, err)

	_, err = LoadAutoencoder(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, model.ErrFatal)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Equal(t, "fatal", model.Kind(err))

	garbled := filepath.Join(t.TempDir(), "garbled.json")
	require.NoError(t, os.WriteFile(garbled, []byte("{not json"), 0o644))
	_, err = LoadAutoencoder(garbled)
	assert.ErrorIs(t, err, model.ErrFatal)
	assert.Equal(t, "fatal", model.Kind(err))
}

func TestLoadAutoencoder_ShippedModel(t *testing.T) {
	ae, err := LoadAutoencoder("../../models/autoencoder.json")
	require.NoError(t, err)
	assert.Equal(t, model.FeatureNames, ae.Fields())

	score, err := ae.Score(vector())
	require.NoError(t, err)
	assert.False(t, math.IsNaN(score))
	assert.GreaterOrEqual(t, score, 0.0)
}
