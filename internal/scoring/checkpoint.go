package scoring

import (
	"encoding/json"
	"fmt"
	"os"

	"AegisNet/internal/model"
)

// Checkpoint is the JSON export of a trained autoencoder.
type Checkpoint struct {
	Version     int               `json:"version"`
	FeatureCols []string          `json:"feature_cols"`
	Mean        []float64         `json:"mean"`
	Std         []float64         `json:"std"`
	Layers      []CheckpointLayer `json:"layers"`
}

// CheckpointLayer is one dense layer: weights are out x in, row-major.
type CheckpointLayer struct {
	Weights    [][]float64 `json:"weights"`
	Bias       []float64   `json:"bias"`
	Activation string      `json:"activation"`
}

// LoadCheckpoint reads and decodes a checkpoint file. Shape checks happen in NewAutoencoder.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read checkpoint %s: %w", model.ErrFatal, path, err)
	}
	var ckpt Checkpoint
	if err := json.Unmarshal(data, &ckpt); err != nil {
		return nil, fmt.Errorf("%w: failed to decode checkpoint %s: %w", model.ErrFatal, path, err)
	}
	return &ckpt, nil
}

// LoadAutoencoder loads a checkpoint file and builds the model from it.
func LoadAutoencoder(path string) (*Autoencoder, error) {
	ckpt, err := LoadCheckpoint(path)
	if err != nil {
		return nil, err
	}
	return NewAutoencoder(ckpt)
}
