package scoring

import (
	"fmt"
	"math"

	"AegisNet/internal/model"

	"gonum.org/v1/gonum/mat"
)

const normEpsilon = 1e-8

type activation func(float64) float64

var activations = map[string]activation{
	"relu": func(v float64) float64 {
		if v < 0 {
			return 0
		}
		return v
	},
	"tanh":    math.Tanh,
	"sigmoid": func(v float64) float64 { return 1 / (1 + math.Exp(-v)) },
	"linear":  func(v float64) float64 { return v },
	"":        func(v float64) float64 { return v },
}

type denseLayer struct {
	weights *mat.Dense
	bias    *mat.VecDense
	act     activation
}

// Autoencoder scores a flow by the mean squared reconstruction error of its
// normalized feature vector. It is immutable after construction.
type Autoencoder struct {
	fields []string
	mean   []float64
	std    []float64
	layers []denseLayer
}

var _ Scorer = (*Autoencoder)(nil)

// NewAutoencoder validates a checkpoint and builds the network from it.
func NewAutoencoder(ckpt *Checkpoint) (*Autoencoder, error) {
	if ckpt == nil || len(ckpt.Layers) == 0 {
		return nil, ErrNotLoaded
	}
	n := len(ckpt.FeatureCols)
	if n == 0 {
		return nil, fmt.Errorf("%w: checkpoint declares no feature columns", model.ErrFatal)
	}
	if len(ckpt.Mean) != n || len(ckpt.Std) != n {
		return nil, fmt.Errorf("%w: normalization statistics have %d/%d values, want %d",
			ErrNotLoaded, len(ckpt.Mean), len(ckpt.Std), n)
	}

	ae := &Autoencoder{
		fields: append([]string(nil), ckpt.FeatureCols...),
		mean:   append([]float64(nil), ckpt.Mean...),
		std:    append([]float64(nil), ckpt.Std...),
	}

	in := n
	for i, l := range ckpt.Layers {
		act, ok := activations[l.Activation]
		if !ok {
			return nil, fmt.Errorf("%w: layer %d: unknown activation %q", model.ErrFatal, i, l.Activation)
		}
		out := len(l.Weights)
		if out == 0 || len(l.Bias) != out {
			return nil, fmt.Errorf("%w: layer %d: %d weight rows, %d biases", model.ErrFatal, i, out, len(l.Bias))
		}
		data := make([]float64, 0, out*in)
		for r, row := range l.Weights {
			if len(row) != in {
				return nil, fmt.Errorf("%w: layer %d row %d has %d columns, want %d", model.ErrFatal, i, r, len(row), in)
			}
			data = append(data, row...)
		}
		ae.layers = append(ae.layers, denseLayer{
			weights: mat.NewDense(out, in, data),
			bias:    mat.NewVecDense(out, append([]float64(nil), l.Bias...)),
			act:     act,
		})
		in = out
	}
	if in != n {
		return nil, fmt.Errorf("%w: network outputs %d values for %d inputs", model.ErrFatal, in, n)
	}
	return ae, nil
}

// Fields returns the feature names the model was trained on.
func (a *Autoencoder) Fields() []string {
	if a == nil {
		return nil
	}
	return append([]string(nil), a.fields...)
}

// Score returns the reconstruction error of fv.
func (a *Autoencoder) Score(fv model.FeatureVector) (float64, error) {
	if a == nil || len(a.layers) == 0 || a.mean == nil || a.std == nil {
		return 0, ErrNotLoaded
	}

	x := mat.NewVecDense(len(a.fields), nil)
	for i, name := range a.fields {
		v, ok := fv.Get(name)
		if !ok {
			return 0, &ValidationError{Field: name, Reason: "missing"}
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, &ValidationError{Field: name, Reason: "not a finite number"}
		}
		x.SetVec(i, (v-a.mean[i])/(a.std[i]+normEpsilon))
	}

	h := mat.VecDenseCopyOf(x)
	for _, l := range a.layers {
		r, _ := l.weights.Dims()
		next := mat.NewVecDense(r, nil)
		next.MulVec(l.weights, h)
		next.AddVec(next, l.bias)
		for j := 0; j < r; j++ {
			next.SetVec(j, l.act(next.AtVec(j)))
		}
		h = next
	}

	h.SubVec(h, x)
	return mat.Dot(h, h) / float64(h.Len()), nil
}

// ScoreBatch scores each vector independently; a failure stays in its slot.
func (a *Autoencoder) ScoreBatch(fvs []model.FeatureVector) []BatchResult {
	return scoreEach(a, fvs)
}
