// Package norm implements a streaming standard scaler for feature matrices.
package norm

import (
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/vmihailenco/msgpack/v5"
	"gonum.org/v1/gonum/stat"
)

// ErrNotFitted is returned by Transform on a scaler that has seen no rows.
var ErrNotFitted = errors.New("norm: scaler not fitted")

// Scaler standardizes every column to zero mean and unit variance. Moments
// are accumulated batch by batch; the variance is the population variance.
type Scaler struct {
	Mean    []float64 `msgpack:"mean"`
	Var     []float64 `msgpack:"var"`
	Scale   []float64 `msgpack:"scale"`
	Samples int       `msgpack:"n_samples_seen"`
}

// PartialFit folds a batch of rows into the running moments.
func (s *Scaler) PartialFit(rows [][]float64) error {
	if len(rows) == 0 {
		return nil
	}
	width := len(rows[0])
	for i, r := range rows {
		if len(r) != width {
			return fmt.Errorf("norm: row %d has %d columns, want %d", i, len(r), width)
		}
	}
	if s.Samples == 0 {
		s.Mean = make([]float64, width)
		s.Var = make([]float64, width)
		s.Scale = make([]float64, width)
	} else if width != len(s.Mean) {
		return fmt.Errorf("norm: batch has %d columns, scaler has %d", width, len(s.Mean))
	}

	nb := float64(len(rows))
	na := float64(s.Samples)
	n := na + nb
	col := make([]float64, len(rows))
	for j := 0; j < width; j++ {
		for i, r := range rows {
			col[i] = r[j]
		}
		mb, vb := stat.PopMeanVariance(col, nil)
		if s.Samples == 0 {
			s.Mean[j], s.Var[j] = mb, vb
			continue
		}
		delta := mb - s.Mean[j]
		m2 := s.Var[j]*na + vb*nb + delta*delta*na*nb/n
		s.Mean[j] += delta * nb / n
		s.Var[j] = m2 / n
	}
	s.Samples += len(rows)
	for j := range s.Scale {
		s.Scale[j] = scaleFor(s.Var[j])
	}
	return nil
}

// Columns whose standard deviation is numerically zero keep unit scale.
func scaleFor(v float64) float64 {
	sd := math.Sqrt(v)
	if sd < 10*2.220446049250313e-16 {
		return 1
	}
	return sd
}

// Transform returns standardized copies of rows.
func (s *Scaler) Transform(rows [][]float64) ([][]float64, error) {
	if s.Samples == 0 {
		return nil, ErrNotFitted
	}
	out := make([][]float64, len(rows))
	for i, r := range rows {
		if len(r) != len(s.Mean) {
			return nil, fmt.Errorf("norm: row %d has %d columns, scaler has %d", i, len(r), len(s.Mean))
		}
		o := make([]float64, len(r))
		for j, v := range r {
			o[j] = (v - s.Mean[j]) / s.Scale[j]
		}
		out[i] = o
	}
	return out, nil
}

// Save writes the scaler weights to path.
func (s *Scaler) Save(path string) error {
	b, err := msgpack.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// Load reads scaler weights written by Save.
func Load(path string) (*Scaler, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Scaler
	if err := msgpack.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("norm: decode %s: %w", path, err)
	}
	if len(s.Mean) != len(s.Var) || len(s.Mean) != len(s.Scale) {
		return nil, fmt.Errorf("norm: %s has inconsistent column counts", path)
	}
	return &s, nil
}
