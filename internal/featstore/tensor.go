// Package featstore persists feature and label tensors.
package featstore

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrNotFound is returned when a key has no tensor.
var ErrNotFound = errors.New("featstore: not found")

// Tensor is a dense row-major float64 array.
type Tensor struct {
	Shape []int     `msgpack:"shape"`
	Data  []float64 `msgpack:"data"`
}

// NewTensor allocates a zero tensor of the given shape.
func NewTensor(shape ...int) *Tensor {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return &Tensor{Shape: append([]int(nil), shape...), Data: make([]float64, n)}
}

// FromRows packs a matrix into a [rows][cols] tensor.
func FromRows(rows [][]float64) (*Tensor, error) {
	if len(rows) == 0 {
		return &Tensor{Shape: []int{0, 0}}, nil
	}
	cols := len(rows[0])
	t := NewTensor(len(rows), cols)
	for i, r := range rows {
		if len(r) != cols {
			return nil, fmt.Errorf("row %d has %d columns, want %d", i, len(r), cols)
		}
		copy(t.Data[i*cols:], r)
	}
	return t, nil
}

// Rows views a 2-D tensor as a slice of rows sharing its storage.
func (t *Tensor) Rows() ([][]float64, error) {
	if len(t.Shape) != 2 {
		return nil, fmt.Errorf("tensor has %d dims, want 2", len(t.Shape))
	}
	rows, cols := t.Shape[0], t.Shape[1]
	if rows*cols != len(t.Data) {
		return nil, fmt.Errorf("tensor data length %d does not match shape %v", len(t.Data), t.Shape)
	}
	out := make([][]float64, rows)
	for i := range out {
		out[i] = t.Data[i*cols : (i+1)*cols : (i+1)*cols]
	}
	return out, nil
}

// Validate checks that Data matches Shape.
func (t *Tensor) Validate() error {
	n := 1
	for i, d := range t.Shape {
		if d < 0 {
			return fmt.Errorf("negative dimension %d at axis %d", d, i)
		}
		n *= d
	}
	if n != len(t.Data) {
		return fmt.Errorf("tensor data length %d does not match shape %v", len(t.Data), t.Shape)
	}
	return nil
}

// Marshal encodes t with msgpack.
func Marshal(t *Tensor) ([]byte, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return msgpack.Marshal(t)
}

// Unmarshal decodes a msgpack tensor.
func Unmarshal(b []byte) (*Tensor, error) {
	var t Tensor
	if err := msgpack.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("decode tensor: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}
