package roomsim

import (
	"errors"
	"fmt"
	"math"

	"github.com/cwbudde/algo-seld/geom"
)

// ErrRoomTooLarge is returned when no wall absorption in [0,1] can reach the
// requested reverberation time.
var ErrRoomTooLarge = errors.New("roomsim: room may be too large for required RT60")

const sabineCoef = 24.0

// InverseSabine returns the uniform energy absorption coefficient and the
// image-source order needed for a shoebox of the given dimensions to decay
// by 60 dB in rt60 seconds.
func InverseSabine(rt60 float64, dims geom.Vec3, c float64) (float64, int, error) {
	if rt60 <= 0 {
		return 0, 0, fmt.Errorf("rt60 must be > 0")
	}
	if c <= 0 {
		return 0, 0, fmt.Errorf("speed of sound must be > 0")
	}
	for i, l := range dims {
		if l <= 0 {
			return 0, 0, fmt.Errorf("room dimension %d must be > 0", i)
		}
	}
	lx, ly, lz := dims[0], dims[1], dims[2]
	vol := lx * ly * lz
	surf := 2 * (lx*ly + lx*lz + ly*lz)

	e := sabineCoef * math.Log(10) * vol / (c * surf * rt60)
	if e > 1 {
		return 0, 0, fmt.Errorf("%w (absorption %.3f)", ErrRoomTooLarge, e)
	}

	minR := math.Inf(1)
	for i := 0; i < 3; i++ {
		for j := i + 1; j < 3; j++ {
			r := dims[i] * dims[j] / (dims[i] + dims[j])
			if r < minR {
				minR = r
			}
		}
	}
	order := int(math.Ceil(c*rt60/minR - 1))
	if order < 0 {
		order = 0
	}
	return e, order, nil
}

// SabineRT60 is the forward Sabine estimate for a given absorption.
func SabineRT60(absorption float64, dims geom.Vec3, c float64) float64 {
	if absorption <= 0 || c <= 0 {
		return math.Inf(1)
	}
	vol := dims[0] * dims[1] * dims[2]
	surf := 2 * (dims[0]*dims[1] + dims[0]*dims[2] + dims[1]*dims[2])
	return sabineCoef * math.Log(10) * vol / (c * surf * absorption)
}
