// Package geom holds the small amount of 3-D geometry shared by the room
// simulator, the soundscape generator and the label pipeline.
//
// Angles are in degrees. Azimuth is measured counter-clockwise from +x in the
// x-y plane, elevation upwards from the x-y plane.
package geom

import "math"

// Vec3 is a point or direction in metres.
type Vec3 [3]float64

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v[0] + o[0], v[1] + o[1], v[2] + o[2]} }
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v[0] - o[0], v[1] - o[1], v[2] - o[2]} }
func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{v[0] * s, v[1] * s, v[2] * s}
}

// Norm returns the Euclidean length.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}

// Dist returns |v - o|.
func (v Vec3) Dist(o Vec3) float64 { return v.Sub(o).Norm() }

// Centroid returns the mean of pts, or the zero vector for an empty slice.
func Centroid(pts []Vec3) Vec3 {
	var c Vec3
	if len(pts) == 0 {
		return c
	}
	for _, p := range pts {
		c = c.Add(p)
	}
	return c.Scale(1.0 / float64(len(pts)))
}

// PolarToUnit converts azimuth/elevation in degrees to a unit vector.
func PolarToUnit(aziDeg, eleDeg float64) Vec3 {
	azi := aziDeg * math.Pi / 180.0
	ele := eleDeg * math.Pi / 180.0
	c := math.Cos(ele)
	return Vec3{math.Cos(azi) * c, math.Sin(azi) * c, math.Sin(ele)}
}

// UnitToPolar converts a direction to azimuth/elevation in degrees and its
// length. The direction does not need to be normalized.
func UnitToPolar(v Vec3) (aziDeg, eleDeg, r float64) {
	x, y, z := v[0], v[1], v[2]
	aziDeg = math.Atan2(y, x) * 180.0 / math.Pi
	eleDeg = math.Atan2(z, math.Sqrt(x*x+y*y)) * 180.0 / math.Pi
	r = math.Sqrt(x*x + y*y + z*z)
	return aziDeg, eleDeg, r
}

// DOA is a direction of arrival seen from a reference point.
type DOA struct {
	Azimuth   float64 // degrees
	Elevation float64 // degrees
	Distance  float64 // metres
}

// DOAFrom returns the direction of src as seen from ref.
func DOAFrom(ref, src Vec3) DOA {
	azi, ele, r := UnitToPolar(src.Sub(ref))
	return DOA{Azimuth: azi, Elevation: ele, Distance: r}
}
