package geom

import (
	"math"
	"testing"
)

func TestPolarRoundTrip(t *testing.T) {
	cases := [][2]float64{{0, 0}, {90, 0}, {-135, 20}, {45, -60}, {180, 10}}
	for _, c := range cases {
		u := PolarToUnit(c[0], c[1])
		if math.Abs(u.Norm()-1) > 1e-12 {
			t.Fatalf("unit vector norm %f for %v", u.Norm(), c)
		}
		azi, ele, r := UnitToPolar(u)
		if math.Abs(r-1) > 1e-12 {
			t.Fatalf("radius %f for %v", r, c)
		}
		if d := math.Abs(math.Remainder(azi-c[0], 360)); d > 1e-9 {
			t.Fatalf("azimuth mismatch: got=%f want=%f", azi, c[0])
		}
		if math.Abs(ele-c[1]) > 1e-9 {
			t.Fatalf("elevation mismatch: got=%f want=%f", ele, c[1])
		}
	}
}

func TestDOAFrom(t *testing.T) {
	ref := Vec3{2.5, 10.5, 1.2}
	src := Vec3{2.5, 12.5, 1.2}
	d := DOAFrom(ref, src)
	if math.Abs(d.Azimuth-90) > 1e-9 || math.Abs(d.Elevation) > 1e-9 || math.Abs(d.Distance-2) > 1e-12 {
		t.Fatalf("unexpected doa: %+v", d)
	}
}

func TestCentroid(t *testing.T) {
	c := Centroid([]Vec3{{2.5, 9, 1.2}, {2.5, 10, 1.2}, {2.5, 11, 1.2}, {2.5, 12, 1.2}})
	if c.Dist(Vec3{2.5, 10.5, 1.2}) > 1e-12 {
		t.Fatalf("centroid mismatch: %v", c)
	}
	if Centroid(nil) != (Vec3{}) {
		t.Fatal("empty centroid should be zero")
	}
}
