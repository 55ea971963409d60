package roomsim

import (
	"errors"
	"math"
	"testing"

	"github.com/cwbudde/algo-seld/geom"
)

func smallRoomConfig() Config {
	cfg := DefaultConfig()
	cfg.Dims = geom.Vec3{6, 5, 3}
	cfg.RT60 = 0.3
	cfg.MaxOrder = 6
	cfg.Seed = 42
	return cfg
}

func TestInverseSabine(t *testing.T) {
	e, order, err := InverseSabine(0.6, geom.Vec3{15, 20, 3.5}, 343)
	if err != nil {
		t.Fatalf("InverseSabine: %v", err)
	}
	if e <= 0 || e >= 1 {
		t.Fatalf("absorption out of range: %f", e)
	}
	if rt := SabineRT60(e, geom.Vec3{15, 20, 3.5}, 343); math.Abs(rt-0.6) > 1e-9 {
		t.Fatalf("forward sabine mismatch: %f", rt)
	}
	// min R over dimension pairs is 3.5*15/18.5.
	wantOrder := int(math.Ceil(343*0.6/(3.5*15/18.5) - 1))
	if order != wantOrder {
		t.Fatalf("max order = %d, want %d", order, wantOrder)
	}
}

func TestInverseSabineRoomTooLarge(t *testing.T) {
	_, _, err := InverseSabine(0.05, geom.Vec3{30, 40, 10}, 343)
	if !errors.Is(err, ErrRoomTooLarge) {
		t.Fatalf("expected ErrRoomTooLarge, got %v", err)
	}
}

func TestAxisImagesOrders(t *testing.T) {
	imgs := axisImages(1, 4, 1)
	want := map[float64]int{1: 0, -1: 1, 7: 1}
	if len(imgs) != len(want) {
		t.Fatalf("got %d images, want %d: %+v", len(imgs), len(want), imgs)
	}
	for _, im := range imgs {
		o, ok := want[im.coord]
		if !ok || o != im.order {
			t.Fatalf("unexpected image %+v", im)
		}
	}
}

func TestDirectPathArrivalAndLevel(t *testing.T) {
	cfg := smallRoomConfig()
	cfg.MaxOrder = 0
	cfg.AirAbsorption = false
	room, err := NewRoom(cfg)
	if err != nil {
		t.Fatalf("NewRoom: %v", err)
	}
	src := geom.Vec3{1, 1, 1.5}
	mic := geom.Vec3{4.43, 1, 1.5}
	if err := room.AddSource(src); err != nil {
		t.Fatalf("AddSource: %v", err)
	}
	if err := room.AddMicArray([]geom.Vec3{mic}); err != nil {
		t.Fatalf("AddMicArray: %v", err)
	}
	if err := room.ComputeRIR(); err != nil {
		t.Fatalf("ComputeRIR: %v", err)
	}
	h := room.RIR[0][0]
	peak, peakIdx := 0.0, 0
	for i, v := range h {
		if math.Abs(v) > peak {
			peak = math.Abs(v)
			peakIdx = i
		}
	}
	d := src.Dist(mic)
	want := int(math.Round(d/cfg.SpeedOfSound*float64(cfg.SampleRate))) + cfg.FracDelayLen/2
	if absInt(peakIdx-want) > 1 {
		t.Fatalf("direct path at %d, want %d", peakIdx, want)
	}
	if math.Abs(peak-1/(4*math.Pi*d)) > 0.2/(4*math.Pi*d) {
		t.Fatalf("direct amplitude %f, want ~%f", peak, 1/(4*math.Pi*d))
	}
}

func TestComputeRIRDeterministicForSeed(t *testing.T) {
	build := func() [][][]float64 {
		room, err := NewRoom(smallRoomConfig())
		if err != nil {
			t.Fatalf("NewRoom: %v", err)
		}
		if err := room.AddSource(geom.Vec3{2, 3, 1.2}); err != nil {
			t.Fatal(err)
		}
		if err := room.AddMicArray([]geom.Vec3{{4, 2, 1.2}, {4, 2.5, 1.2}}); err != nil {
			t.Fatal(err)
		}
		if err := room.ComputeRIR(); err != nil {
			t.Fatalf("ComputeRIR: %v", err)
		}
		p, err := room.PaddedRIRs()
		if err != nil {
			t.Fatalf("PaddedRIRs: %v", err)
		}
		return p
	}
	a := build()
	b := build()
	if len(a) != 1 || len(a[0]) != 2 {
		t.Fatalf("unexpected padded shape %dx%d", len(a), len(a[0]))
	}
	if len(a[0][0]) != len(a[0][1]) {
		t.Fatal("padded channels differ in length")
	}
	for m := range a[0] {
		for i := range a[0][m] {
			if a[0][m][i] != b[0][m][i] {
				t.Fatalf("non-deterministic output at mic %d sample %d", m, i)
			}
		}
	}
}

func TestReflectionsAddEnergy(t *testing.T) {
	energy := func(order int) float64 {
		cfg := smallRoomConfig()
		cfg.MaxOrder = order
		room, err := NewRoom(cfg)
		if err != nil {
			t.Fatalf("NewRoom: %v", err)
		}
		_ = room.AddSource(geom.Vec3{2, 3, 1.2})
		h, err := room.ComputePair(0, geom.Vec3{4, 2, 1.2})
		if err != nil {
			t.Fatalf("ComputePair: %v", err)
		}
		var e float64
		for _, v := range h {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				t.Fatal("non-finite sample")
			}
			e += v * v
		}
		return e
	}
	if e0, e4 := energy(0), energy(4); e4 <= e0 {
		t.Fatalf("reflections did not add energy: order0=%g order4=%g", e0, e4)
	}
}

func TestRejectsPositionsOutsideRoom(t *testing.T) {
	room, err := NewRoom(smallRoomConfig())
	if err != nil {
		t.Fatalf("NewRoom: %v", err)
	}
	if err := room.AddSource(geom.Vec3{7, 1, 1}); err == nil {
		t.Fatal("expected error for source outside room")
	}
	if err := room.AddMicArray([]geom.Vec3{{1, 1, 4}}); err == nil {
		t.Fatal("expected error for mic outside room")
	}
	if err := room.ComputeRIR(); err == nil {
		t.Fatal("expected error without sources")
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Absorption = 1.5
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for absorption > 1")
	}
	cfg = DefaultConfig()
	cfg.RT60 = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for derived absorption without rt60")
	}
	cfg.Absorption = 0.3
	cfg.MaxOrder = 3
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
