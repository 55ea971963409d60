package norm

import (
	"errors"
	"math"
	"path/filepath"
	"testing"
)

func TestPartialFitMatchesSinglePass(t *testing.T) {
	rows := [][]float64{
		{1, 10, 5}, {2, 20, 5}, {3, 30, 5}, {4, 40, 5}, {5, 50, 5}, {6, 60, 5}, {7, 70, 5},
	}
	var whole Scaler
	if err := whole.PartialFit(rows); err != nil {
		t.Fatal(err)
	}
	var parts Scaler
	for _, b := range [][][]float64{rows[:2], rows[2:3], rows[3:]} {
		if err := parts.PartialFit(b); err != nil {
			t.Fatal(err)
		}
	}
	if parts.Samples != 7 {
		t.Fatalf("samples = %d, want 7", parts.Samples)
	}
	// Population variance of 1..7 is 4.
	if math.Abs(whole.Mean[0]-4) > 1e-12 || math.Abs(whole.Var[0]-4) > 1e-12 {
		t.Fatalf("whole mean/var = %f/%f", whole.Mean[0], whole.Var[0])
	}
	for j := range whole.Mean {
		if math.Abs(whole.Mean[j]-parts.Mean[j]) > 1e-9 || math.Abs(whole.Var[j]-parts.Var[j]) > 1e-9 {
			t.Fatalf("column %d: whole %f/%f parts %f/%f", j, whole.Mean[j], whole.Var[j], parts.Mean[j], parts.Var[j])
		}
	}
	if parts.Scale[2] != 1 {
		t.Fatalf("constant column scale = %f, want 1", parts.Scale[2])
	}
}

func TestTransform(t *testing.T) {
	var s Scaler
	if _, err := s.Transform([][]float64{{1}}); !errors.Is(err, ErrNotFitted) {
		t.Fatalf("expected ErrNotFitted, got %v", err)
	}
	if err := s.PartialFit([][]float64{{0, 3}, {2, 3}}); err != nil {
		t.Fatal(err)
	}
	out, err := s.Transform([][]float64{{0, 3}, {2, 4}})
	if err != nil {
		t.Fatal(err)
	}
	if out[0][0] != -1 || out[1][0] != 1 || out[0][1] != 0 || out[1][1] != 1 {
		t.Fatalf("transform = %v", out)
	}
	if _, err := s.Transform([][]float64{{1}}); err == nil {
		t.Fatal("expected width error")
	}
	if err := s.PartialFit([][]float64{{1, 2, 3}}); err == nil {
		t.Fatal("expected width error on partial fit")
	}
}

func TestSaveLoad(t *testing.T) {
	var s Scaler
	if err := s.PartialFit([][]float64{{1, -1}, {3, 5}, {8, 0}}); err != nil {
		t.Fatal(err)
	}
	p := filepath.Join(t.TempDir(), "mic_wts")
	if err := s.Save(p); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Samples != 3 {
		t.Fatalf("samples = %d", got.Samples)
	}
	for j := range s.Mean {
		if got.Mean[j] != s.Mean[j] || got.Scale[j] != s.Scale[j] {
			t.Fatalf("column %d differs after reload", j)
		}
	}
}
