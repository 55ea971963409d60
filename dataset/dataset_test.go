package dataset

import (
	"context"
	"errors"
	"io"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/cwbudde/algo-seld/feature"
	"github.com/cwbudde/algo-seld/internal/audioio"
	"github.com/cwbudde/algo-seld/internal/featstore"
)

const (
	mix1 = "fold5_room1_mix001"
	mix2 = "fold5_room1_mix002"
)

func writeRecording(t *testing.T, path string, n int, seed int64) {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	chans := make([][]float64, 4)
	for c := range chans {
		chans[c] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		v := 0.2 * rng.NormFloat64()
		for c := range chans {
			if j := i + 3*c; j < n {
				chans[c][j] += v
			}
			chans[c][i] += 0.02 * rng.NormFloat64()
		}
	}
	if err := audioio.WriteWAV(path, chans, 24000); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func writeText(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

// setupDataset writes two 0.5 s recordings (25 feature and 5 label frames)
// with their metadata.
func setupDataset(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeRecording(t, filepath.Join(root, "mic_dev", "mic", mix1+".wav"), 12000, 1)
	writeRecording(t, filepath.Join(root, "mic_dev", "mic", mix2+".wav"), 12000, 2)
	writeText(t, filepath.Join(root, "metadata_dev", "labels", mix1+".csv"),
		"0,1,0,90,0,150\n3,1,0,0,90,200\n3,1,1,180,0,100\n3,4,0,-90,0,300\n")
	writeText(t, filepath.Join(root, "metadata_dev", "labels", mix2+".csv"), "2,0,0,0,0,100\n")
	return root
}

func newDataset(t *testing.T, p feature.Params, store featstore.Store, root string, eval bool) *Dataset {
	t.Helper()
	d, err := New(p, store, Options{
		DatasetDir:   root,
		FeatLabelDir: filepath.Join(root, "feat_label"),
		IsEval:       eval,
		Workers:      2,
		Progress:     io.Discard,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

func dirStore(t *testing.T, root string) featstore.Store {
	t.Helper()
	s, err := featstore.OpenDir(filepath.Join(root, "feat_label"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestDirectoryNames(t *testing.T) {
	root := t.TempDir()
	p := feature.DefaultParams()
	d := newDataset(t, p, dirStore(t, root), root, false)
	if d.UnnormalizedFeatDir() != "mic_dev" || d.NormalizedFeatDir() != "mic_dev_norm" || d.LabelDir() != "mic_dev_label" {
		t.Fatalf("dev dirs: %q %q %q", d.UnnormalizedFeatDir(), d.NormalizedFeatDir(), d.LabelDir())
	}
	if d.NormalizedWtsFile() != filepath.Join(root, "feat_label", "mic_wts") {
		t.Fatalf("wts file %q", d.NormalizedWtsFile())
	}
	if d.AudioDir() != filepath.Join(root, "mic_dev") || d.DescDir() != filepath.Join(root, "metadata_dev") {
		t.Fatalf("input dirs %q %q", d.AudioDir(), d.DescDir())
	}

	p.MultiACCDOA = true
	p.UseSALSALite = true
	d = newDataset(t, p, dirStore(t, root), root, false)
	if d.UnnormalizedFeatDir() != "mic_dev_salsa" || d.NormalizedFeatDir() != "mic_dev_salsa_norm" || d.LabelDir() != "mic_dev_adpit_label" {
		t.Fatalf("salsa/adpit dirs: %q %q %q", d.UnnormalizedFeatDir(), d.NormalizedFeatDir(), d.LabelDir())
	}

	d = newDataset(t, feature.DefaultParams(), dirStore(t, root), root, true)
	if d.UnnormalizedFeatDir() != "mic_eval" || d.LabelDir() != "" || d.DescDir() != "" {
		t.Fatalf("eval dirs: %q %q %q", d.UnnormalizedFeatDir(), d.LabelDir(), d.DescDir())
	}
	if err := d.ExtractAllLabels(context.Background()); err == nil {
		t.Fatal("expected error extracting eval labels")
	}
}

func TestFrameStats(t *testing.T) {
	root := setupDataset(t)
	d := newDataset(t, feature.DefaultParams(), dirStore(t, root), root, false)
	frames, err := d.FrameStats(context.Background())
	if err != nil {
		t.Fatalf("FrameStats: %v", err)
	}
	if len(frames) != 2 || frames[mix1] != (FileFrames{Feat: 25, Label: 5}) {
		t.Fatalf("frames = %+v", frames)
	}
}

func TestExtractAndNormalizeFeatures(t *testing.T) {
	root := setupDataset(t)
	store := dirStore(t, root)
	p := feature.DefaultParams()
	d := newDataset(t, p, store, root, false)
	ctx := context.Background()
	if err := d.ExtractAllFeatures(ctx); err != nil {
		t.Fatalf("ExtractAllFeatures: %v", err)
	}
	keys, err := store.List("mic_dev")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 || keys[0] != "mic_dev/"+mix1 {
		t.Fatalf("keys = %v", keys)
	}
	ext, err := feature.NewExtractor(p)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := store.Get("mic_dev/" + mix1)
	if err != nil {
		t.Fatal(err)
	}
	if raw.Shape[0] != 25 || raw.Shape[1] != ext.FeatureWidth() {
		t.Fatalf("feature shape %v, want [25 %d]", raw.Shape, ext.FeatureWidth())
	}

	scaler, err := d.PreprocessFeatures(ctx)
	if err != nil {
		t.Fatalf("PreprocessFeatures: %v", err)
	}
	if scaler.Samples != 50 {
		t.Fatalf("scaler saw %d rows, want 50", scaler.Samples)
	}
	if _, err := os.Stat(d.NormalizedWtsFile()); err != nil {
		t.Fatalf("weights file: %v", err)
	}
	var all [][]float64
	for _, name := range []string{mix1, mix2} {
		tn, err := store.Get("mic_dev_norm/" + name)
		if err != nil {
			t.Fatalf("normalized %s: %v", name, err)
		}
		rows, err := tn.Rows()
		if err != nil {
			t.Fatal(err)
		}
		all = append(all, rows...)
	}
	for _, col := range []int{0, 10, 100} {
		var sum float64
		for _, r := range all {
			sum += r[col]
		}
		if m := sum / float64(len(all)); math.Abs(m) > 1e-9 {
			t.Fatalf("column %d mean %g after normalization", col, m)
		}
	}

	// The eval split reuses the dev weights.
	writeRecording(t, filepath.Join(root, "mic_eval", "mic", mix1+".wav"), 12000, 1)
	e := newDataset(t, p, store, root, true)
	if err := e.ExtractAllFeatures(ctx); err != nil {
		t.Fatalf("eval ExtractAllFeatures: %v", err)
	}
	if _, err := e.PreprocessFeatures(ctx); err != nil {
		t.Fatalf("eval PreprocessFeatures: %v", err)
	}
	devNorm, _ := store.Get("mic_dev_norm/" + mix1)
	evalNorm, err := store.Get("mic_eval_norm/" + mix1)
	if err != nil {
		t.Fatal(err)
	}
	for i := range devNorm.Data {
		if math.Abs(devNorm.Data[i]-evalNorm.Data[i]) > 1e-12 {
			t.Fatalf("eval normalization differs at %d", i)
		}
	}
}

func TestPreprocessWithoutFeatures(t *testing.T) {
	root := setupDataset(t)
	d := newDataset(t, feature.DefaultParams(), dirStore(t, root), root, false)
	if _, err := d.PreprocessFeatures(context.Background()); err == nil {
		t.Fatal("expected error without extracted features")
	}
}

func TestExtractAllLabels(t *testing.T) {
	root := setupDataset(t)
	store := dirStore(t, root)
	p := feature.DefaultParams()
	d := newDataset(t, p, store, root, false)
	if err := d.ExtractAllLabels(context.Background()); err != nil {
		t.Fatalf("ExtractAllLabels: %v", err)
	}
	tn, err := store.Get("mic_dev_label/" + mix1)
	if err != nil {
		t.Fatal(err)
	}
	rows, err := tn.Rows()
	if err != nil {
		t.Fatal(err)
	}
	const c = 13
	if len(rows) != 5 || len(rows[0]) != 5*c {
		t.Fatalf("label shape %v", tn.Shape)
	}
	if rows[0][1] != 1 || math.Abs(rows[0][2*c+1]-1) > 1e-12 || rows[0][4*c+1] != 150 {
		t.Fatalf("frame 0 = %v", rows[0])
	}
	// The later class 1 event of frame 3 wins.
	if math.Abs(rows[3][c+1]+1) > 1e-12 || rows[3][4*c+1] != 100 {
		t.Fatalf("frame 3 class 1 = x %f dist %f", rows[3][c+1], rows[3][4*c+1])
	}
	if rows[3][4] != 1 || math.Abs(rows[3][2*c+4]+1) > 1e-12 {
		t.Fatalf("frame 3 class 4 = %v", rows[3])
	}
}

func TestExtractAllADPITLabelsIntoBadger(t *testing.T) {
	root := setupDataset(t)
	store, err := featstore.OpenBadger(featstore.BadgerOptions{InMemory: true})
	if err != nil {
		t.Fatalf("OpenBadger: %v", err)
	}
	defer store.Close()
	p := feature.DefaultParams()
	p.MultiACCDOA = true
	d := newDataset(t, p, store, root, false)
	if err := d.ExtractAllLabels(context.Background()); err != nil {
		t.Fatalf("ExtractAllLabels: %v", err)
	}
	tn, err := store.Get("mic_dev_adpit_label/" + mix1)
	if err != nil {
		t.Fatal(err)
	}
	const c = 13
	if len(tn.Shape) != 4 || tn.Shape[0] != 5 || tn.Shape[1] != 6 || tn.Shape[2] != 5 || tn.Shape[3] != c {
		t.Fatalf("adpit shape %v", tn.Shape)
	}
	at := func(f, track, field, class int) float64 {
		return tn.Data[((f*6+track)*5+field)*c+class]
	}
	if at(3, 1, 0, 1) != 1 || math.Abs(at(3, 1, 3, 1)-1) > 1e-12 || at(3, 1, 4, 1) != 2 {
		t.Fatalf("frame 3 track 1 = act %f z %f dist %f", at(3, 1, 0, 1), at(3, 1, 3, 1), at(3, 1, 4, 1))
	}
	if math.Abs(at(3, 2, 1, 1)+1) > 1e-12 || at(3, 2, 4, 1) != 1 {
		t.Fatalf("frame 3 track 2 = x %f dist %f", at(3, 2, 1, 1), at(3, 2, 4, 1))
	}
	if at(3, 0, 0, 4) != 1 || at(3, 0, 4, 4) != 3 {
		t.Fatalf("frame 3 class 4 track 0 = act %f dist %f", at(3, 0, 0, 4), at(3, 0, 4, 4))
	}
	keys, err := store.List("mic_dev_adpit_label")
	if err != nil || len(keys) != 2 {
		t.Fatalf("keys = %v, %v", keys, err)
	}
}

func TestExtractAllLabelsRejectsUnknownRecording(t *testing.T) {
	root := setupDataset(t)
	writeText(t, filepath.Join(root, "metadata_dev", "labels", "other.csv"), "0,1,0,0,0,100\n")
	d := newDataset(t, feature.DefaultParams(), dirStore(t, root), root, false)
	if err := d.ExtractAllLabels(context.Background()); err == nil {
		t.Fatal("expected error for metadata without recording")
	}
}

func TestExtractHonoursCancellation(t *testing.T) {
	root := setupDataset(t)
	d := newDataset(t, feature.DefaultParams(), dirStore(t, root), root, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.ExtractAllFeatures(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
