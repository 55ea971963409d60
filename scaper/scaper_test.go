package scaper

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/cwbudde/algo-seld/geom"
	"github.com/cwbudde/algo-seld/internal/audioio"
	"github.com/cwbudde/algo-seld/label"
	"github.com/cwbudde/algo-seld/roomsim"
)

const testRate = 8000

func testRoom(t *testing.T) *roomsim.Room {
	t.Helper()
	cfg := roomsim.DefaultConfig()
	cfg.SampleRate = testRate
	cfg.Dims = geom.Vec3{6, 5, 3}
	cfg.RT60 = 0.3
	cfg.MaxOrder = 2
	cfg.RandISM = false
	cfg.AirAbsorption = false
	r, err := roomsim.NewRoom(cfg)
	if err != nil {
		t.Fatalf("NewRoom: %v", err)
	}
	for _, p := range []geom.Vec3{{4.5, 2.5, 1.5}, {1.5, 4, 1.2}} {
		if err := r.AddSource(p); err != nil {
			t.Fatal(err)
		}
	}
	mics := []geom.Vec3{{3, 2.4, 1.5}, {3, 2.6, 1.5}, {3.1, 2.5, 1.5}, {2.9, 2.5, 1.5}}
	if err := r.AddMicArray(mics); err != nil {
		t.Fatal(err)
	}
	return r
}

func writeTone(t *testing.T, path string, freq, dur float64) {
	t.Helper()
	n := int(dur * testRate)
	x := make([]float64, n)
	for i := range x {
		x[i] = 0.5 * math.Sin(2*math.Pi*freq*float64(i)/testRate)
	}
	if err := audioio.WriteWAV(path, [][]float64{x}, testRate); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func testLibrary(t *testing.T) *Library {
	t.Helper()
	root := t.TempDir()
	writeTone(t, filepath.Join(root, "maleSpeech", "voice.wav"), 300, 1.5)
	writeTone(t, filepath.Join(root, "telephone", "ring.wav"), 1000, 2)
	if err := os.WriteFile(filepath.Join(root, "telephone", "readme.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	lib, err := ScanLibrary(root)
	if err != nil {
		t.Fatalf("ScanLibrary: %v", err)
	}
	t.Cleanup(lib.Close)
	return lib
}

func testConfig(lib *Library) Config {
	cfg := DefaultConfig()
	cfg.Duration = 3
	cfg.SampleRate = testRate
	cfg.ForegroundDir = lib.Root
	cfg.MaxEventOverlap = 2
	cfg.EventDurMin = 0.5
	cfg.EventDurMax = 1
	cfg.RefDB = -30
	cfg.Seed = 7
	return cfg
}

func fixedEvent(label string, pos int, onset, dur float64) EventSpec {
	snr := 10.0
	return EventSpec{Label: Const(label), Position: pos, Onset: onset, Duration: dur, SNR: &snr}
}

func TestScanLibrary(t *testing.T) {
	lib := testLibrary(t)
	labels := lib.Labels()
	if len(labels) != 2 || labels[0] != "maleSpeech" || labels[1] != "telephone" {
		t.Fatalf("labels = %v", labels)
	}
	if files := lib.Files("telephone"); len(files) != 1 || filepath.Base(files[0]) != "ring.wav" {
		t.Fatalf("telephone files = %v", files)
	}
	if _, err := ScanLibrary(t.TempDir()); err == nil {
		t.Fatal("expected error for empty library")
	}
}

func TestLibraryClipCacheStaysWithinLimit(t *testing.T) {
	root := t.TempDir()
	const clips, dur = 6, 1.0
	for i := 0; i < clips; i++ {
		writeTone(t, filepath.Join(root, "music", fmt.Sprintf("tone%d.wav", i)), 200+100*float64(i), dur)
	}
	lib, err := ScanLibrary(root)
	if err != nil {
		t.Fatalf("ScanLibrary: %v", err)
	}
	defer lib.Close()

	clipBytes := int64(8 * dur * testRate)
	limit := 2*clipBytes + clipBytes/2
	if err := lib.SetCacheLimit(limit); err != nil {
		t.Fatalf("SetCacheLimit: %v", err)
	}
	if err := lib.SetCacheLimit(0); err == nil {
		t.Fatal("expected error for zero limit")
	}

	for round := 0; round < 2; round++ {
		for _, f := range lib.Files("music") {
			x, err := lib.Load(f, testRate)
			if err != nil {
				t.Fatalf("Load %s: %v", f, err)
			}
			if len(x) != int(dur*testRate) {
				t.Fatalf("%s: %d samples", f, len(x))
			}
			if got := lib.CachedBytes(); got > limit {
				t.Fatalf("cache holds %d bytes, limit %d", got, limit)
			}
		}
	}
	if got := lib.CachedBytes(); got <= 0 {
		t.Fatalf("cache holds %d bytes after loading", got)
	}

	lib.Close()
	if _, err := lib.Load(lib.Files("music")[0], testRate); err != nil {
		t.Fatalf("Load after Close: %v", err)
	}
}

func TestAddEventFixedPlacement(t *testing.T) {
	lib := testLibrary(t)
	sc, err := New(testConfig(lib), testRoom(t), lib)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ev, err := sc.AddEvent(fixedEvent("maleSpeech", 0, 0.5, 1))
	if err != nil {
		t.Fatalf("AddEvent: %v", err)
	}
	if ev.Class != 1 || ev.Track != 0 || ev.Duration != 1 || ev.Onset != 0.5 || ev.SNR != 10 {
		t.Fatalf("event = %+v", ev)
	}
	// Source 0 sits 1.5 m along +x from the array centre.
	if math.Abs(ev.Azimuth) > 1e-9 || math.Abs(ev.Elevation) > 1e-9 || math.Abs(ev.Distance-1.5) > 1e-9 {
		t.Fatalf("doa = %f %f %f", ev.Azimuth, ev.Elevation, ev.Distance)
	}
	if _, err := sc.AddEvent(fixedEvent("maleSpeech", 5, 0, 1)); err == nil {
		t.Fatal("expected position range error")
	}
	if _, err := sc.AddEvent(fixedEvent("bell", 0, 0, 1)); err == nil {
		t.Fatal("expected error for label without files")
	}
	// Longer than the 1.5 s clip.
	long, err := sc.AddEvent(fixedEvent("maleSpeech", 1, 2, 5))
	if err != nil {
		t.Fatalf("AddEvent long: %v", err)
	}
	if long.Duration != 1 {
		t.Fatalf("duration = %f, want clipped to 1 s before the end", long.Duration)
	}
}

func TestAddEventOverlapLimitAndTracks(t *testing.T) {
	lib := testLibrary(t)
	sc, err := New(testConfig(lib), testRoom(t), lib)
	if err != nil {
		t.Fatal(err)
	}
	e1, err := sc.AddEvent(fixedEvent("maleSpeech", 0, 0, 1))
	if err != nil {
		t.Fatal(err)
	}
	e2, err := sc.AddEvent(fixedEvent("maleSpeech", 1, 0.2, 1))
	if err != nil {
		t.Fatal(err)
	}
	if e1.Track != 0 || e2.Track != 1 {
		t.Fatalf("tracks = %d, %d", e1.Track, e2.Track)
	}
	if _, err := sc.AddEvent(fixedEvent("telephone", 0, 0.5, 0.5)); !errors.Is(err, ErrTooManyOverlaps) {
		t.Fatalf("expected ErrTooManyOverlaps, got %v", err)
	}
	e4, err := sc.AddEvent(fixedEvent("maleSpeech", 0, 1, 0.5))
	if err != nil {
		t.Fatalf("event after the first one ended: %v", err)
	}
	if e4.Track != 0 {
		t.Fatalf("track = %d, want 0", e4.Track)
	}
	if n := len(sc.Events()); n != 3 {
		t.Fatalf("%d events, want 3", n)
	}
}

func TestRandomEventsRespectBounds(t *testing.T) {
	lib := testLibrary(t)
	cfg := testConfig(lib)
	sc, err := New(cfg, testRoom(t), lib)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 8; i++ {
		_, err := sc.AddEvent(AnyEvent(Choose()))
		if err != nil && !errors.Is(err, ErrTooManyOverlaps) {
			t.Fatalf("AddEvent: %v", err)
		}
	}
	events := sc.Events()
	if len(events) == 0 {
		t.Fatal("no events placed")
	}
	for _, ev := range events {
		if ev.Class != 1 && ev.Class != 3 {
			t.Fatalf("unexpected class %d", ev.Class)
		}
		if ev.Onset < 0 || ev.offset() > cfg.Duration+1e-9 {
			t.Fatalf("event outside soundscape: %+v", ev)
		}
		if ev.Duration < 0.5-1e-9 || ev.Duration > 1+1e-9 {
			t.Fatalf("duration %f outside range", ev.Duration)
		}
		if ev.SNR < cfg.SNRMin || ev.SNR > cfg.SNRMax {
			t.Fatalf("snr %f outside range", ev.SNR)
		}
	}
	for tm := 0.0; tm < cfg.Duration; tm += 0.01 {
		n := 0
		for _, ev := range events {
			if ev.Onset <= tm && tm < ev.offset() {
				n++
			}
		}
		if n > cfg.MaxEventOverlap {
			t.Fatalf("%d events active at %.2f s", n, tm)
		}
	}
}

func TestEventsDeterministicForSeed(t *testing.T) {
	lib := testLibrary(t)
	room := testRoom(t)
	run := func() []Event {
		sc, err := New(testConfig(lib), room, lib)
		if err != nil {
			t.Fatal(err)
		}
		for i := 0; i < 4; i++ {
			_, _ = sc.AddEvent(AnyEvent(Choose()))
		}
		return sc.Events()
	}
	a, b := run(), run()
	if len(a) != len(b) {
		t.Fatalf("event counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("event %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestRenderIsCausalAndNormalized(t *testing.T) {
	lib := testLibrary(t)
	cfg := testConfig(lib)
	sc, err := New(cfg, testRoom(t), lib)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sc.AddEvent(fixedEvent("telephone", 1, 0.5, 1)); err != nil {
		t.Fatal(err)
	}
	mix, gain, err := sc.Render()
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(mix) != 4 || len(mix[0]) != 3*testRate {
		t.Fatalf("mix shape %dx%d", len(mix), len(mix[0]))
	}
	if gain <= 0 {
		t.Fatalf("gain = %f", gain)
	}
	peak := 0.0
	for _, ch := range mix {
		for i, v := range ch[:testRate/2] {
			if v != 0 {
				t.Fatalf("sample %d before the onset is %g", i, v)
			}
		}
		peak = math.Max(peak, audioMaxAbs(ch))
	}
	want := math.Pow(10, cfg.PeakDB/20)
	if math.Abs(peak-want) > 1e-9 {
		t.Fatalf("peak = %f, want %f", peak, want)
	}
}

func audioMaxAbs(x []float64) float64 {
	m := 0.0
	for _, v := range x {
		m = math.Max(m, math.Abs(v))
	}
	return m
}

func TestGenerateWritesAudioLabelsAndManifest(t *testing.T) {
	lib := testLibrary(t)
	sc, err := New(testConfig(lib), testRoom(t), lib)
	if err != nil {
		t.Fatal(err)
	}
	sc.AddBackground()
	if _, err := sc.AddEvent(fixedEvent("maleSpeech", 0, 0.5, 1)); err != nil {
		t.Fatal(err)
	}
	out := t.TempDir()
	audio := filepath.Join(out, "mic_dev", "mic", "scene")
	labels := filepath.Join(out, "metadata_dev", "labels", "scene")
	if err := sc.Generate(audio, labels); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	chans, sr, err := audioio.ReadWAV(audio + ".wav")
	if err != nil {
		t.Fatalf("ReadWAV: %v", err)
	}
	if sr != testRate || len(chans) != 4 || len(chans[0]) != 3*testRate {
		t.Fatalf("wav %d Hz %dx%d", sr, len(chans), len(chans[0]))
	}

	frames, err := label.LoadOutputFormatFile(labels+".csv", false)
	if err != nil {
		t.Fatalf("LoadOutputFormatFile: %v", err)
	}
	for f := 5; f < 15; f++ {
		evs := frames[f]
		if len(evs) != 1 || evs[0].Class != 1 || evs[0].DOA[0] != 0 || evs[0].Dist != 150 {
			t.Fatalf("frame %d = %+v", f, evs)
		}
	}
	if _, ok := frames[4]; ok {
		t.Fatal("frame 4 precedes the onset")
	}
	if _, ok := frames[15]; ok {
		t.Fatal("frame 15 follows the offset")
	}

	m, err := LoadManifest(labels + ".yaml")
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if len(m.ID) != 36 || !m.Background || len(m.Events) != 1 || len(m.Room.Mics) != 4 {
		t.Fatalf("manifest = %+v", m)
	}
	if m.Events[0].SourceFile != lib.Files("maleSpeech")[0] {
		t.Fatalf("manifest source file %q", m.Events[0].SourceFile)
	}
}

func TestConvolveMatchesDirect(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	h := make([]float64, 300)
	for i := range h {
		h[i] = rng.NormFloat64() * math.Exp(-float64(i)/50)
	}
	for _, n := range []int{500, directConvLimit} {
		x := make([]float64, n)
		for i := range x {
			x[i] = rng.NormFloat64()
		}
		got, err := convolve(x, h)
		if err != nil {
			t.Fatalf("convolve(%d): %v", n, err)
		}
		if len(got) != n+len(h)-1 {
			t.Fatalf("length %d, want %d", len(got), n+len(h)-1)
		}
		for _, i := range []int{0, 17, n / 2, n - 1, n + len(h) - 2} {
			want := 0.0
			for k := range h {
				if j := i - k; j >= 0 && j < n {
					want += h[k] * x[j]
				}
			}
			if math.Abs(got[i]-want) > 1e-3 {
				t.Fatalf("n=%d sample %d: got %f want %f", n, i, got[i], want)
			}
		}
	}
}

func TestEventCount(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	if n := EventCount(15, 0, rng); n != 15 {
		t.Fatalf("EventCount = %d, want 15", n)
	}
	if n := EventCount(-5, 0, rng); n != 1 {
		t.Fatalf("EventCount = %d, want 1", n)
	}
}

func TestCountSeedIndependentOfSceneSeed(t *testing.T) {
	for seed := int64(0); seed < 16; seed++ {
		cs := countSeed(seed)
		if cs == seed || cs != countSeed(seed) {
			t.Fatalf("seed %d: countSeed = %d", seed, cs)
		}
		scene := rand.New(rand.NewSource(seed)).NormFloat64()
		count := rand.New(rand.NewSource(cs)).NormFloat64()
		if scene == count {
			t.Fatalf("seed %d: count draw equals scene draw %f", seed, scene)
		}
	}
}

func TestGenerateDataset(t *testing.T) {
	lib := testLibrary(t)
	opts := DefaultDatasetOptions()
	opts.OutDir = t.TempDir()
	opts.Count = 2
	opts.EventsMean = 2
	opts.EventsStd = 0
	opts.Labels = nil
	var names []string
	opts.OnScene = func(name string) { names = append(names, name) }

	paths, err := GenerateDataset(context.Background(), testConfig(lib), testRoom(t), lib, opts, nil)
	if err != nil {
		t.Fatalf("GenerateDataset: %v", err)
	}
	if len(paths) != 2 || len(names) != 2 || names[1] != "fold5_room1_mix002" {
		t.Fatalf("paths %v names %v", paths, names)
	}
	for _, name := range names {
		for _, p := range []string{
			filepath.Join(opts.OutDir, "mic_dev", "mic", name+".wav"),
			filepath.Join(opts.OutDir, "metadata_dev", "labels", name+".csv"),
			filepath.Join(opts.OutDir, "metadata_dev", "labels", name+".yaml"),
		} {
			if _, err := os.Stat(p); err != nil {
				t.Fatalf("missing %s: %v", p, err)
			}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := GenerateDataset(ctx, testConfig(lib), testRoom(t), lib, opts, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
