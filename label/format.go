// Package label reads and writes DCASE output-format metadata and turns it
// into frame-aligned SELD training targets.
package label

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/cwbudde/algo-seld/geom"
)

// Event is one active sound event in a label frame. DOA holds azimuth and
// elevation in degrees (polar) or a unit x, y, z vector (Cartesian).
type Event struct {
	Class   int
	Track   int
	DOA     []float64
	Dist    float64
	HasDist bool
}

// IsPolar reports whether the DOA is azimuth/elevation.
func (e Event) IsPolar() bool { return len(e.DOA) == 2 }

// Frames maps a label frame index to its active events.
type Frames map[int][]Event

// SortedFrames returns the frame indices in ascending order.
func (f Frames) SortedFrames() []int {
	keys := make([]int, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// LoadOutputFormatFile parses a DCASE CSV. Rows carry
//
//	frame,class,azimuth,elevation                      (4 fields)
//	frame,class,source,azimuth,elevation               (5 fields)
//	frame,class,source,azimuth,elevation,distance      (6 fields)
//	frame,class,source,x,y,z,distance                  (7 fields)
//
// When the last row has 7 fields the whole file is converted to polar. With
// cm2m distances are divided by 100.
func LoadOutputFormatFile(path string, cm2m bool) (Frames, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := Frames{}
	lastWords := 0
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		words := strings.Split(text, ",")
		lastWords = len(words)
		ev, frame, err := parseRow(words, cm2m)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		out[frame] = append(out[frame], ev)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if lastWords == 7 {
		out = ConvertCartesianToPolar(out)
	}
	return out, nil
}

func parseRow(words []string, cm2m bool) (Event, int, error) {
	var ev Event
	nums := make([]float64, len(words))
	for i, w := range words {
		v, err := strconv.ParseFloat(strings.TrimSpace(w), 64)
		if err != nil {
			return ev, 0, fmt.Errorf("field %d: %w", i, err)
		}
		nums[i] = v
	}
	frame := int(nums[0])
	dist := func(v float64) float64 {
		if cm2m {
			return v / 100
		}
		return v
	}
	switch len(words) {
	case 4:
		ev = Event{Class: int(nums[1]), DOA: []float64{nums[2], nums[3]}}
	case 5:
		ev = Event{Class: int(nums[1]), Track: int(nums[2]), DOA: []float64{nums[3], nums[4]}}
	case 6:
		ev = Event{Class: int(nums[1]), Track: int(nums[2]), DOA: []float64{nums[3], nums[4]}, Dist: dist(nums[5]), HasDist: true}
	case 7:
		ev = Event{Class: int(nums[1]), Track: int(nums[2]), DOA: []float64{nums[3], nums[4], nums[5]}, Dist: dist(nums[6]), HasDist: true}
	default:
		return ev, 0, fmt.Errorf("unsupported row with %d fields", len(words))
	}
	return ev, frame, nil
}

// WriteOutputFormatFile writes frame,class,0,x,y,z,distance rows in frame
// order. Polar events are converted to Cartesian first.
func WriteOutputFormatFile(path string, frames Frames) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, fr := range frames.SortedFrames() {
		for _, ev := range frames[fr] {
			if ev.IsPolar() {
				ev = toCartesian(ev)
			}
			if len(ev.DOA) != 3 {
				f.Close()
				return fmt.Errorf("frame %d: event with %d doa values", fr, len(ev.DOA))
			}
			fmt.Fprintf(w, "%d,%d,0,%s,%s,%s,%s\n", fr, ev.Class,
				fmtFloat(ev.DOA[0]), fmtFloat(ev.DOA[1]), fmtFloat(ev.DOA[2]), fmtFloat(ev.Dist))
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteMetadataFile writes frame,class,source,azimuth,elevation,distance
// rows, the polar layout of the development metadata. Cartesian events are
// converted to polar first; angles and distance are rounded to integers.
func WriteMetadataFile(path string, frames Frames) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, fr := range frames.SortedFrames() {
		for _, ev := range frames[fr] {
			if len(ev.DOA) == 3 {
				ev = toPolar(ev)
			}
			if len(ev.DOA) != 2 {
				f.Close()
				return fmt.Errorf("frame %d: event with %d doa values", fr, len(ev.DOA))
			}
			fmt.Fprintf(w, "%d,%d,%d,%d,%d,%d\n", fr, ev.Class, ev.Track,
				int(math.Round(ev.DOA[0])), int(math.Round(ev.DOA[1])), int(math.Round(ev.Dist)))
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func fmtFloat(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

// PolarToCartesian converts azimuth/elevation in degrees to a unit vector.
func PolarToCartesian(aziDeg, eleDeg float64) (x, y, z float64) {
	v := geom.PolarToUnit(aziDeg, eleDeg)
	return v[0], v[1], v[2]
}

// CartesianToPolar converts a direction to azimuth/elevation in degrees and
// its length.
func CartesianToPolar(x, y, z float64) (aziDeg, eleDeg, r float64) {
	return geom.UnitToPolar(geom.Vec3{x, y, z})
}

func toCartesian(ev Event) Event {
	x, y, z := PolarToCartesian(ev.DOA[0], ev.DOA[1])
	ev.DOA = []float64{x, y, z}
	return ev
}

func toPolar(ev Event) Event {
	azi, ele, _ := CartesianToPolar(ev.DOA[0], ev.DOA[1], ev.DOA[2])
	ev.DOA = []float64{azi, ele}
	return ev
}

// ConvertPolarToCartesian returns a copy of in with every polar DOA
// replaced by its unit vector.
func ConvertPolarToCartesian(in Frames) Frames {
	out := make(Frames, len(in))
	for fr, evs := range in {
		conv := make([]Event, len(evs))
		for i, ev := range evs {
			if ev.IsPolar() {
				ev = toCartesian(ev)
			}
			conv[i] = ev
		}
		out[fr] = conv
	}
	return out
}

// ConvertCartesianToPolar returns a copy of in with every Cartesian DOA
// replaced by azimuth and elevation.
func ConvertCartesianToPolar(in Frames) Frames {
	out := make(Frames, len(in))
	for fr, evs := range in {
		conv := make([]Event, len(evs))
		for i, ev := range evs {
			if len(ev.DOA) == 3 {
				ev = toPolar(ev)
			}
			conv[i] = ev
		}
		out[fr] = conv
	}
	return out
}
