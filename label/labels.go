package label

import (
	"fmt"
	"sort"
)

// ADPIT track slots: one slot for a lone event of a class, two for a pair,
// three for three or more.
const (
	NbTracks = 6
	NbFields = 5 // activity, x, y, z, distance
)

func checkEvent(fr int, ev Event, nbClasses int) error {
	if ev.Class < 0 || ev.Class >= nbClasses {
		return fmt.Errorf("frame %d: class %d out of range [0,%d)", fr, ev.Class, nbClasses)
	}
	if len(ev.DOA) != 3 {
		return fmt.Errorf("frame %d: labels need cartesian doa, got %d values", fr, len(ev.DOA))
	}
	return nil
}

// LabelsForFile builds SED and DOA regression targets [frame][5*classes]:
// activity, x, y, z and distance blocks of nbClasses columns each. desc must
// be Cartesian. Frames at or beyond nbFrames are ignored.
func LabelsForFile(desc Frames, nbFrames, nbClasses int) ([][]float64, error) {
	out := make([][]float64, nbFrames)
	for f := range out {
		out[f] = make([]float64, NbFields*nbClasses)
	}
	for _, fr := range desc.SortedFrames() {
		if fr < 0 || fr >= nbFrames {
			continue
		}
		row := out[fr]
		for _, ev := range desc[fr] {
			if err := checkEvent(fr, ev, nbClasses); err != nil {
				return nil, err
			}
			c := ev.Class
			row[c] = 1
			row[nbClasses+c] = ev.DOA[0]
			row[2*nbClasses+c] = ev.DOA[1]
			row[3*nbClasses+c] = ev.DOA[2]
			row[4*nbClasses+c] = ev.Dist
		}
	}
	return out, nil
}

// ADPITLabels are multi-ACCDOA targets laid out [frame][track][field][class].
type ADPITLabels [][NbTracks][NbFields][]float64

// Flatten returns the labels row-major with their shape.
func (a ADPITLabels) Flatten() ([]float64, []int) {
	nbClasses := 0
	if len(a) > 0 {
		nbClasses = len(a[0][0][0])
	}
	data := make([]float64, 0, len(a)*NbTracks*NbFields*nbClasses)
	for f := range a {
		for t := 0; t < NbTracks; t++ {
			for k := 0; k < NbFields; k++ {
				data = append(data, a[f][t][k]...)
			}
		}
	}
	return data, []int{len(a), NbTracks, NbFields, nbClasses}
}

// ADPITLabelsForFile assigns the events of every frame to the auxiliary
// duplicating permutation invariant training tracks. Events are grouped by
// class (stable order): a lone event goes to track 0, two events of a class
// to tracks 1 and 2, three or more to tracks 3, 4 and 5 (the first three
// only). Distances are converted from centimetres to metres.
func ADPITLabelsForFile(desc Frames, nbFrames, nbClasses int) (ADPITLabels, error) {
	out := make(ADPITLabels, nbFrames)
	for f := range out {
		for t := 0; t < NbTracks; t++ {
			buf := make([]float64, NbFields*nbClasses)
			for k := 0; k < NbFields; k++ {
				out[f][t][k] = buf[k*nbClasses : (k+1)*nbClasses : (k+1)*nbClasses]
			}
		}
	}
	for _, fr := range desc.SortedFrames() {
		if fr < 0 || fr >= nbFrames {
			continue
		}
		events := append([]Event(nil), desc[fr]...)
		for _, ev := range events {
			if err := checkEvent(fr, ev, nbClasses); err != nil {
				return nil, err
			}
		}
		sort.SliceStable(events, func(i, j int) bool { return events[i].Class < events[j].Class })

		for start := 0; start < len(events); {
			end := start + 1
			for end < len(events) && events[end].Class == events[start].Class {
				end++
			}
			group := events[start:end]
			var tracks []int
			switch len(group) {
			case 1:
				tracks = []int{0}
			case 2:
				tracks = []int{1, 2}
			default:
				tracks = []int{3, 4, 5}
			}
			for i, t := range tracks {
				ev := group[i]
				slot := &out[fr][t]
				slot[0][ev.Class] = 1
				slot[1][ev.Class] = ev.DOA[0]
				slot[2][ev.Class] = ev.DOA[1]
				slot[3][ev.Class] = ev.DOA[2]
				slot[4][ev.Class] = ev.Dist / 100
			}
			start = end
		}
	}
	return out, nil
}
