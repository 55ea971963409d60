package label

import "fmt"

// SegmentBlock collects the events of one class inside a segment: the frame
// offsets within the segment and the events active at each offset.
type SegmentBlock struct {
	Frames []int
	Events [][]Event
}

// SegmentLabels groups frame-wise events into segments of framesPerSec
// frames, indexed [segment][class]. Segments without events are empty maps.
func SegmentLabels(pred Frames, maxFrames, framesPerSec int) []map[int][]SegmentBlock {
	if framesPerSec < 1 {
		framesPerSec = 1
	}
	nbBlocks := (maxFrames + framesPerSec - 1) / framesPerSec
	out := make([]map[int][]SegmentBlock, nbBlocks)
	for b := range out {
		out[b] = map[int][]SegmentBlock{}
	}
	for start := 0; start < maxFrames; start += framesPerSec {
		block := start / framesPerSec
		perClass := map[int]*SegmentBlock{}
		var order []int
		for fr := start; fr < start+framesPerSec; fr++ {
			evs, ok := pred[fr]
			if !ok {
				continue
			}
			for _, ev := range evs {
				sb, ok := perClass[ev.Class]
				if !ok {
					sb = &SegmentBlock{}
					perClass[ev.Class] = sb
					order = append(order, ev.Class)
				}
				off := fr - start
				if n := len(sb.Frames); n == 0 || sb.Frames[n-1] != off {
					sb.Frames = append(sb.Frames, off)
					sb.Events = append(sb.Events, nil)
				}
				sb.Events[len(sb.Events)-1] = append(sb.Events[len(sb.Events)-1], ev)
			}
		}
		for _, c := range order {
			out[block][c] = append(out[block][c], *perClass[c])
		}
	}
	return out
}

// OrganizeLabels indexes events as [frame][class][track]. When a track id
// repeats within a frame and class, the later event gets -1, or one less
// than the smallest negative id already used.
func OrganizeLabels(pred Frames, maxFrames int) []map[int]map[int]Event {
	out := make([]map[int]map[int]Event, maxFrames)
	for f := range out {
		out[f] = map[int]map[int]Event{}
	}
	for f := 0; f < maxFrames; f++ {
		evs, ok := pred[f]
		if !ok {
			continue
		}
		for _, ev := range evs {
			tracks, ok := out[f][ev.Class]
			if !ok {
				tracks = map[int]Event{}
				out[f][ev.Class] = tracks
			}
			if _, dup := tracks[ev.Track]; !dup {
				tracks[ev.Track] = ev
				continue
			}
			minID := 0
			first := true
			for id := range tracks {
				if first || id < minID {
					minID = id
					first = false
				}
			}
			newID := -1
			if minID < 0 {
				newID = minID - 1
			}
			ev.Track = newID
			tracks[newID] = ev
		}
	}
	return out
}

// RegressionToOutputFormat turns SED activity [frame][class] and DOA
// regression output into frame-wise events. DOA rows of 2*nbClasses values
// are azimuth/elevation blocks, otherwise x, y, z blocks.
func RegressionToOutputFormat(sed, doa [][]float64, nbClasses int) (Frames, error) {
	if len(sed) != len(doa) {
		return nil, fmt.Errorf("sed has %d frames, doa has %d", len(sed), len(doa))
	}
	out := Frames{}
	for f := range sed {
		if len(sed[f]) < nbClasses {
			return nil, fmt.Errorf("frame %d: sed has %d classes, want %d", f, len(sed[f]), nbClasses)
		}
		polar := len(doa[f]) == 2*nbClasses
		if !polar && len(doa[f]) < 3*nbClasses {
			return nil, fmt.Errorf("frame %d: doa has %d values for %d classes", f, len(doa[f]), nbClasses)
		}
		for c := 0; c < nbClasses; c++ {
			if sed[f][c] == 0 {
				continue
			}
			ev := Event{Class: c}
			if polar {
				ev.DOA = []float64{doa[f][c], doa[f][nbClasses+c]}
			} else {
				ev.DOA = []float64{doa[f][c], doa[f][nbClasses+c], doa[f][2*nbClasses+c]}
			}
			out[f] = append(out[f], ev)
		}
	}
	return out, nil
}
