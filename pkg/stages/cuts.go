package stages

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// SceneThreshold is the scene-change score above which a frame is treated as
// a cut point by the detect_cuts stage
const SceneThreshold = 0.4

// minSegmentSeconds drops segments shorter than this when applying cuts;
// they are the low-activity filler the cut pass is meant to remove
const minSegmentSeconds = 1.5

// Segment is one kept [Start, End) span of the source timeline
type Segment struct {
	Start float64
	End   float64
}

// SceneSelectFilter returns the -vf descriptor for the detect_cuts probe run.
// Frame timestamps surface through showinfo on stderr.
func SceneSelectFilter() string {
	return fmt.Sprintf("select='gt(scene,%s)',showinfo", formatFloat(SceneThreshold))
}

var ptsTimeRe = regexp.MustCompile(`pts_time:([0-9]+(?:\.[0-9]+)?)`)

// ParseSceneCuts extracts cut-point timestamps from showinfo output.
// Returns timestamps in encounter order; malformed lines are skipped.
func ParseSceneCuts(output string) []float64 {
	var cuts []float64
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, "pts_time:") {
			continue
		}
		m := ptsTimeRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		t, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		cuts = append(cuts, t)
	}
	return cuts
}

// BuildSegments turns cut points into the kept segments of the timeline.
// Segments shorter than the minimum are dropped. The result is empty when
// cutting would not change the output, letting the caller skip the stage.
func BuildSegments(cuts []float64, duration float64) []Segment {
	if len(cuts) == 0 || duration <= 0 {
		return nil
	}

	bounds := make([]float64, 0, len(cuts)+2)
	bounds = append(bounds, 0)
	for _, c := range cuts {
		if c > 0 && c < duration {
			bounds = append(bounds, c)
		}
	}
	bounds = append(bounds, duration)

	var segs []Segment
	for i := 0; i+1 < len(bounds); i++ {
		s := Segment{Start: bounds[i], End: bounds[i+1]}
		if s.End-s.Start >= minSegmentSeconds {
			segs = append(segs, s)
		}
	}

	// Nothing dropped means the cut pass is a no-op
	if len(segs) == len(bounds)-1 {
		return nil
	}
	return segs
}

// BuildTrimConcatFilter returns the -filter_complex expression that trims the
// kept segments and concatenates them, plus the output labels to -map.
// Deterministic given the same segments.
func BuildTrimConcatFilter(segs []Segment) (filter, videoLabel, audioLabel string) {
	if len(segs) == 0 {
		return "", "", ""
	}

	var b strings.Builder
	for i, s := range segs {
		fmt.Fprintf(&b, "[0:v]trim=start=%s:end=%s,setpts=PTS-STARTPTS[v%d];",
			formatFloat(s.Start), formatFloat(s.End), i)
		fmt.Fprintf(&b, "[0:a]atrim=start=%s:end=%s,asetpts=PTS-STARTPTS[a%d];",
			formatFloat(s.Start), formatFloat(s.End), i)
	}
	for i := range segs {
		fmt.Fprintf(&b, "[v%d][a%d]", i, i)
	}
	fmt.Fprintf(&b, "concat=n=%d:v=1:a=1[outv][outa]", len(segs))

	return b.String(), "[outv]", "[outa]"
}
