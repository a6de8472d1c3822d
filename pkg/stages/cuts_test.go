package stages

import (
	"strings"
	"testing"
)

func TestSceneSelectFilter(t *testing.T) {
	if got := SceneSelectFilter(); got != "select='gt(scene,0.40)',showinfo" {
		t.Errorf("SceneSelectFilter() = %q", got)
	}
}

func TestParseSceneCuts(t *testing.T) {
	output := strings.Join([]string{
		"[Parsed_showinfo_1 @ 0x5555] n:   0 pts:  76800 pts_time:3.2     pos: 1234",
		"frame=  120 fps= 30 q=-0.0 size=N/A",
		"[Parsed_showinfo_1 @ 0x5555] n:   1 pts: 192000 pts_time:8.0     pos: 5678",
		"[Parsed_showinfo_1 @ 0x5555] n:   2 pts: 480000 pts_time:20.125  pos: 9012",
	}, "\n")

	cuts := ParseSceneCuts(output)
	want := []float64{3.2, 8.0, 20.125}
	if len(cuts) != len(want) {
		t.Fatalf("Expected %d cuts, got %d: %v", len(want), len(cuts), cuts)
	}
	for i := range want {
		if cuts[i] != want[i] {
			t.Errorf("cuts[%d] = %v, want %v", i, cuts[i], want[i])
		}
	}
}

func TestParseSceneCutsEmptyOutput(t *testing.T) {
	if cuts := ParseSceneCuts("no showinfo lines here\nframe= 10"); cuts != nil {
		t.Errorf("Expected no cuts, got %v", cuts)
	}
}

func TestBuildSegments(t *testing.T) {
	// cuts at 3.2 and 8.0 over 10s: segments [0,3.2) [3.2,8.0) [8.0,10)
	// the last segment is 2s, all survive the minimum, so it is a no-op
	if segs := BuildSegments([]float64{3.2, 8.0}, 10); segs != nil {
		t.Errorf("All segments kept should be a no-op, got %v", segs)
	}
}

func TestBuildSegmentsDropsShortSegments(t *testing.T) {
	// [9.5, 10) is half a second and gets dropped
	segs := BuildSegments([]float64{3.2, 9.5}, 10)
	if len(segs) != 2 {
		t.Fatalf("Expected 2 segments, got %d: %v", len(segs), segs)
	}
	if segs[0].Start != 0 || segs[0].End != 3.2 {
		t.Errorf("First segment = %+v", segs[0])
	}
	if segs[1].Start != 3.2 || segs[1].End != 9.5 {
		t.Errorf("Second segment = %+v", segs[1])
	}
}

func TestBuildSegmentsIgnoresOutOfRangeCuts(t *testing.T) {
	segs := BuildSegments([]float64{-1, 0, 15}, 10)
	if segs != nil {
		t.Errorf("Out-of-range cuts leave the timeline whole, got %v", segs)
	}
}

func TestBuildSegmentsNoCuts(t *testing.T) {
	if segs := BuildSegments(nil, 10); segs != nil {
		t.Errorf("No cuts should produce no segments, got %v", segs)
	}
	if segs := BuildSegments([]float64{5}, 0); segs != nil {
		t.Errorf("Zero duration should produce no segments, got %v", segs)
	}
}

func TestBuildTrimConcatFilter(t *testing.T) {
	segs := []Segment{{Start: 0, End: 3.2}, {Start: 8, End: 10}}
	filter, v, a := BuildTrimConcatFilter(segs)

	if v != "[outv]" || a != "[outa]" {
		t.Errorf("Labels = %q, %q", v, a)
	}
	if !strings.Contains(filter, "[0:v]trim=start=0.00:end=3.20,setpts=PTS-STARTPTS[v0];") {
		t.Errorf("Missing first video trim: %q", filter)
	}
	if !strings.Contains(filter, "[0:a]atrim=start=8.00:end=10.00,asetpts=PTS-STARTPTS[a1];") {
		t.Errorf("Missing second audio trim: %q", filter)
	}
	if !strings.HasSuffix(filter, "concat=n=2:v=1:a=1[outv][outa]") {
		t.Errorf("Missing concat tail: %q", filter)
	}

	again, _, _ := BuildTrimConcatFilter(segs)
	if again != filter {
		t.Error("BuildTrimConcatFilter should be deterministic")
	}
}

func TestBuildTrimConcatFilterEmpty(t *testing.T) {
	filter, v, a := BuildTrimConcatFilter(nil)
	if filter != "" || v != "" || a != "" {
		t.Errorf("Empty segments should produce empty filter, got %q %q %q", filter, v, a)
	}
}
