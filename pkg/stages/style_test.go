package stages

import (
	"reflect"
	"strings"
	"testing"
)

func TestResolveStyleParametersDefaults(t *testing.T) {
	tests := []struct {
		name      string
		style     string
		intensity string
		wantStyle string
		wantMult  float64
	}{
		{"known style and intensity", "mrbeast", "high", "mrbeast", 1.5},
		{"unknown style falls back", "does-not-exist", "medium", "cinematic", 1.0},
		{"unknown intensity falls back", "vlog", "ultra", "vlog", 1.0},
		{"both unknown", "", "", "cinematic", 1.0},
		{"light halves deltas", "noir", "light", "noir", 0.5},
		{"extreme doubles deltas", "vintage", "extreme", "vintage", 2.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ResolveStyleParameters(tt.style, tt.intensity)
			if p.Style != tt.wantStyle {
				t.Errorf("Style = %q, want %q", p.Style, tt.wantStyle)
			}
			if p.Multiplier != tt.wantMult {
				t.Errorf("Multiplier = %v, want %v", p.Multiplier, tt.wantMult)
			}
		})
	}
}

func TestResolveStyleParametersIsDeterministic(t *testing.T) {
	for _, style := range KnownStyles() {
		for intensity := range intensityMultipliers {
			a := ResolveStyleParameters(style, intensity)
			b := ResolveStyleParameters(style, intensity)
			if !reflect.DeepEqual(a, b) {
				t.Errorf("ResolveStyleParameters(%q, %q) is not deterministic", style, intensity)
			}
		}
	}
}

func TestResolveStyleParametersSaturationFloor(t *testing.T) {
	// noir at extreme drives saturation delta to -2.0, below zero
	p := ResolveStyleParameters("noir", "extreme")
	if p.Saturation < 0 {
		t.Errorf("Saturation = %v, should never go below 0", p.Saturation)
	}
}

func TestResolveStyleParametersScalesWithIntensity(t *testing.T) {
	light := ResolveStyleParameters("mrbeast", "light")
	high := ResolveStyleParameters("mrbeast", "high")

	lightDelta := light.Contrast - 1.0
	highDelta := high.Contrast - 1.0
	if lightDelta >= highDelta {
		t.Errorf("Contrast delta should grow with intensity: light %v, high %v", lightDelta, highDelta)
	}
}

func TestBuildFilterChain(t *testing.T) {
	p := ResolveStyleParameters("cinematic", "medium")
	chain := BuildFilterChain(p)

	if len(chain) != 4 {
		t.Fatalf("Expected 4 filters for cinematic, got %d: %v", len(chain), chain)
	}
	if chain[0] != "curves=preset=medium_contrast" {
		t.Errorf("First filter = %q", chain[0])
	}
	if chain[1] != "eq=contrast=1.08:brightness=-0.02:saturation=1.05" {
		t.Errorf("eq filter = %q", chain[1])
	}
	if chain[2] != "unsharp=5:5:0.30" {
		t.Errorf("unsharp filter = %q", chain[2])
	}
	if chain[3] != "fps=24" {
		t.Errorf("fps filter = %q", chain[3])
	}
}

func TestBuildFilterChainOmitsEmptyFilters(t *testing.T) {
	// vlog has no curve preset, vintage has no sharpening
	vlog := BuildFilterChain(ResolveStyleParameters("vlog", "medium"))
	for _, f := range vlog {
		if strings.HasPrefix(f, "curves=") {
			t.Errorf("vlog chain should have no curves filter: %v", vlog)
		}
	}

	vintage := BuildFilterChain(ResolveStyleParameters("vintage", "medium"))
	for _, f := range vintage {
		if strings.HasPrefix(f, "unsharp=") {
			t.Errorf("vintage chain should have no unsharp filter: %v", vintage)
		}
	}
}

func TestFilterChainArg(t *testing.T) {
	arg := FilterChainArg([]string{"a=1", "b=2"})
	if arg != "a=1,b=2" {
		t.Errorf("FilterChainArg = %q", arg)
	}
}

func TestBuildCaptionFilterEscapes(t *testing.T) {
	p := StyleParams{Caption: "it's 100%: done"}
	filter := BuildCaptionFilter(p)

	if !strings.Contains(filter, `drawtext=text='it\'s 100\%\: done'`) {
		t.Errorf("Caption not escaped for drawtext: %q", filter)
	}
}

func TestKnownStylesSorted(t *testing.T) {
	styles := KnownStyles()
	if len(styles) != len(stylePresets) {
		t.Fatalf("Expected %d styles, got %d", len(stylePresets), len(styles))
	}
	for i := 1; i < len(styles); i++ {
		if styles[i-1] >= styles[i] {
			t.Errorf("KnownStyles not sorted: %v", styles)
		}
	}
}
