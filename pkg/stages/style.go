// Package stages is the pure stage library: it maps semantic style/quality
// configuration to concrete ffmpeg filter descriptors. Nothing in this
// package touches the filesystem or the job store, which keeps every
// resolution function independently unit-testable and safe to call again on
// an idempotent retry.
package stages

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// DefaultStyle is applied when the requested style is unknown
const DefaultStyle = "cinematic"

// DefaultIntensityMultiplier is applied when the requested intensity is unknown
const DefaultIntensityMultiplier = 1.0

// intensityMultipliers scales the per-style filter deltas
var intensityMultipliers = map[string]float64{
	"light":   0.5,
	"medium":  1.0,
	"high":    1.5,
	"extreme": 2.0,
}

// stylePreset is the raw lookup-table entry for one style
type stylePreset struct {
	curvePreset     string  // ffmpeg curves preset name, empty for none
	contrastDelta   float64 // added to neutral 1.0, scaled by intensity
	brightnessDelta float64 // added to neutral 0.0, scaled by intensity
	saturationDelta float64 // added to neutral 1.0, scaled by intensity
	sharpenAmount   float64 // unsharp luma amount, scaled by intensity
	fps             int     // target frame rate
	caption         string  // static overlay text
	aggressiveCuts  bool    // eligible for the apply_cuts stage
}

var stylePresets = map[string]stylePreset{
	"cinematic": {
		curvePreset:     "medium_contrast",
		contrastDelta:   0.08,
		brightnessDelta: -0.02,
		saturationDelta: 0.05,
		sharpenAmount:   0.3,
		fps:             24,
		caption:         "CLIPFORGE PRESENTS",
	},
	"mrbeast": {
		curvePreset:     "increase_contrast",
		contrastDelta:   0.22,
		brightnessDelta: 0.04,
		saturationDelta: 0.35,
		sharpenAmount:   1.1,
		fps:             30,
		caption:         "WAIT FOR IT...",
		aggressiveCuts:  true,
	},
	"vlog": {
		contrastDelta:   0.05,
		brightnessDelta: 0.03,
		saturationDelta: 0.12,
		sharpenAmount:   0.5,
		fps:             30,
		caption:         "daily vlog",
		aggressiveCuts:  true,
	},
	"vintage": {
		curvePreset:     "vintage",
		contrastDelta:   -0.05,
		brightnessDelta: 0.02,
		saturationDelta: -0.30,
		sharpenAmount:   0.0,
		fps:             24,
		caption:         "memories",
	},
	"noir": {
		curvePreset:     "strong_contrast",
		contrastDelta:   0.30,
		brightnessDelta: -0.05,
		saturationDelta: -1.0,
		sharpenAmount:   0.4,
		fps:             24,
		caption:         "NOIR",
	},
}

// StyleParams is the resolved filter description for one job
type StyleParams struct {
	Style          string
	Multiplier     float64
	CurvePreset    string
	Contrast       float64 // eq contrast value (neutral 1.0)
	Brightness     float64 // eq brightness value (neutral 0.0)
	Saturation     float64 // eq saturation value (neutral 1.0, floor 0.0)
	SharpenAmount  float64 // unsharp luma amount
	FPS            int
	Caption        string
	AggressiveCuts bool
}

// ResolveStyleParameters maps (style, intensity) to concrete filter values.
// Unknown style falls back to "cinematic"; unknown intensity falls back to a
// multiplier of 1.0. Pure: same inputs always yield the same params.
func ResolveStyleParameters(style, intensity string) StyleParams {
	preset, ok := stylePresets[style]
	if !ok {
		style = DefaultStyle
		preset = stylePresets[DefaultStyle]
	}

	m, ok := intensityMultipliers[intensity]
	if !ok {
		m = DefaultIntensityMultiplier
	}

	saturation := 1.0 + preset.saturationDelta*m
	if saturation < 0 {
		saturation = 0
	}
	sharpen := preset.sharpenAmount * m
	if sharpen > 5 {
		sharpen = 5 // unsharp amount upper bound
	}

	return StyleParams{
		Style:          style,
		Multiplier:     m,
		CurvePreset:    preset.curvePreset,
		Contrast:       1.0 + preset.contrastDelta*m,
		Brightness:     preset.brightnessDelta * m,
		Saturation:     saturation,
		SharpenAmount:  sharpen,
		FPS:            preset.fps,
		Caption:        preset.caption,
		AggressiveCuts: preset.aggressiveCuts,
	}
}

// BuildFilterChain returns the ordered -vf filter descriptors for the
// apply_style stage. Deterministic given the same params, which is what makes
// whole-pipeline retries idempotent.
func BuildFilterChain(p StyleParams) []string {
	var chain []string
	if p.CurvePreset != "" {
		chain = append(chain, "curves=preset="+p.CurvePreset)
	}
	chain = append(chain, fmt.Sprintf("eq=contrast=%s:brightness=%s:saturation=%s",
		formatFloat(p.Contrast), formatFloat(p.Brightness), formatFloat(p.Saturation)))
	if p.SharpenAmount > 0 {
		chain = append(chain, fmt.Sprintf("unsharp=5:5:%s", formatFloat(p.SharpenAmount)))
	}
	if p.FPS > 0 {
		chain = append(chain, fmt.Sprintf("fps=%d", p.FPS))
	}
	return chain
}

// FilterChainArg joins a filter chain into a single -vf argument
func FilterChainArg(chain []string) string {
	return strings.Join(chain, ",")
}

// BuildCaptionFilter returns the drawtext descriptor for the overlay_caption
// stage. The caption is static and style-appropriate.
func BuildCaptionFilter(p StyleParams) string {
	text := escapeDrawtext(p.Caption)
	return fmt.Sprintf(
		"drawtext=text='%s':fontcolor=white:fontsize=h/12:borderw=3:bordercolor=black:x=(w-text_w)/2:y=h-text_h-h/18",
		text)
}

// escapeDrawtext escapes characters drawtext treats specially
func escapeDrawtext(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`, `:`, `\:`, `%`, `\%`)
	return r.Replace(s)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// KnownStyles returns the preset names in sorted order
func KnownStyles() []string {
	names := make([]string, 0, len(stylePresets))
	for name := range stylePresets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
