package stages

// DefaultQuality is applied when the requested quality is unknown
const DefaultQuality = "1080p"

// QualityParams describes the finalize_quality transcode target
type QualityParams struct {
	Quality string
	Width   int
	Height  int
	CRF     int    // x264 constant rate factor, lower is better
	Preset  string // x264 speed preset
}

var qualityPresets = map[string]QualityParams{
	"480p":  {Quality: "480p", Width: 854, Height: 480, CRF: 28, Preset: "veryfast"},
	"720p":  {Quality: "720p", Width: 1280, Height: 720, CRF: 23, Preset: "fast"},
	"1080p": {Quality: "1080p", Width: 1920, Height: 1080, CRF: 21, Preset: "medium"},
	"4k":    {Quality: "4k", Width: 3840, Height: 2160, CRF: 18, Preset: "slow"},
}

// ResolveQualityParameters maps a quality label to a concrete transcode
// target. Unknown labels fall back to the 1080p equivalent.
func ResolveQualityParameters(quality string) QualityParams {
	if p, ok := qualityPresets[quality]; ok {
		return p
	}
	return qualityPresets[DefaultQuality]
}

// KnownQualities returns the quality labels in ascending resolution order
func KnownQualities() []string {
	return []string{"480p", "720p", "1080p", "4k"}
}
