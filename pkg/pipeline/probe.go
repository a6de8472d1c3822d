package pipeline

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// probeInfo is what the analyze stage learns about the source artifact
type probeInfo struct {
	Duration float64
	Width    int
	Height   int
}

type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
}

// parseProbeOutput decodes ffprobe -print_format json output
func parseProbeOutput(stdout string) (probeInfo, error) {
	var out ffprobeOutput
	if err := json.Unmarshal([]byte(stdout), &out); err != nil {
		return probeInfo{}, fmt.Errorf("failed to parse probe output: %w", err)
	}

	info := probeInfo{}
	if out.Format.Duration != "" {
		d, err := strconv.ParseFloat(out.Format.Duration, 64)
		if err != nil {
			return probeInfo{}, fmt.Errorf("invalid duration %q: %w", out.Format.Duration, err)
		}
		info.Duration = d
	}
	for _, s := range out.Streams {
		if s.CodecType == "video" {
			info.Width = s.Width
			info.Height = s.Height
			break
		}
	}
	if info.Duration <= 0 {
		return probeInfo{}, fmt.Errorf("source has no readable duration")
	}
	return info, nil
}
