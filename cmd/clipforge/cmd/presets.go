package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/clipforge/clipforge/pkg/stages"
)

var presetsOutput string

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List available styles and qualities",
	Long:  `Shows the style and quality presets the render pipeline understands, with the parameters each resolves to at medium intensity.`,
	RunE:  runPresets,
}

func init() {
	rootCmd.AddCommand(presetsCmd)
	presetsCmd.Flags().StringVarP(&presetsOutput, "output", "o", "table", "Output format: table, json, yaml")
}

type stylePresetInfo struct {
	Name     string  `json:"name" yaml:"name"`
	Contrast float64 `json:"contrast" yaml:"contrast"`
	FPS      int     `json:"fps" yaml:"fps"`
	Caption  string  `json:"caption,omitempty" yaml:"caption,omitempty"`
	Cuts     bool    `json:"aggressive_cuts" yaml:"aggressive_cuts"`
}

type qualityPresetInfo struct {
	Name   string `json:"name" yaml:"name"`
	Width  int    `json:"width" yaml:"width"`
	Height int    `json:"height" yaml:"height"`
	CRF    int    `json:"crf" yaml:"crf"`
	Preset string `json:"preset" yaml:"preset"`
}

type presetListing struct {
	Styles    []stylePresetInfo   `json:"styles" yaml:"styles"`
	Qualities []qualityPresetInfo `json:"qualities" yaml:"qualities"`
}

func runPresets(cmd *cobra.Command, args []string) error {
	listing := presetListing{}

	for _, name := range stages.KnownStyles() {
		p := stages.ResolveStyleParameters(name, "medium")
		listing.Styles = append(listing.Styles, stylePresetInfo{
			Name:     name,
			Contrast: p.Contrast,
			FPS:      p.FPS,
			Caption:  p.Caption,
			Cuts:     p.AggressiveCuts,
		})
	}
	for _, name := range stages.KnownQualities() {
		q := stages.ResolveQualityParameters(name)
		listing.Qualities = append(listing.Qualities, qualityPresetInfo{
			Name:   name,
			Width:  q.Width,
			Height: q.Height,
			CRF:    q.CRF,
			Preset: q.Preset,
		})
	}

	switch presetsOutput {
	case "json":
		output, err := json.MarshalIndent(listing, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
	case "yaml":
		output, err := yaml.Marshal(listing)
		if err != nil {
			return fmt.Errorf("failed to marshal YAML: %w", err)
		}
		fmt.Print(string(output))
	default:
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Style", "Contrast", "FPS", "Caption", "Cuts")
		for _, s := range listing.Styles {
			cuts := ""
			if s.Cuts {
				cuts = "yes"
			}
			table.Append(s.Name, fmt.Sprintf("%.2f", s.Contrast), fmt.Sprintf("%d", s.FPS), s.Caption, cuts)
		}
		table.Render()

		fmt.Println()
		qtable := tablewriter.NewWriter(os.Stdout)
		qtable.Header("Quality", "Resolution", "CRF", "Encoder Preset")
		for _, q := range listing.Qualities {
			qtable.Append(q.Name, fmt.Sprintf("%dx%d", q.Width, q.Height), fmt.Sprintf("%d", q.CRF), q.Preset)
		}
		qtable.Render()
	}

	return nil
}
