package cmd

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/clipforge/clipforge/pkg/hardware"
)

var configOutput string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration helpers",
	Long:  `Commands for generating daemon configuration based on hardware capabilities.`,
}

var configRecommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Generate a recommended daemon configuration",
	Long: `Analyzes the host hardware (CPU, RAM) and recommends pipeline
concurrency settings for running the clipforge daemon on this machine.`,
	RunE: runConfigRecommend,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configRecommendCmd)

	configRecommendCmd.Flags().StringVarP(&configOutput, "output", "o", "text",
		"Output format: text, json, yaml, bash")
}

type configRecommendation struct {
	Hardware        hardwareInfo `json:"hardware" yaml:"hardware"`
	Recommendations daemonConfig `json:"recommendations" yaml:"recommendations"`
	Rationale       string       `json:"rationale" yaml:"rationale"`
}

type hardwareInfo struct {
	CPUModel     string `json:"cpu_model" yaml:"cpu_model"`
	CPUThreads   int    `json:"cpu_threads" yaml:"cpu_threads"`
	RAMBytes     uint64 `json:"ram_bytes" yaml:"ram_bytes"`
	RAMGB        string `json:"ram_gb" yaml:"ram_gb"`
	OS           string `json:"os" yaml:"os"`
	Architecture string `json:"architecture" yaml:"architecture"`
}

type daemonConfig struct {
	Concurrency int `json:"concurrency" yaml:"concurrency"`
}

func runConfigRecommend(cmd *cobra.Command, args []string) error {
	caps := hardware.Detect()
	workers := hardware.RecommendedConcurrency(caps)

	rec := configRecommendation{
		Hardware: hardwareInfo{
			CPUModel:     caps.CPUModel,
			CPUThreads:   caps.CPUThreads,
			RAMBytes:     caps.RAMTotalBytes,
			RAMGB:        fmt.Sprintf("%.1f", float64(caps.RAMTotalBytes)/(1<<30)),
			OS:           runtime.GOOS,
			Architecture: runtime.GOARCH,
		},
		Recommendations: daemonConfig{
			Concurrency: workers,
		},
		Rationale: fmt.Sprintf(
			"each pipeline is budgeted roughly 2 CPU threads and 2 GiB RAM; %d threads and %.1f GiB support %d concurrent pipelines",
			caps.CPUThreads, float64(caps.RAMTotalBytes)/(1<<30), workers),
	}

	switch configOutput {
	case "json":
		output, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
	case "yaml":
		output, err := yaml.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal YAML: %w", err)
		}
		fmt.Print(string(output))
	case "bash":
		fmt.Printf("export CLIPFORGE_CONCURRENCY=%d\n", workers)
	default:
		fmt.Println("Hardware:")
		fmt.Printf("  CPU:  %s (%d threads)\n", rec.Hardware.CPUModel, rec.Hardware.CPUThreads)
		fmt.Printf("  RAM:  %s GiB\n", rec.Hardware.RAMGB)
		fmt.Printf("  OS:   %s/%s\n", rec.Hardware.OS, rec.Hardware.Architecture)
		fmt.Println("\nRecommended:")
		fmt.Printf("  --concurrency %d\n", rec.Recommendations.Concurrency)
		fmt.Printf("\n%s\n", rec.Rationale)
	}

	return nil
}
