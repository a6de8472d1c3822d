package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var (
	// Job submit flags
	sourceRef string
	style     string
	intensity string
	quality   string

	// Job status flags
	followStatus bool
)

// jobsCmd represents the jobs command
var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage render jobs",
	Long:  `Commands for submitting and inspecting video render jobs.`,
}

var jobsSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a new render job",
	Long:  `Submit a source video for asynchronous styling and rendering.`,
	RunE:  runJobsSubmit,
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Get job status",
	Long:  `Retrieve the status of a specific job. If no ID is provided, lists all jobs.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runJobsStatus,
}

var jobsHistoryCmd = &cobra.Command{
	Use:   "history <job-id>",
	Short: "Show a job's stage history",
	Long:  `Retrieve the per-stage audit trail recorded while the job was processed.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsHistory,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listAllJobs()
	},
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsSubmitCmd)
	jobsCmd.AddCommand(jobsStatusCmd)
	jobsCmd.AddCommand(jobsHistoryCmd)
	jobsCmd.AddCommand(jobsListCmd)

	jobsSubmitCmd.Flags().StringVar(&sourceRef, "source", "", "path to the source video (required)")
	jobsSubmitCmd.Flags().StringVar(&style, "style", "", "render style (e.g. cinematic, mrbeast, vlog)")
	jobsSubmitCmd.Flags().StringVar(&intensity, "intensity", "", "style intensity (light, medium, high, extreme)")
	jobsSubmitCmd.Flags().StringVar(&quality, "quality", "", "output quality (480p, 720p, 1080p, 4k)")
	jobsSubmitCmd.MarkFlagRequired("source")

	jobsStatusCmd.Flags().BoolVar(&followStatus, "follow", false, "poll job status every 2 seconds until completion")
}

type styleConfig struct {
	Style     string `json:"style,omitempty"`
	Intensity string `json:"intensity,omitempty"`
	Quality   string `json:"quality,omitempty"`
}

type jobRequest struct {
	SourceRef string      `json:"source_ref"`
	Style     styleConfig `json:"style_config"`
}

type jobResponse struct {
	ID          string      `json:"id"`
	Status      string      `json:"status"`
	Progress    int         `json:"progress"`
	CurrentStep string      `json:"current_step,omitempty"`
	Style       styleConfig `json:"style_config"`
	SourceRef   string      `json:"source_ref"`
	OutputRef   string      `json:"output_ref,omitempty"`
	Error       string      `json:"error,omitempty"`
	Attempts    int         `json:"attempts"`
	CreatedAt   time.Time   `json:"created_at"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

type historyEntry struct {
	JobID     string    `json:"job_id"`
	Step      string    `json:"step"`
	Outcome   string    `json:"outcome"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func runJobsSubmit(cmd *cobra.Command, args []string) error {
	url := fmt.Sprintf("%s/jobs", GetServerURL())

	req := jobRequest{
		SourceRef: sourceRef,
		Style: styleConfig{
			Style:     style,
			Intensity: intensity,
			Quality:   quality,
		},
	}

	reqBody, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequest("POST", url, bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := GetHTTPClient()
	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to connect to daemon API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result jobResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if IsJSONOutput() {
		output, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
	} else {
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Field", "Value")

		table.Append("Job ID", result.ID)
		table.Append("Status", result.Status)
		table.Append("Style", displayStyle(result.Style))
		table.Append("Source", result.SourceRef)
		table.Append("Created At", result.CreatedAt.Format(time.RFC3339))

		table.Render()
		fmt.Printf("\nJob submitted successfully! ID: %s\n", result.ID)
	}

	return nil
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return listAllJobs()
	}

	jobID := args[0]

	if followStatus {
		fmt.Printf("Following job %s (press Ctrl+C to stop)...\n\n", jobID)
		for {
			result, err := fetchJobStatus(jobID)
			if err != nil {
				return err
			}

			fmt.Printf("[%s] status=%s progress=%d%% step=%q\n",
				time.Now().Format("15:04:05"), result.Status, result.Progress, result.CurrentStep)

			if result.Status == "completed" || result.Status == "error" {
				fmt.Println()
				return printJob(result)
			}
			time.Sleep(2 * time.Second)
		}
	}

	result, err := fetchJobStatus(jobID)
	if err != nil {
		return err
	}
	return printJob(result)
}

func fetchJobStatus(jobID string) (*jobResponse, error) {
	url := fmt.Sprintf("%s/jobs/%s", GetServerURL(), jobID)

	resp, err := GetHTTPClient().Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("job %s not found", jobID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result jobResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &result, nil
}

func printJob(result *jobResponse) error {
	if IsJSONOutput() {
		output, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")

	table.Append("Job ID", result.ID)
	table.Append("Status", result.Status)
	table.Append("Progress", fmt.Sprintf("%d%%", result.Progress))
	if result.CurrentStep != "" {
		table.Append("Current Step", result.CurrentStep)
	}
	table.Append("Style", displayStyle(result.Style))
	table.Append("Source", result.SourceRef)
	if result.OutputRef != "" {
		table.Append("Output", result.OutputRef)
	}
	if result.Error != "" {
		table.Append("Error", result.Error)
	}
	table.Append("Attempts", fmt.Sprintf("%d", result.Attempts))
	table.Append("Created At", result.CreatedAt.Format(time.RFC3339))
	if result.CompletedAt != nil {
		table.Append("Completed At", result.CompletedAt.Format(time.RFC3339))
	}

	table.Render()
	return nil
}

func listAllJobs() error {
	url := fmt.Sprintf("%s/jobs", GetServerURL())

	resp, err := GetHTTPClient().Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to daemon API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var jobs []jobResponse
	if err := json.Unmarshal(body, &jobs); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if IsJSONOutput() {
		output, err := json.MarshalIndent(jobs, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Status", "Progress", "Style", "Attempts", "Created")

	for _, job := range jobs {
		table.Append(
			job.ID,
			job.Status,
			fmt.Sprintf("%d%%", job.Progress),
			displayStyle(job.Style),
			fmt.Sprintf("%d", job.Attempts),
			job.CreatedAt.Format("2006-01-02 15:04"),
		)
	}

	table.Render()
	fmt.Printf("\nTotal: %d jobs\n", len(jobs))
	return nil
}

func runJobsHistory(cmd *cobra.Command, args []string) error {
	jobID := args[0]
	url := fmt.Sprintf("%s/jobs/%s/history", GetServerURL(), jobID)

	resp, err := GetHTTPClient().Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to daemon API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("job %s not found", jobID)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var history []historyEntry
	if err := json.Unmarshal(body, &history); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if IsJSONOutput() {
		output, err := json.MarshalIndent(history, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	if len(history) == 0 {
		fmt.Println("No history recorded")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Time", "Step", "Outcome", "Message")

	for _, entry := range history {
		table.Append(
			entry.Timestamp.Format("15:04:05"),
			entry.Step,
			entry.Outcome,
			entry.Message,
		)
	}

	table.Render()
	return nil
}

func displayStyle(s styleConfig) string {
	style := s.Style
	if style == "" {
		style = "cinematic"
	}
	out := style
	if s.Intensity != "" {
		out += "/" + s.Intensity
	}
	if s.Quality != "" {
		out += " @" + s.Quality
	}
	return out
}
