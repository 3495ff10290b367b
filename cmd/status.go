package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/grainfit/internal/estimate"
	"github.com/cwbudde/grainfit/internal/server"
	"github.com/cwbudde/grainfit/internal/store"
)

var (
	serverURL string
	tableOut  string
)

var statusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Query server status or specific job",
	Long: `Queries the server for job status information.
If no job-id is provided, lists all jobs.
If job-id is provided, shows detailed status for that job and, with
--table, downloads its grain table.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit an estimation job to the server",
	Long: `Posts a job for a frame pair. Paths are resolved on the server, so
they must be visible to it.`,
	RunE: runSubmit,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a pending or running job",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

func init() {
	for _, c := range []*cobra.Command{statusCmd, submitCmd, cancelCmd} {
		c.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
		rootCmd.AddCommand(c)
	}
	statusCmd.Flags().StringVar(&tableOut, "table", "", "Write the job's grain table to this path (- for stdout)")

	submitCmd.Flags().StringVar(&sourcePath, "source", "", "Grainy source frame (required)")
	submitCmd.Flags().StringVar(&denoisedPath, "denoised", "", "Denoised frame (required)")
	submitCmd.Flags().Uint64Var(&startTime, "start", 0, "Segment start time in 10 MHz ticks")
	submitCmd.Flags().Uint64Var(&endTime, "end", estimate.DefaultConfig().EndTime, "Segment end time in 10 MHz ticks")
	submitCmd.Flags().IntVar(&arLag, "lag", estimate.DefaultConfig().ARLag, "AR filter lag (0-3)")
	submitCmd.Flags().StringVar(&fallback, "fallback", string(estimate.FallbackZero), "Singular system fallback: zero, optimizer")
	submitCmd.Flags().IntVar(&bitDepth, "bit-depth", 0, "Significant bits of 16-bit inputs (9-16, 0 = 16)")
	submitCmd.Flags().BoolVar(&monochrome, "mono", false, "Estimate luma only")
	submitCmd.MarkFlagRequired("source")
	submitCmd.MarkFlagRequired("denoised")
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if len(args) == 0 {
		// List all jobs
		return listJobs(out, fmt.Sprintf("%s/api/v1/jobs", serverURL))
	}

	// Get specific job status
	jobID := args[0]
	if tableOut != "" {
		return downloadTable(out, fmt.Sprintf("%s/api/v1/jobs/%s/table", serverURL, jobID), jobID)
	}
	return getJobStatus(out, fmt.Sprintf("%s/api/v1/jobs/%s/status", serverURL, jobID), jobID)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	config := store.JobConfig{
		SourcePath:   sourcePath,
		DenoisedPath: denoisedPath,
		BitDepth:     bitDepth,
		Monochrome:   monochrome,
		StartTime:    startTime,
		EndTime:      endTime,
		ARLag:        arLag,
		Fallback:     fallback,
	}
	body, err := json.Marshal(config)
	if err != nil {
		return err
	}

	resp, err := http.Post(serverURL+"/api/v1/jobs", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned error: %s", bytes.TrimSpace(body))
	}

	var job server.Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), job.ID)
	return nil
}

func runCancel(cmd *cobra.Command, args []string) error {
	jobID := args[0]
	resp, err := http.Post(fmt.Sprintf("%s/api/v1/jobs/%s/cancel", serverURL, jobID), "application/json", nil)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusAccepted:
		fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for %s\n", jobID)
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("job not found: %s", jobID)
	default:
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned error: %s", bytes.TrimSpace(body))
	}
}

func listJobs(out io.Writer, url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned error: %s", string(body))
	}

	var jobs []server.Job
	if err := json.NewDecoder(resp.Body).Decode(&jobs); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Fprintln(out, "No jobs found")
		return nil
	}

	fmt.Fprintf(out, "Found %d job(s):\n\n", len(jobs))
	for _, job := range jobs {
		fmt.Fprintf(out, "Job ID: %s\n", job.ID)
		fmt.Fprintf(out, "  State: %s\n", job.State)
		fmt.Fprintf(out, "  Source: %s\n", job.Config.SourcePath)
		fmt.Fprintf(out, "  Lag: %d\n", job.Config.ARLag)
		if job.Segment != nil {
			fmt.Fprintf(out, "  Luma points: %d\n", len(job.Segment.ScalingPointsY))
		}
		if job.Error != "" {
			fmt.Fprintf(out, "  Error: %s\n", job.Error)
		}
		fmt.Fprintln(out)
	}

	return nil
}

func getJobStatus(out io.Writer, url, jobID string) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("job not found: %s", jobID)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned error: %s", string(body))
	}

	var status server.JobStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	// Display status
	fmt.Fprintf(out, "Job: %s\n", status.ID)
	fmt.Fprintf(out, "State: %s\n", status.State)
	fmt.Fprintln(out)

	config := status.Config
	fmt.Fprintln(out, "Configuration:")
	fmt.Fprintf(out, "  Source: %s\n", config.SourcePath)
	fmt.Fprintf(out, "  Denoised: %s\n", config.DenoisedPath)
	fmt.Fprintf(out, "  Span: [%d, %d)\n", config.StartTime, config.EndTime)
	fmt.Fprintf(out, "  Lag: %d\n", config.ARLag)
	fmt.Fprintf(out, "  Fallback: %s\n", config.Fallback)
	fmt.Fprintln(out)

	elapsed := time.Duration(status.Elapsed * float64(time.Second))
	fmt.Fprintf(out, "Elapsed: %s\n", elapsed.Round(time.Millisecond))

	if len(status.Planes) > 0 {
		fmt.Fprintln(out)
		if err := printPlaneReports(out, status.Planes); err != nil {
			return err
		}
	}

	if status.Error != "" {
		fmt.Fprintf(out, "\nError: %s\n", status.Error)
	}

	return nil
}

func downloadTable(out io.Writer, url, jobID string) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("no table for job %s: %s", jobID, bytes.TrimSpace(body))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read table: %w", err)
	}
	if tableOut == "-" {
		_, err = out.Write(data)
		return err
	}
	if err := os.WriteFile(tableOut, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tableOut, err)
	}
	fmt.Fprintf(out, "Wrote %s\n", tableOut)
	return nil
}
