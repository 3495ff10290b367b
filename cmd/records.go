package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/grainfit/internal/store"
)

var (
	recordsDataDir string
	keepLast       int
	olderThanDays  int
	forceClean     bool
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Manage stored estimation records",
	Long: `Manage the estimation records saved by the server, including listing,
printing stored tables and cleaning old records.`,
}

var listRecordsCmd = &cobra.Command{
	Use:   "list",
	Short: "List all stored records",
	Long:  `Display all records with metadata including job ID, timestamp, source, AR lag and sizes.`,
	RunE:  runListRecords,
}

var showRecordCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Print the grain table of a stored record",
	Args:  cobra.ExactArgs(1),
	RunE:  runShowRecord,
}

var cleanRecordsCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clean old records",
	Long: `Delete old records based on retention policy.
You can keep the newest N records or delete records older than N days.`,
	RunE: runCleanRecords,
}

func init() {
	rootCmd.AddCommand(recordsCmd)

	recordsCmd.AddCommand(listRecordsCmd)
	recordsCmd.AddCommand(showRecordCmd)
	recordsCmd.AddCommand(cleanRecordsCmd)

	recordsCmd.PersistentFlags().StringVar(&recordsDataDir, "data-dir", "./data", "Base directory for record storage")

	cleanRecordsCmd.Flags().IntVar(&keepLast, "keep-last", 0, "Keep only the newest N records (0 = keep all)")
	cleanRecordsCmd.Flags().IntVar(&olderThanDays, "older-than", 0, "Delete records older than N days (0 = no age limit)")
	cleanRecordsCmd.Flags().BoolVarP(&forceClean, "force", "f", false, "Skip confirmation prompt")
}

func runListRecords(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	recordStore, err := store.NewFSStore(recordsDataDir)
	if err != nil {
		return fmt.Errorf("failed to create record store: %w", err)
	}

	infos, err := recordStore.ListRecords()
	if err != nil {
		return fmt.Errorf("failed to list records: %w", err)
	}

	if len(infos) == 0 {
		fmt.Fprintln(out, "No records found.")
		return nil
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Timestamp.Before(infos[j].Timestamp) })

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "JOB ID\tTIMESTAMP\tSOURCE\tLAG\tPLANES\tLUMA POINTS\tSIZE")
	fmt.Fprintln(w, "------\t---------\t------\t---\t------\t-----------\t----")

	for _, info := range infos {
		jobDir := filepath.Join(recordsDataDir, "jobs", info.JobID)
		size, err := getDirSize(jobDir)
		sizeStr := "unknown"
		if err == nil {
			sizeStr = formatBytes(size)
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			shortID(info.JobID),
			info.Timestamp.Format("2006-01-02 15:04:05"),
			filepath.Base(info.SourcePath),
			info.ARLag,
			info.Planes,
			info.LumaPoints,
			sizeStr,
		)
	}

	w.Flush()

	fmt.Fprintf(out, "\nTotal records: %d\n", len(infos))
	return nil
}

func runShowRecord(cmd *cobra.Command, args []string) error {
	recordStore, err := store.NewFSStore(recordsDataDir)
	if err != nil {
		return fmt.Errorf("failed to create record store: %w", err)
	}
	data, err := recordStore.LoadTable(args[0])
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func runCleanRecords(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if keepLast == 0 && olderThanDays == 0 {
		return fmt.Errorf("must specify either --keep-last or --older-than")
	}

	recordStore, err := store.NewFSStore(recordsDataDir)
	if err != nil {
		return fmt.Errorf("failed to create record store: %w", err)
	}

	infos, err := recordStore.ListRecords()
	if err != nil {
		return fmt.Errorf("failed to list records: %w", err)
	}

	if len(infos) == 0 {
		fmt.Fprintln(out, "No records to clean.")
		return nil
	}

	toDelete := selectRecordsForDeletion(infos, keepLast, olderThanDays, time.Now())

	if len(toDelete) == 0 {
		fmt.Fprintln(out, "No records match deletion criteria.")
		return nil
	}

	fmt.Fprintf(out, "Found %d record(s) to delete:\n", len(toDelete))
	for _, info := range toDelete {
		fmt.Fprintf(out, "  - %s (%s, %s)\n",
			shortID(info.JobID),
			filepath.Base(info.SourcePath),
			info.Timestamp.Format("2006-01-02 15:04:05"),
		)
	}

	// Ask for confirmation unless --force is set
	if !forceClean {
		fmt.Fprint(out, "\nProceed with deletion? [y/N]: ")
		var response string
		fmt.Fscanln(cmd.InOrStdin(), &response)
		if response != "y" && response != "Y" {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	deleted := 0
	failed := 0
	for _, info := range toDelete {
		err := recordStore.DeleteRecord(info.JobID)
		if err != nil {
			slog.Error("Failed to delete record", "job_id", info.JobID, "error", err)
			failed++
		} else {
			slog.Info("Deleted record", "job_id", info.JobID)
			deleted++
		}
	}

	fmt.Fprintf(out, "\nDeleted %d record(s), %d failed.\n", deleted, failed)
	return nil
}

// selectRecordsForDeletion returns records older than olderThanDays plus the
// oldest records beyond the newest keepLast. Zero disables a criterion.
func selectRecordsForDeletion(infos []store.RecordInfo, keepLast, olderThanDays int, now time.Time) []store.RecordInfo {
	var toDelete []store.RecordInfo
	selected := make(map[string]bool)

	if olderThanDays > 0 {
		cutoff := now.AddDate(0, 0, -olderThanDays)
		for _, info := range infos {
			if info.Timestamp.Before(cutoff) {
				toDelete = append(toDelete, info)
				selected[info.JobID] = true
			}
		}
	}

	if keepLast > 0 && len(infos) > keepLast {
		sorted := make([]store.RecordInfo, len(infos))
		copy(sorted, infos)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

		for _, info := range sorted[:len(sorted)-keepLast] {
			if !selected[info.JobID] {
				toDelete = append(toDelete, info)
				selected[info.JobID] = true
			}
		}
	}

	return toDelete
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12] + "..."
	}
	return id
}

// getDirSize calculates the total size of a directory
func getDirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}

// formatBytes formats bytes as human-readable string
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
