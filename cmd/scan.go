package cmd

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"mediadedup/internal/catalog"
	"mediadedup/internal/models"
	"mediadedup/internal/scan"
)

var scanMode string

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan the catalog for duplicate items",
	Long: `Scan the user's stored photos and files for duplicates.

The scan will:
1. List all non-trashed items from the catalog
2. Backfill missing sizes from blob storage
3. Hash item content (skipped with --mode similar)
4. Group exact and similar duplicates

Example:
  mediadedup scan                 # exact + similar matching
  mediadedup scan --mode exact    # content-hash matching only
  mediadedup scan --mode similar  # name+size matching, no downloads`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringVar(&scanMode, "mode", "all", "Matching mode: exact, similar or all")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	mode := models.Mode(scanMode)
	if !mode.Valid() {
		return fmt.Errorf("unknown mode %q (want exact, similar or all)", scanMode)
	}

	store, err := catalog.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	defer store.Close()

	fetcher, err := newFetcher()
	if err != nil {
		return err
	}

	fmt.Printf("Scanning items for user %s (mode: %s, workers: %d)\n\n", userID, mode, workers)

	s := scan.New(store, fetcher, scan.WithWorkers(workers))
	sess, err := s.Start(cmd.Context(), userID, mode, nil)
	if err != nil {
		return fmt.Errorf("scan failed to start: %w", err)
	}

	lastLine := ""
	for snap := range sess.Snapshots() {
		if lastLine != "" {
			fmt.Print("\r" + strings.Repeat(" ", len(lastLine)) + "\r")
		}
		lastLine = fmt.Sprintf("[%3.0f%%] %s: %d/%d  %s",
			snap.Percent, snap.Phase, snap.Current, snap.Total, snap.Message)
		if len(lastLine) > 100 {
			lastLine = lastLine[:97] + "..."
		}
		fmt.Print(lastLine)
	}
	if lastLine != "" {
		fmt.Print("\r" + strings.Repeat(" ", len(lastLine)) + "\r")
	}

	res, err := sess.Wait()
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	if err := store.SaveGroups(cmd.Context(), res.Groups); err != nil {
		return fmt.Errorf("failed to save groups: %w", err)
	}
	store.RecordScan(cmd.Context(), userID, mode, res.Stats)

	fmt.Println("=== Scan Complete ===")
	fmt.Printf("Items scanned:    %d\n", res.Stats.TotalItems)
	fmt.Printf("Duplicate groups: %d (%d exact, %d similar)\n",
		res.Stats.TotalGroups, res.Stats.ExactGroups, res.Stats.SimilarGroups)
	fmt.Printf("Duplicates found: %d\n", res.Stats.TotalDuplicateCount)
	fmt.Printf("Reclaimable:      %s\n", humanize.IBytes(uint64(res.Stats.TotalDuplicateSize)))

	if len(res.ItemErrors) > 0 {
		fmt.Printf("\nSkipped %d item(s) due to fetch/hash failures:\n", len(res.ItemErrors))
		for _, ie := range res.ItemErrors {
			fmt.Printf("  %s (%s): %v\n", ie.ItemID, ie.Stage, ie.Err)
		}
	}

	if res.Stats.TotalGroups > 0 {
		fmt.Println()
		fmt.Println("Run 'mediadedup list' to see duplicate groups")
		fmt.Println("Run 'mediadedup clean --dry-run' to preview deletions")
	}

	return nil
}
