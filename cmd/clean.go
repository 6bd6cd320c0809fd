package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"mediadedup/internal/catalog"
	"mediadedup/internal/models"
	"mediadedup/internal/resolve"
)

var (
	dryRun    bool
	noConfirm bool
	groupKeys []string
	keepItem  string
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Move duplicate items to the trash",
	Long: `Trash the duplicates found by the last scan, keeping one original
per group.

Deletions are soft: trashed items stay restorable until the retention
process purges them. The canonical original of each group is never
deleted.

Example:
  mediadedup clean                     # Trash all duplicates
  mediadedup clean --dry-run           # Preview only
  mediadedup clean --group=<key>       # Clean one group
  mediadedup clean --group=<key> --keep=<id>  # Pick the original first`,
	RunE: runClean,
}

func init() {
	cleanCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Preview without deleting")
	cleanCmd.Flags().BoolVarP(&noConfirm, "yes", "y", false, "Skip confirmation prompt")
	cleanCmd.Flags().StringSliceVarP(&groupKeys, "group", "g", nil, "Group keys to clean (can be specified multiple times)")
	cleanCmd.Flags().StringVar(&keepItem, "keep", "", "Item ID to keep as the original (requires exactly one --group)")
	rootCmd.AddCommand(cleanCmd)
}

func runClean(cmd *cobra.Command, args []string) error {
	store, err := catalog.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	defer store.Close()

	groups, err := store.LoadGroups(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to load groups: %w", err)
	}

	if len(groups) == 0 {
		fmt.Println("No duplicate groups found.")
		fmt.Println("Run 'mediadedup scan' first.")
		return nil
	}

	resolver := resolve.New(store)
	resolver.SetGroups(groups)

	// Filter groups if --group is specified
	if len(groupKeys) > 0 {
		keySet := make(map[string]bool)
		for _, k := range groupKeys {
			keySet[k] = true
		}

		var filtered []*models.DuplicateGroup
		for _, g := range groups {
			if keySet[g.Key] {
				filtered = append(filtered, g)
			}
		}

		if len(filtered) == 0 {
			fmt.Printf("No matching groups found for keys: %v\n", groupKeys)
			fmt.Println("Run 'mediadedup list' to see available group keys.")
			return nil
		}

		groups = filtered
		fmt.Printf("Processing %d selected group(s)\n\n", len(groups))
	}

	if keepItem != "" {
		if len(groupKeys) != 1 {
			return fmt.Errorf("--keep requires exactly one --group")
		}
		if err := resolver.KeepAsOriginal(groupKeys[0], keepItem); err != nil {
			return fmt.Errorf("failed to set original: %w", err)
		}
		// Group order changed; re-read the filtered view
		groups = nil
		for _, g := range resolver.Groups() {
			if g.Key == groupKeys[0] {
				groups = append(groups, g)
			}
		}
	}

	// Collect duplicates to trash
	toDelete := 0
	var totalSize int64
	for _, g := range groups {
		toDelete += len(g.Items) - 1
		totalSize += g.WastedBytes()
	}

	if toDelete == 0 {
		fmt.Println("No duplicates to delete.")
		return nil
	}

	fmt.Printf("Will move %d duplicates to trash (%s reclaimable)\n\n",
		toDelete, humanize.IBytes(uint64(totalSize)))

	if dryRun {
		fmt.Println("Items to be trashed:")
		for _, g := range groups {
			for _, it := range g.Items[1:] {
				fmt.Printf("  %s  %s (%s)\n", it.ID, it.Filename, it.Kind)
			}
		}
		fmt.Println()
		fmt.Println("(Dry run - nothing was deleted)")
		fmt.Println("Run without --dry-run to actually trash duplicates.")
		return nil
	}

	// Confirm unless --yes flag is set
	if !noConfirm {
		fmt.Printf("Are you sure you want to trash %d items? [y/N]: ", toDelete)
		reader := bufio.NewReader(os.Stdin)
		response, _ := reader.ReadString('\n')
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	var result resolve.BatchResult
	if len(groupKeys) > 0 {
		for _, key := range groupKeys {
			r, err := resolver.DeleteGroupDuplicates(cmd.Context(), key)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Failed to clean group %s: %v\n", key, err)
				continue
			}
			result = result.Merge(r)
		}
	} else {
		result = resolver.DeleteAllDuplicates(cmd.Context())
	}

	if err := store.SaveGroups(cmd.Context(), resolver.Groups()); err != nil {
		return fmt.Errorf("failed to save groups: %w", err)
	}

	fmt.Println()
	fmt.Printf("Moved %d items to trash\n", result.Deleted)
	if result.Failed > 0 {
		fmt.Printf("Failed: %d items\n", result.Failed)
		for _, id := range result.FailedItems {
			fmt.Printf("  %s\n", id)
		}
	}
	fmt.Printf("Space reclaimed: %s\n", humanize.IBytes(uint64(result.Reclaimed)))
	fmt.Println()
	fmt.Println("Trashed items can be restored with 'mediadedup restore <item-id>'")

	return nil
}
