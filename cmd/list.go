package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"mediadedup/internal/catalog"
	"mediadedup/internal/models"
)

var (
	listJSON   bool
	listLimit  int
	listOffset int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List duplicate groups from the last scan",
	Long: `Display the duplicate groups found by the most recent scan.

Each group shows its members; the canonical original (kept by clean)
is marked with ✓, duplicates with ✗.

Example:
  mediadedup list              # Show first 10 groups (default)
  mediadedup list -n 0         # Show all groups
  mediadedup list --offset 10  # Groups 11-20`,
	RunE: runList,
}

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output in JSON format")
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 10, "Limit number of groups to display (0 = all)")
	listCmd.Flags().IntVar(&listOffset, "offset", 0, "Skip first N groups (for pagination)")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
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
		fmt.Println("Run 'mediadedup scan' to scan for duplicates.")
		return nil
	}

	if listJSON {
		return json.NewEncoder(os.Stdout).Encode(groups)
	}

	totalDuplicates := 0
	var totalSavings int64
	for _, g := range groups {
		totalDuplicates += len(g.Items) - 1
		totalSavings += g.WastedBytes()
	}

	fmt.Printf("Found %d duplicate groups (%d duplicates, %s reclaimable)\n\n",
		len(groups), totalDuplicates, humanize.IBytes(uint64(totalSavings)))

	totalGroups := len(groups)
	startIdx := listOffset
	if startIdx > len(groups) {
		startIdx = len(groups)
	}
	groups = groups[startIdx:]
	if listLimit > 0 && listLimit < len(groups) {
		groups = groups[:listLimit]
	}

	for _, g := range groups {
		printGroup(g)
	}

	endIdx := startIdx + len(groups)
	if len(groups) > 0 {
		fmt.Printf("Showing groups %d-%d of %d\n", startIdx+1, endIdx, totalGroups)
		if endIdx < totalGroups {
			fmt.Printf("Next page: mediadedup list -n %d --offset %d\n", listLimit, endIdx)
		}
	}

	fmt.Println()
	fmt.Println("Run 'mediadedup clean --dry-run' to preview deletions")

	return nil
}

var (
	keepMark   = color.New(color.FgGreen).Sprint("✓")
	removeMark = color.New(color.FgRed).Sprint("✗")
)

func printGroup(g *models.DuplicateGroup) {
	fmt.Printf("Group %s [%s] (%d items)\n", shortKey(g.Key), g.MatchType, len(g.Items))
	fmt.Println(strings.Repeat("-", 60))

	for i, it := range g.Items {
		marker := removeMark
		if i == 0 {
			marker = keepMark
		}
		size := "?"
		if it.Size >= 0 {
			size = humanize.IBytes(uint64(it.Size))
		}
		fmt.Printf("  %s %-40s  %-5s  %8s  %s\n",
			marker, truncate(it.Filename, 40), it.Kind, size,
			it.UploadedAt.Format("2006-01-02 15:04"))
	}
	fmt.Println()
}

func shortKey(key string) string {
	return truncate(key, 16)
}

// truncate shortens s to at most maxLen runes. Cutting on rune
// boundaries keeps non-ASCII filenames printable.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}
