package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"mediadedup/internal/catalog"
)

var restoreCmd = &cobra.Command{
	Use:   "restore <item-id>...",
	Short: "Restore trashed items",
	Long: `Clear the deletion timestamp on trashed items, making them active
again. Only works until the retention process has purged them.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRestore,
}

func init() {
	rootCmd.AddCommand(restoreCmd)
}

func runRestore(cmd *cobra.Command, args []string) error {
	store, err := catalog.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	defer store.Close()

	restored := 0
	for _, id := range args {
		if err := store.Restore(cmd.Context(), id); err != nil {
			fmt.Printf("Failed to restore %s: %v\n", id, err)
			continue
		}
		restored++
		fmt.Printf("Restored %s\n", id)
	}

	if restored > 0 {
		fmt.Println()
		fmt.Println("Run 'mediadedup scan' to refresh duplicate groups.")
	}

	return nil
}
