package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"mediadedup/internal/blob"
)

var (
	dbPath  string
	userID  string
	workers int
)

var rootCmd = &cobra.Command{
	Use:   "mediadedup",
	Short: "Find and resolve duplicate media in your storage vault",
	Long: `mediadedup scans a user's stored photos and files for redundant
copies and reclaims storage by moving duplicates to the trash.

Exact duplicates are detected by content hash; similar duplicates by
normalized filename and size. Deletions are always soft: trashed items
can be restored until the retention process purges them.

Example usage:
  mediadedup scan                  # Scan for duplicates (exact + similar)
  mediadedup list                  # List duplicate groups from the last scan
  mediadedup clean --dry-run       # Preview what would be trashed
  mediadedup clean                 # Trash duplicates, keeping the originals
  mediadedup serve                 # Start the HTTP API with live progress`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Optional .env for blob endpoint configuration
		godotenv.Load()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	homeDir, _ := os.UserHomeDir()
	defaultDB := filepath.Join(homeDir, ".mediadedup", "catalog.db")

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", defaultDB, "Path to the catalog database")
	rootCmd.PersistentFlags().StringVar(&userID, "user", "default", "User whose items are scanned")
	rootCmd.PersistentFlags().IntVar(&workers, "workers", 6, "Concurrent fetch+hash workers")
}

// newFetcher builds the blob storage client from the environment
func newFetcher() (*blob.Fetcher, error) {
	baseURL := os.Getenv("MEDIADEDUP_BLOB_URL")
	if baseURL == "" {
		return nil, fmt.Errorf("MEDIADEDUP_BLOB_URL is not set (see .env.example)")
	}
	return blob.NewFetcher(baseURL, os.Getenv("MEDIADEDUP_BLOB_TOKEN")), nil
}
