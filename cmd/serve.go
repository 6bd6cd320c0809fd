package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"mediadedup/internal/catalog"
	"mediadedup/internal/resolve"
	"mediadedup/internal/scan"
	"mediadedup/internal/server"
)

var (
	servePort    int
	serveVerbose bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API with live scan progress",
	Long: `Start a local server exposing scans and resolutions over JSON.

The server provides:
- POST /api/scan and /api/scan/cancel to control scans
- GET /api/groups for the current duplicate group set
- POST /api/resolve/{item,group,all} and /api/keep for resolutions
- /ws for a websocket stream of scan progress

Example:
  mediadedup serve              # Start on default port 8080
  mediadedup serve -p 3000      # Use custom port`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8080, "Port to listen on")
	serveCmd.Flags().BoolVarP(&serveVerbose, "verbose", "v", false, "Debug-level logging")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	level := slog.LevelInfo
	if serveVerbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	store, err := catalog.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}

	fetcher, err := newFetcher()
	if err != nil {
		store.Close()
		return err
	}

	scanner := scan.New(store, fetcher, scan.WithWorkers(workers), scan.WithLogger(logger))
	resolver := resolve.New(store)

	// Seed the resolver with the last scan's groups so the API is
	// usable before the first scan of this process.
	if groups, err := store.LoadGroups(cmd.Context()); err == nil {
		resolver.SetGroups(groups)
	}

	srv := server.New(store, scanner, resolver, userID, servePort, logger)

	fmt.Printf("Starting server at http://localhost:%d\n", servePort)
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	return srv.Start()
}
