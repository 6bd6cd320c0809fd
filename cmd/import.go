package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"mediadedup/internal/catalog"
	"mediadedup/internal/models"
)

var importCmd = &cobra.Command{
	Use:   "import <manifest.json>",
	Short: "Import a vault manifest into the catalog",
	Long: `Load item metadata from a JSON manifest into the local catalog.

The manifest is an array of items:

  [
    {"id": "abc123", "kind": "photo", "filename": "vacation.jpg",
     "size": 204800, "uploaded_at": "2024-06-01T10:00:00Z"},
    {"kind": "file", "filename": "report.pdf",
     "uploaded_at": "2024-06-02T09:30:00Z"}
  ]

Items without an id get one generated. Items without a size are
recorded as unknown; the scan backfills them from blob storage.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
}

type manifestItem struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Filename   string    `json:"filename"`
	Size       *int64    `json:"size"`
	UploadedAt time.Time `json:"uploaded_at"`
}

func runImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read manifest: %w", err)
	}

	var manifest []manifestItem
	if err := json.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("invalid manifest: %w", err)
	}
	if len(manifest) == 0 {
		fmt.Println("Manifest is empty, nothing to import.")
		return nil
	}

	items := make([]*models.MediaItem, 0, len(manifest))
	for i, m := range manifest {
		kind := models.Kind(m.Kind)
		if kind != models.KindPhoto && kind != models.KindFile {
			return fmt.Errorf("item %d: unknown kind %q (want photo or file)", i, m.Kind)
		}
		if m.Filename == "" {
			return fmt.Errorf("item %d: missing filename", i)
		}

		id := m.ID
		if id == "" {
			id = uuid.NewString()
		}
		size := models.SizeUnknown
		if m.Size != nil {
			size = *m.Size
		}
		uploadedAt := m.UploadedAt
		if uploadedAt.IsZero() {
			uploadedAt = time.Now().UTC()
		}

		items = append(items, &models.MediaItem{
			ID:         id,
			Kind:       kind,
			Filename:   m.Filename,
			Size:       size,
			UploadedAt: uploadedAt,
		})
	}

	store, err := catalog.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	defer store.Close()

	if err := store.SaveItems(cmd.Context(), userID, items); err != nil {
		return fmt.Errorf("failed to import items: %w", err)
	}

	fmt.Printf("Imported %d items for user %s\n", len(items), userID)
	fmt.Println("Run 'mediadedup scan' to scan for duplicates.")

	return nil
}
