package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/panelworks/insight/internal/home"
	"github.com/panelworks/insight/internal/library"
)

var importBookID string

var importCmd = &cobra.Command{
	Use:   "import <pdf-path>",
	Short: "Import a PDF into the page-image library",
	Long: `Import a PDF by rendering every page into the library as page images.

The book is stored as a single chapter. To organize a book into chapters,
lay out the image directories under the library manually:

  ~/.insight/data/library/<book-id>/<chapter-dir>/<page images>

Requires pdftoppm (poppler-utils) on PATH.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))

		h, err := home.New(homeDir)
		if err != nil {
			return err
		}
		if err := h.EnsureExists(); err != nil {
			return err
		}

		res, err := library.ImportPDF(cmd.Context(), h, library.ImportRequest{
			PDFPath: args[0],
			BookID:  importBookID,
			Logger:  logger,
		})
		if err != nil {
			return err
		}

		fmt.Printf("imported %q: %d pages\n", res.BookID, res.PageCount)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importBookID, "book-id", "", "Book ID (default: derived from the PDF filename)")

	rootCmd.AddCommand(importCmd)
}
