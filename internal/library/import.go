package library

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/panelworks/insight/internal/home"
)

// ImportRequest contains the parameters for importing a PDF into the library.
type ImportRequest struct {
	PDFPath string
	BookID  string       // optional; generated when empty
	Logger  *slog.Logger // optional logger for progress updates
}

// ImportResult describes a completed import.
type ImportResult struct {
	BookID    string
	PageCount int
}

// ImportPDF renders every page of a PDF into the book's library directory as
// a single chapter. The directory is removed again if extraction fails.
func ImportPDF(ctx context.Context, homeDir *home.Dir, req ImportRequest) (*ImportResult, error) {
	log := req.Logger
	if log == nil {
		log = slog.Default()
	}

	if req.PDFPath == "" {
		return nil, fmt.Errorf("no PDF path provided")
	}
	if _, err := os.Stat(req.PDFPath); err != nil {
		return nil, fmt.Errorf("PDF not found: %s", req.PDFPath)
	}

	bookID := req.BookID
	if bookID == "" {
		bookID = deriveBookID(req.PDFPath)
	}

	f, err := os.Open(req.PDFPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	pageCount, err := api.PageCount(f, nil)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to get page count: %w", err)
	}
	if pageCount == 0 {
		return nil, fmt.Errorf("PDF has no pages")
	}

	outDir := filepath.Join(homeDir.BookPath(bookID), "chapter_001")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create book directory: %w", err)
	}

	log.Info("importing PDF", "book_id", bookID, "pages", pageCount)

	if err := renderPages(ctx, req.PDFPath, outDir, pageCount); err != nil {
		os.RemoveAll(homeDir.BookPath(bookID))
		return nil, err
	}

	log.Info("import complete", "book_id", bookID, "pages", pageCount)
	return &ImportResult{BookID: bookID, PageCount: pageCount}, nil
}

// renderPages renders all pages concurrently, bounded by CPU count.
func renderPages(ctx context.Context, pdfPath, outDir string, pageCount int) error {
	maxWorkers := runtime.NumCPU()

	type result struct {
		pageNum int
		err     error
	}

	results := make(chan result, pageCount)
	sem := make(chan struct{}, maxWorkers)

	for page := 1; page <= pageCount; page++ {
		sem <- struct{}{} // acquire
		go func(pageNum int) {
			defer func() { <-sem }() // release
			results <- result{pageNum: pageNum, err: renderPage(ctx, pdfPath, outDir, pageNum)}
		}(page)
	}

	for i := 0; i < pageCount; i++ {
		r := <-results
		if r.err != nil {
			return fmt.Errorf("failed to render page %d: %w", r.pageNum, r.err)
		}
	}
	return nil
}

// renderPage renders a single page using pdftoppm (poppler-utils).
func renderPage(ctx context.Context, pdfPath, outDir string, pageNum int) error {
	tmpDir, err := os.MkdirTemp("", "insight-page-*")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	outputPrefix := filepath.Join(tmpDir, "page")
	pageStr := fmt.Sprintf("%d", pageNum)
	cmd := exec.CommandContext(ctx, "pdftoppm",
		"-png",
		"-f", pageStr,
		"-l", pageStr,
		"-r", "300",
		"-singlefile",
		pdfPath,
		outputPrefix,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("pdftoppm failed: %w (output: %s)", err, string(output))
	}

	srcPath := outputPrefix + ".png"
	if _, err := os.Stat(srcPath); err != nil {
		return fmt.Errorf("pdftoppm did not create expected output: %w", err)
	}

	dstPath := filepath.Join(outDir, fmt.Sprintf("page_%03d.png", pageNum))
	if err := os.Rename(srcPath, dstPath); err != nil {
		// Rename fails across filesystems; fall back to copy.
		data, readErr := os.ReadFile(srcPath)
		if readErr != nil {
			return fmt.Errorf("failed to move rendered page: %w", err)
		}
		if writeErr := os.WriteFile(dstPath, data, 0o644); writeErr != nil {
			return fmt.Errorf("failed to write rendered page: %w", writeErr)
		}
	}
	return nil
}

// deriveBookID builds a book ID from the PDF file name, falling back to a
// UUID when the name yields nothing usable.
func deriveBookID(pdfPath string) string {
	name := strings.TrimSuffix(filepath.Base(pdfPath), filepath.Ext(pdfPath))
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_':
			return r
		case r == ' ':
			return '_'
		default:
			return -1
		}
	}, name)
	if name == "" {
		return uuid.New().String()
	}
	return name
}
