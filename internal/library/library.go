// Package library reads book page images from the on-disk library.
//
// A book lives at data/library/<bookID>/ with one subdirectory per chapter;
// page images inside a chapter are ordered by natural sort of their file
// names, chapters by natural sort of their directory names. A book with image
// files directly under its root is treated as a single unnamed chapter.
package library

import "context"

// Page is one page of a book, in reading order. PageNum is 1-indexed across
// the whole book, not per chapter.
type Page struct {
	ChapterID string `json:"chapter_id"`
	PageNum   int    `json:"page_num"`
	ImagePath string `json:"image_path"`
}

// Chapter describes a contiguous page range belonging to one chapter.
type Chapter struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	StartPage int    `json:"start_page"`
	EndPage   int    `json:"end_page"`
}

// Provider supplies page images and chapter boundaries for a book.
type Provider interface {
	// BookPages returns all pages of the book in reading order.
	BookPages(ctx context.Context, bookID string) ([]Page, error)

	// ChapterBoundaries returns the chapters of the book with their
	// inclusive page ranges, in reading order.
	ChapterBoundaries(ctx context.Context, bookID string) ([]Chapter, error)

	// PageImage loads the image bytes for a single page.
	PageImage(ctx context.Context, bookID string, pageNum int) ([]byte, error)
}
