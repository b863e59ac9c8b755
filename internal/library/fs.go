package library

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/panelworks/insight/internal/home"
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
	".gif":  true,
	".bmp":  true,
}

// FSProvider reads books from the home directory's library tree.
type FSProvider struct {
	homeDir *home.Dir
}

// NewFSProvider creates a filesystem-backed page provider.
func NewFSProvider(homeDir *home.Dir) *FSProvider {
	return &FSProvider{homeDir: homeDir}
}

// ListBooks returns the IDs of all books in the library.
func (p *FSProvider) ListBooks(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(p.homeDir.LibraryPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read library: %w", err)
	}

	var books []string
	for _, e := range entries {
		if e.IsDir() {
			books = append(books, e.Name())
		}
	}
	sort.Slice(books, func(i, j int) bool { return naturalLess(books[i], books[j]) })
	return books, nil
}

// BookPages returns all pages of the book in reading order.
func (p *FSProvider) BookPages(ctx context.Context, bookID string) ([]Page, error) {
	chapters, err := p.chapterDirs(bookID)
	if err != nil {
		return nil, err
	}

	var pages []Page
	pageNum := 0
	for _, ch := range chapters {
		files, err := listImages(ch.path)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			pageNum++
			pages = append(pages, Page{
				ChapterID: ch.id,
				PageNum:   pageNum,
				ImagePath: f,
			})
		}
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("book %q has no pages", bookID)
	}
	return pages, nil
}

// ChapterBoundaries returns the chapters with their inclusive page ranges.
func (p *FSProvider) ChapterBoundaries(ctx context.Context, bookID string) ([]Chapter, error) {
	chapters, err := p.chapterDirs(bookID)
	if err != nil {
		return nil, err
	}

	var out []Chapter
	pageNum := 0
	for _, ch := range chapters {
		files, err := listImages(ch.path)
		if err != nil {
			return nil, err
		}
		if len(files) == 0 {
			continue
		}
		start := pageNum + 1
		pageNum += len(files)
		out = append(out, Chapter{
			ID:        ch.id,
			Title:     ch.id,
			StartPage: start,
			EndPage:   pageNum,
		})
	}
	return out, nil
}

// PageImage loads the image bytes for a single page.
func (p *FSProvider) PageImage(ctx context.Context, bookID string, pageNum int) ([]byte, error) {
	pages, err := p.BookPages(ctx, bookID)
	if err != nil {
		return nil, err
	}
	for _, pg := range pages {
		if pg.PageNum == pageNum {
			data, err := os.ReadFile(pg.ImagePath)
			if err != nil {
				return nil, fmt.Errorf("failed to read page %d: %w", pageNum, err)
			}
			return data, nil
		}
	}
	return nil, fmt.Errorf("book %q has no page %d", bookID, pageNum)
}

type chapterDir struct {
	id   string
	path string
}

// chapterDirs lists the chapter directories of a book in natural order.
// Image files directly under the book root become a single unnamed chapter.
func (p *FSProvider) chapterDirs(bookID string) ([]chapterDir, error) {
	bookPath := p.homeDir.BookPath(bookID)
	entries, err := os.ReadDir(bookPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read book %q: %w", bookID, err)
	}

	var dirs []chapterDir
	rootHasImages := false
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, chapterDir{id: e.Name(), path: filepath.Join(bookPath, e.Name())})
		} else if isImage(e.Name()) {
			rootHasImages = true
		}
	}

	if len(dirs) == 0 {
		if !rootHasImages {
			return nil, fmt.Errorf("book %q is empty", bookID)
		}
		return []chapterDir{{id: bookID, path: bookPath}}, nil
	}

	sort.Slice(dirs, func(i, j int) bool { return naturalLess(dirs[i].id, dirs[j].id) })
	return dirs, nil
}

// listImages returns the image files in a directory, naturally sorted.
func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && isImage(e.Name()) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Slice(files, func(i, j int) bool {
		return naturalLess(filepath.Base(files[i]), filepath.Base(files[j]))
	})
	return files, nil
}

func isImage(name string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(name))]
}
