// Package index maintains the two-tier semantic index (page summaries and
// key events) built from batch results. Similarity search over the vectors
// is a consumer concern; this package only keeps the index populated.
package index

import (
	"context"
	"fmt"

	"github.com/panelworks/insight/internal/store"
)

// Entry is one stored vector with its source metadata.
type Entry struct {
	Vector   []float64         `json:"vector"`
	Metadata map[string]string `json:"metadata"`
}

// Index is a two-tier vector surface for one book.
type Index interface {
	DeleteAllPages(ctx context.Context) error
	DeleteAllEvents(ctx context.Context) error
	AddPageEmbedding(ctx context.Context, pageNum int, vector []float64, metadata map[string]string) error
	AddEventEmbedding(ctx context.Context, eventID string, vector []float64, metadata map[string]string) error
}

const (
	pagePrefix  = "embeddings/pages/"
	eventPrefix = "embeddings/events/"
)

// FileIndex persists vectors as JSON records in the book's result store.
type FileIndex struct {
	store *store.Store
}

// NewFileIndex creates a file-backed index over the book's store.
func NewFileIndex(st *store.Store) *FileIndex {
	return &FileIndex{store: st}
}

func (f *FileIndex) DeleteAllPages(ctx context.Context) error {
	return f.store.DeletePrefix(pagePrefix)
}

func (f *FileIndex) DeleteAllEvents(ctx context.Context) error {
	return f.store.DeletePrefix(eventPrefix)
}

func (f *FileIndex) AddPageEmbedding(ctx context.Context, pageNum int, vector []float64, metadata map[string]string) error {
	key := fmt.Sprintf("%spage_%03d", pagePrefix, pageNum)
	return f.store.Put(key, Entry{Vector: vector, Metadata: metadata})
}

func (f *FileIndex) AddEventEmbedding(ctx context.Context, eventID string, vector []float64, metadata map[string]string) error {
	return f.store.Put(eventPrefix+eventID, Entry{Vector: vector, Metadata: metadata})
}

// Pages returns the indexed page entries, keyed by store key.
func (f *FileIndex) Pages() (map[string]Entry, error) {
	return f.list(pagePrefix)
}

// Events returns the indexed event entries, keyed by store key.
func (f *FileIndex) Events() (map[string]Entry, error) {
	return f.list(eventPrefix)
}

func (f *FileIndex) list(prefix string) (map[string]Entry, error) {
	keys, err := f.store.ListKeys(prefix)
	if err != nil {
		return nil, err
	}
	entries := make(map[string]Entry, len(keys))
	for _, key := range keys {
		var e Entry
		found, err := f.store.Get(key, &e)
		if err != nil {
			return nil, err
		}
		if found {
			entries[key] = e
		}
	}
	return entries, nil
}
