package store

import (
	"fmt"
	"sort"
	"strings"
)

// Key construction for the record families one book's store holds.
const (
	BatchPrefix   = "batches/"
	SegmentPrefix = "segments/"
	PagePrefix    = "pages/"
	ChapterPrefix = "chapters/"
	OverviewKey   = "overview"
)

// BatchKey returns the key for a batch result covering [start, end].
func BatchKey(start, end int) string {
	return fmt.Sprintf("batches/batch_%03d_%03d", start, end)
}

// SegmentKey returns the key for an aggregation-tier output.
func SegmentKey(tier, group int) string {
	return fmt.Sprintf("segments/tier%d_group_%03d", tier, group)
}

// PageKey returns the key for one page's fanned-out summary.
func PageKey(pageNum int) string {
	return fmt.Sprintf("pages/page_%03d", pageNum)
}

// ChapterKey returns the key for a chapter-aligned segment.
func ChapterKey(chapterID string) string {
	return "chapters/" + chapterID
}

// ParseBatchKey extracts the page range from a batch key. ok is false for
// keys that are not batch keys.
func ParseBatchKey(key string) (start, end int, ok bool) {
	name := strings.TrimPrefix(key, BatchPrefix)
	if name == key {
		return 0, 0, false
	}
	if _, err := fmt.Sscanf(name, "batch_%d_%d", &start, &end); err != nil {
		return 0, 0, false
	}
	return start, end, true
}

// ListBatchRanges returns the page ranges of all stored batch results,
// sorted by start page.
func ListBatchRanges(s *Store) ([][2]int, error) {
	keys, err := s.ListKeys(BatchPrefix)
	if err != nil {
		return nil, err
	}
	var ranges [][2]int
	for _, k := range keys {
		if start, end, ok := ParseBatchKey(k); ok {
			ranges = append(ranges, [2]int{start, end})
		}
	}
	sort.Slice(ranges, func(i, j int) bool { return ranges[i][0] < ranges[j][0] })
	return ranges, nil
}
