package analysis

import (
	"fmt"
	"strings"
)

const (
	contextSummaryLimit = 600 // runes of a prior summary included in context
	contextEventLimit   = 3   // key events of a prior batch included in context
)

// ContextWindow selects the prior results supplied to the next batch: the
// last size non-error results, in original order. Results flagged as parse
// errors never enter the window.
func ContextWindow(prior []*BatchResult, size int) []*BatchResult {
	if size <= 0 {
		return nil
	}
	var valid []*BatchResult
	for _, r := range prior {
		if r != nil && !r.ParseError {
			valid = append(valid, r)
		}
	}
	if len(valid) > size {
		valid = valid[len(valid)-size:]
	}
	return valid
}

// FormatContext renders a context window into the text handed to the vision
// client. Results appear oldest first; each is labeled by its distance from
// the current batch, closest last. A single-result window drops the distance
// prefix.
func FormatContext(window []*BatchResult) string {
	var entries []string
	for idx, r := range window {
		if formatted := formatContextEntry(r, idx+1, len(window)); formatted != "" {
			entries = append(entries, formatted)
		}
	}
	return strings.Join(entries, "\n\n")
}

func formatContextEntry(r *BatchResult, batchNum, total int) string {
	if r == nil || r.ParseError {
		return ""
	}

	var parts []string

	if total > 1 {
		parts = append(parts, fmt.Sprintf("【前第%d批：%s】", total-batchNum+1, r.Range.Label()))
	} else {
		parts = append(parts, fmt.Sprintf("【%s】", r.Range.Label()))
	}

	if r.Summary != "" {
		parts = append(parts, "剧情: "+truncateRunes(r.Summary, contextSummaryLimit))
	}

	var events []string
	for _, e := range r.KeyEvents {
		if e == "" {
			continue
		}
		events = append(events, e)
		if len(events) == contextEventLimit {
			break
		}
	}
	if len(events) > 0 {
		parts = append(parts, "事件: "+strings.Join(events, "; "))
	}

	return strings.Join(parts, "\n")
}

// truncateRunes cuts s to at most limit runes, marking the cut.
func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
