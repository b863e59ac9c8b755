package server

import (
	"net/http"

	"github.com/panelworks/insight/internal/analysis"
	"github.com/panelworks/insight/internal/store"
)

func (s *Server) handleListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := s.library.ListBooks(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if books == nil {
		books = []string{}
	}
	writeJSON(w, http.StatusOK, books)
}

func (s *Server) bookStore(bookID string) *store.Store {
	return store.New(s.homeDir.AnalysisPath(bookID))
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	var overview analysis.BookOverview
	found, err := s.bookStore(r.PathValue("bookID")).Get(store.OverviewKey, &overview)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "no overview generated for this book")
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

func (s *Server) handleBatches(w http.ResponseWriter, r *http.Request) {
	st := s.bookStore(r.PathValue("bookID"))
	keys, err := st.ListKeys(store.BatchPrefix)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	batches := []analysis.BatchResult{}
	for _, key := range keys {
		var batch analysis.BatchResult
		if found, err := st.Get(key, &batch); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		} else if found {
			batches = append(batches, batch)
		}
	}
	writeJSON(w, http.StatusOK, batches)
}

func (s *Server) handlePages(w http.ResponseWriter, r *http.Request) {
	st := s.bookStore(r.PathValue("bookID"))
	keys, err := st.ListKeys(store.PagePrefix)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	pages := []analysis.PageRecord{}
	for _, key := range keys {
		var page analysis.PageRecord
		if found, err := st.Get(key, &page); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		} else if found {
			pages = append(pages, page)
		}
	}
	writeJSON(w, http.StatusOK, pages)
}

// SegmentsResponse groups the aggregation results: the fixed-size segment
// tiers plus chapter summaries when a chapter tier ran.
type SegmentsResponse struct {
	Segments []analysis.SegmentResult `json:"segments"`
	Chapters []analysis.SegmentResult `json:"chapters"`
}

func (s *Server) handleSegments(w http.ResponseWriter, r *http.Request) {
	st := s.bookStore(r.PathValue("bookID"))

	segments, err := loadSegments(st, store.SegmentPrefix)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	chapters, err := loadSegments(st, store.ChapterPrefix)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, SegmentsResponse{Segments: segments, Chapters: chapters})
}

func loadSegments(st *store.Store, prefix string) ([]analysis.SegmentResult, error) {
	keys, err := st.ListKeys(prefix)
	if err != nil {
		return nil, err
	}
	segments := []analysis.SegmentResult{}
	for _, key := range keys {
		var seg analysis.SegmentResult
		if found, err := st.Get(key, &seg); err != nil {
			return nil, err
		} else if found {
			segments = append(segments, seg)
		}
	}
	return segments, nil
}
