package httpapi

import (
	"net/http"
	"strconv"

	"github.com/Kocoro-lab/rfpstudio/internal/apperrors"
	"github.com/Kocoro-lab/rfpstudio/internal/lifecycle"
	"github.com/Kocoro-lab/rfpstudio/internal/models"
	"github.com/Kocoro-lab/rfpstudio/internal/store"
)

const defaultEventPage = 100

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.FindRecord(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleListWorkItems reads without the record lock, so the list may lag
// a run that is committing.
func (s *Server) handleListWorkItems(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.FindRecord(r.Context(), id); err != nil {
		s.writeError(w, err, nil)
		return
	}
	items, err := s.store.ListWorkItems(r.Context(), id)
	if err != nil {
		s.writeError(w, err, nil)
		return
	}
	if items == nil {
		items = []*models.WorkItem{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"record_id": id, "workitems": items})
}

// handleListEvents pages through a record's history: ?after=<seq>&limit=<n>.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	after, err := queryInt(r, "after", 0)
	if err != nil {
		s.writeError(w, err, nil)
		return
	}
	limit, err := queryInt(r, "limit", defaultEventPage)
	if err != nil {
		s.writeError(w, err, nil)
		return
	}

	var events []models.Event
	if lister, ok := s.store.(store.EventLister); ok {
		events, err = lister.ListEvents(r.Context(), id, int64(after), limit)
	} else {
		events, err = historyPage(r, s.store, id, after, limit)
	}
	if err != nil {
		s.writeError(w, err, nil)
		return
	}
	if events == nil {
		events = []models.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"record_id": id, "after": after, "events": events})
}

func historyPage(r *http.Request, st store.RecordStore, id string, after, limit int) ([]models.Event, error) {
	rec, err := st.FindRecord(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if after >= len(rec.History) {
		return nil, nil
	}
	events := rec.History[after:]
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

func (s *Server) handleGetWorkItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.store.FindWorkItem(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

type stateInfo struct {
	State    lifecycle.State   `json:"state"`
	Next     []lifecycle.State `json:"next"`
	Terminal bool              `json:"terminal"`
}

func (s *Server) handleStates(w http.ResponseWriter, _ *http.Request) {
	all := lifecycle.All()
	out := make([]stateInfo, len(all))
	for i, st := range all {
		next := lifecycle.NextValidStates(st)
		if next == nil {
			next = []lifecycle.State{}
		}
		out[i] = stateInfo{State: st, Next: next, Terminal: st.Terminal()}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"states": out})
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperrors.Validation("query parameter %s must be a non-negative integer", key)
	}
	return n, nil
}
