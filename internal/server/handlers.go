package server

import (
	"context"
	"encoding/json"
	"net/http"

	"country-stats/internal/country"
	"country-stats/internal/dataset"
	apperrors "country-stats/internal/errors"
	"country-stats/internal/render"
	"country-stats/internal/stats"

	log "github.com/sirupsen/logrus"
)

// Searcher runs searches against the cached dataset
type Searcher interface {
	DefaultField() country.NameField
	ParseQuery(term, field string) (stats.Query, error)
	Search(ctx context.Context, q stats.Query) (*stats.Summary, error)
}

// Dataset is the part of the store the refresh endpoint drives
type Dataset interface {
	Refresh(ctx context.Context) error
	Status() dataset.Status
}

type errorBody struct {
	Error string `json:"error"`
}

// statusFor maps a search failure to an HTTP status.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case apperrors.Is(err, apperrors.ErrInvalidNameField):
		return http.StatusBadRequest
	case apperrors.Is(err, apperrors.ErrNoMatches):
		return http.StatusNotFound
	}
	if t, ok := apperrors.TypeOf(err); ok && (t == apperrors.ErrTypeUpstream || t == apperrors.ErrTypeDecode) {
		return http.StatusServiceUnavailable
	}
	if apperrors.Is(err, apperrors.ErrDatasetUnavailable) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.writePage(w, http.StatusOK, render.PageData{
		Field: s.deps.Searcher.DefaultField(),
		Live:  s.deps.Live != nil,
	})
}

// handleSearchPage renders the page with the outcome of a search. The "all"
// parameter comes from the get-all button and clears the term.
func (s *Server) handleSearchPage(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	term := params.Get("term")
	if params.Get("all") != "" {
		term = ""
	}

	data := render.PageData{
		Term:  term,
		Field: s.deps.Searcher.DefaultField(),
		Live:  s.deps.Live != nil,
	}

	q, err := s.deps.Searcher.ParseQuery(term, params.Get("searchType"))
	if err != nil {
		data.Message = apperrors.UserMessage(err)
		data.Alert = true
		s.writePage(w, http.StatusBadRequest, data)
		return
	}
	data.Field = q.Field

	summary, err := s.deps.Searcher.Search(r.Context(), q)
	code := http.StatusOK
	switch {
	case err == nil:
		data.Summary = summary
	case apperrors.Is(err, apperrors.ErrNoMatches):
		// An empty result is still a successful page.
		data.Message = apperrors.NoMatchesMessage
	default:
		data.Message = apperrors.UserMessage(err)
		data.Alert = true
		code = statusFor(err)
	}

	s.writePage(w, code, data)
}

func (s *Server) handleSearchAPI(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	q, err := s.deps.Searcher.ParseQuery(params.Get("term"), params.Get("searchType"))
	if err != nil {
		writeJSON(w, statusFor(err), errorBody{Error: apperrors.UserMessage(err)})
		return
	}

	summary, err := s.deps.Searcher.Search(r.Context(), q)
	if err != nil {
		writeJSON(w, statusFor(err), errorBody{Error: apperrors.UserMessage(err)})
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// handleRefresh reloads the dataset and reports the new load status. A
// failed reload leaves the cached dataset in place.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.deps.Dataset == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err := s.deps.Dataset.Refresh(r.Context()); err != nil {
		log.WithError(err).Warn("Country dataset refresh failed")
		writeJSON(w, statusFor(err), errorBody{Error: apperrors.UserMessage(err)})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Dataset.Status())
}

func (s *Server) writePage(w http.ResponseWriter, code int, data render.PageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	if err := render.Page(w, data); err != nil {
		log.Errorf("Failed to render page: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("Failed to encode response: %v", err)
	}
}
