package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"cloud.google.com/go/civil"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/hkjc-results-crawler/internal/crawler"
)

const reportBaseName = "racing_data"

func (s *Server) listRaces(w http.ResponseWriter, r *http.Request) {
	records, err := s.races.ListRaces(r.Context())
	if err != nil {
		s.logger.Error("list races failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list races")
		return
	}
	s.writeJSON(w, http.StatusOK, nonNil(records))
}

func (s *Server) listRacesByDate(w http.ResponseWriter, r *http.Request) {
	records, ok := s.racesForRequest(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) downloadRaces(w http.ResponseWriter, r *http.Request) {
	records, err := s.races.ListRaces(r.Context())
	if err != nil {
		s.logger.Error("list races failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list races")
		return
	}
	if len(records) == 0 {
		s.writeError(w, http.StatusNotFound, "no race results")
		return
	}
	s.writePDF(w, reportBaseName+".pdf", records)
}

func (s *Server) downloadRacesByDate(w http.ResponseWriter, r *http.Request) {
	records, ok := s.racesForRequest(w, r)
	if !ok {
		return
	}
	date, raceNo, _ := parseRaceQuery(r)
	s.writePDF(w, reportFilename(date, raceNo), records)
}

// racesForRequest validates {date} and ?race_no before reading the store and
// writes the error response itself when it returns false.
func (s *Server) racesForRequest(w http.ResponseWriter, r *http.Request) ([]crawler.RaceRecord, bool) {
	date, raceNo, err := parseRaceQuery(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	records, err := s.races.ListRacesByDate(r.Context(), date, raceNo)
	if err != nil {
		s.logger.Error("list races by date failed",
			zap.String("date", date.String()),
			zap.Error(err),
		)
		s.writeError(w, http.StatusInternalServerError, "failed to list races")
		return nil, false
	}
	if len(records) == 0 {
		s.writeError(w, http.StatusNotFound, "no race results for "+date.String())
		return nil, false
	}
	return records, true
}

func (s *Server) writePDF(w http.ResponseWriter, filename string, records []crawler.RaceRecord) {
	if s.renderer == nil {
		s.writeError(w, http.StatusNotImplemented, "report rendering is not configured")
		return
	}
	var buf bytes.Buffer
	if err := s.renderer.Render(&buf, records); err != nil {
		s.logger.Error("render report failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to render report")
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		s.logger.Warn("write report failed", zap.Error(err))
	}
}

func parseRaceQuery(r *http.Request) (civil.Date, *int, error) {
	raw := chi.URLParam(r, "date")
	date, err := civil.ParseDate(raw)
	if err != nil {
		return civil.Date{}, nil, fmt.Errorf("invalid date %q: want YYYY-MM-DD", raw)
	}
	rawRace := r.URL.Query().Get("race_no")
	if rawRace == "" {
		return date, nil, nil
	}
	raceNo, err := strconv.Atoi(rawRace)
	if err != nil || raceNo <= 0 {
		return civil.Date{}, nil, fmt.Errorf("invalid race_no %q: want a positive integer", rawRace)
	}
	return date, &raceNo, nil
}

func reportFilename(date civil.Date, raceNo *int) string {
	if raceNo == nil {
		return fmt.Sprintf("%s_%s.pdf", reportBaseName, date)
	}
	return fmt.Sprintf("%s_%s_%d.pdf", reportBaseName, date, *raceNo)
}

func nonNil(records []crawler.RaceRecord) []crawler.RaceRecord {
	if records == nil {
		return []crawler.RaceRecord{}
	}
	return records
}
