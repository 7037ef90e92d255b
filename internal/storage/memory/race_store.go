// Package memory keeps race results and artifacts in process memory for
// development and tests.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"cloud.google.com/go/civil"

	"github.com/JakeFAU/hkjc-results-crawler/internal/crawler"
)

// RaceStore is an in-memory crawler.RaceStore and crawler.RaceReader.
type RaceStore struct {
	mu       sync.RWMutex
	records  []crawler.RaceRecord
	recorded map[crawler.RaceKey]struct{}
}

var (
	_ crawler.RaceStore  = (*RaceStore)(nil)
	_ crawler.RaceReader = (*RaceStore)(nil)
)

// NewRaceStore constructs an empty RaceStore.
func NewRaceStore() *RaceStore {
	return &RaceStore{recorded: make(map[crawler.RaceKey]struct{})}
}

// IsRecorded reports whether any record exists for the race.
func (s *RaceStore) IsRecorded(_ context.Context, date civil.Date, raceNo int) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.recorded[crawler.RaceKey{Date: date, RaceNo: raceNo}]
	return ok, nil
}

// BulkInsert appends records as-is; there is no uniqueness check.
func (s *RaceStore) BulkInsert(_ context.Context, records []crawler.RaceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		s.records = append(s.records, rec)
		s.recorded[rec.Key()] = struct{}{}
	}
	return nil
}

// ListRaces returns every record sorted by date, then race number.
func (s *RaceStore) ListRaces(_ context.Context) ([]crawler.RaceRecord, error) {
	return s.filter(func(crawler.RaceRecord) bool { return true }), nil
}

// ListRacesByDate returns the records of one date, optionally limited to one race.
func (s *RaceStore) ListRacesByDate(_ context.Context, date civil.Date, raceNo *int) ([]crawler.RaceRecord, error) {
	return s.filter(func(r crawler.RaceRecord) bool {
		return r.Date == date && (raceNo == nil || r.RaceNo == *raceNo)
	}), nil
}

// Ping always succeeds.
func (s *RaceStore) Ping(context.Context) error {
	return nil
}

// Len returns the number of stored records.
func (s *RaceStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *RaceStore) filter(keep func(crawler.RaceRecord) bool) []crawler.RaceRecord {
	s.mu.RLock()
	out := make([]crawler.RaceRecord, 0, len(s.records))
	for _, r := range s.records {
		if keep(r) {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b crawler.RaceRecord) int {
		if c := compareDates(a.Date, b.Date); c != 0 {
			return c
		}
		return cmp.Compare(a.RaceNo, b.RaceNo)
	})
	return out
}

func compareDates(a, b civil.Date) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	default:
		return 0
	}
}
