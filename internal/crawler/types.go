package crawler

import (
	"net/http"
	"time"

	"cloud.google.com/go/civil"
)

// RaceRecord is one horse's result entry for one race on one date.
type RaceRecord struct {
	Date             civil.Date `json:"date"`
	RaceNo           int        `json:"race_no"`
	Place            string     `json:"place"`
	HorseNo          string     `json:"horse_no"`
	HorseName        string     `json:"horse_name"`
	Jockey           string     `json:"jockey"`
	Trainer          string     `json:"trainer"`
	DeclaredWeight   int        `json:"declared_weight"`
	ActualWeight     int        `json:"actual_weight"`
	Draw             int        `json:"draw"`
	WinningMargin    string     `json:"winning_margin"`
	RunningPositions string     `json:"running_positions"`
	FinishTime       string     `json:"finish_time"`
	WinOdds          float64    `json:"win_odds"`
}

// RaceKey identifies a race; the dedup check works at this granularity.
type RaceKey struct {
	Date   civil.Date
	RaceNo int
}

// Key returns the race the record belongs to.
func (r RaceRecord) Key() RaceKey {
	return RaceKey{Date: r.Date, RaceNo: r.RaceNo}
}

// JobState represents the lifecycle state of a crawl job.
type JobState string

// Job state values reported by the job runner.
const (
	JobStateIdle     JobState = "idle"
	JobStateRunning  JobState = "running"
	JobStateFinished JobState = "finished"
	JobStateFailed   JobState = "failed"
)

// JobStatus is a snapshot of the most recent crawl job.
type JobStatus struct {
	RunID      string     `json:"run_id,omitempty"`
	State      JobState   `json:"state"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Summary    Summary    `json:"summary"`
	ErrorText  string     `json:"error_text,omitempty"`
}

// Summary tracks what a crawl run did.
type Summary struct {
	Dates           int `json:"dates"`
	RacesSkipped    int `json:"races_skipped"`
	RacesScheduled  int `json:"races_scheduled"`
	RacesFailed     int `json:"races_failed"`
	RecordsFound    int `json:"records_found"`
	RecordsInserted int `json:"records_inserted"`
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}
