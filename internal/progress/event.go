package progress

import (
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageDateStart Stage = "DATE_START"
	StageRaceDone  Stage = "RACE_DONE"
	StageDateDone  Stage = "DATE_DONE"
)

// Event captures one step of a crawl.
type Event struct {
	TS    time.Time
	Stage Stage
	Date  civil.Date
	// RaceNo is set on RACE_DONE only.
	RaceNo int
	// Races is the number of races scheduled for Date (DATE_START, DATE_DONE).
	Races int
	// Records counts rows found for the race or the whole date.
	Records int
	// Outcome is the race outcome label (RACE_DONE only).
	Outcome string
	Dur     time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if !e.Date.IsValid() {
		return errors.New("date is required")
	}
	switch e.Stage {
	case StageDateStart, StageDateDone:
	case StageRaceDone:
		if e.RaceNo <= 0 {
			return errors.New("race done requires race number")
		}
		if e.Outcome == "" {
			return errors.New("race done requires outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
