package crawler

import (
	"context"
	"io"
	"time"

	"cloud.google.com/go/civil"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Source is the racing-authority site: the date listing and per-race result pages.
type Source interface {
	ListAvailableDates(ctx context.Context) ([]civil.Date, error)
	FetchRace(ctx context.Context, date civil.Date, raceNo int) ([]byte, error)
}

// RaceStore answers the dedup check and persists new records.
type RaceStore interface {
	IsRecorded(ctx context.Context, date civil.Date, raceNo int) (bool, error)
	BulkInsert(ctx context.Context, records []RaceRecord) error
}

// RaceReader lists stored records sorted by date, then race number.
type RaceReader interface {
	ListRaces(ctx context.Context) ([]RaceRecord, error)
	ListRacesByDate(ctx context.Context, date civil.Date, raceNo *int) ([]RaceRecord, error)
	Ping(ctx context.Context) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Exporter writes newly stored records to a secondary sink.
type Exporter interface {
	Export(ctx context.Context, records []RaceRecord) (string, error)
}

// Publisher announces newly stored records to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, records []RaceRecord) (int, error)
}

// Hasher produces a stable digest for exported documents.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces crawl run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
