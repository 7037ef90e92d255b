// Package redis publishes newly stored race results onto a Redis stream.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/hkjc-results-crawler/internal/crawler"
)

// DefaultStream is the stream key used when none is configured.
const DefaultStream = "hkjc.race_results"

// Config controls the stream publisher.
type Config struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	// MaxLen caps the stream length approximately; zero disables trimming.
	MaxLen int64
}

type streamAdder interface {
	XAdd(ctx context.Context, a *goredis.XAddArgs) *goredis.StringCmd
}

// Publisher implements crawler.Publisher with one XADD per record.
type Publisher struct {
	client streamAdder
	stream string
	maxLen int64
}

var _ crawler.Publisher = (*Publisher)(nil)

// NewClient opens a go-redis client for cfg.
func NewClient(cfg Config) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// New builds a Publisher on an existing client.
func New(client streamAdder, cfg Config) (*Publisher, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	stream := cfg.Stream
	if stream == "" {
		stream = DefaultStream
	}
	return &Publisher{client: client, stream: stream, maxLen: cfg.MaxLen}, nil
}

// Publish appends every record to the stream in order. It stops at the first
// failure and returns how many records were published before it.
func (p *Publisher) Publish(ctx context.Context, records []crawler.RaceRecord) (int, error) {
	for i, rec := range records {
		payload, err := json.Marshal(rec)
		if err != nil {
			return i, fmt.Errorf("marshal race record: %w", err)
		}
		args := &goredis.XAddArgs{
			Stream: p.stream,
			Values: map[string]any{
				"date":    rec.Date.String(),
				"race_no": strconv.Itoa(rec.RaceNo),
				"payload": string(payload),
			},
		}
		if p.maxLen > 0 {
			args.MaxLen = p.maxLen
			args.Approx = true
		}
		if err := p.client.XAdd(ctx, args).Err(); err != nil {
			return i, fmt.Errorf("xadd %s: %w", p.stream, err)
		}
	}
	return len(records), nil
}
