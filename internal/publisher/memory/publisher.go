// Package memory contains an in-memory publisher for development and tests.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/hkjc-results-crawler/internal/crawler"
)

// Publisher keeps every published record for inspection.
type Publisher struct {
	mu      sync.RWMutex
	records []crawler.RaceRecord
}

var _ crawler.Publisher = (*Publisher)(nil)

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the batch and reports every record as published.
func (p *Publisher) Publish(_ context.Context, records []crawler.RaceRecord) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = append(p.records, records...)
	return len(records), nil
}

// Records returns a copy of everything published so far.
func (p *Publisher) Records() []crawler.RaceRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]crawler.RaceRecord, len(p.records))
	copy(out, p.records)
	return out
}
