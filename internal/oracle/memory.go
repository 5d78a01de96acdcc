package oracle

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// MemoryFeed implements Feed with an in-memory append-only sample log.
// Used for testing and development.
type MemoryFeed struct {
	mu          sync.RWMutex
	description string
	decimals    uint8
	firstRound  uint64
	samples     []Sample // ascending round order
}

// NewMemoryFeed creates an empty feed with the given pair description and
// native decimal count.
func NewMemoryFeed(description string, decimals uint8) *MemoryFeed {
	return &MemoryFeed{description: description, decimals: decimals, firstRound: 1}
}

// Append records a new observation. Raw price uses the feed's native
// decimal scaling, matching what an on-chain aggregator would answer.
func (f *MemoryFeed) Append(rawPrice int64, timestamp int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	round := f.firstRound + uint64(len(f.samples))
	f.samples = append(f.samples, Sample{
		Round:     round,
		Price:     decimal.NewFromInt(rawPrice),
		Timestamp: timestamp,
	})
}

func (f *MemoryFeed) LatestSample(_ context.Context) (Sample, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.samples) == 0 {
		return Sample{}, fmt.Errorf("%w: %s has no samples", ErrNoData, f.description)
	}
	return f.samples[len(f.samples)-1], nil
}

func (f *MemoryFeed) SampleAt(_ context.Context, round uint64) (Sample, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if round < f.firstRound || round >= f.firstRound+uint64(len(f.samples)) {
		return Sample{}, fmt.Errorf("%w: %s round %d", ErrNoData, f.description, round)
	}
	return f.samples[round-f.firstRound], nil
}

func (f *MemoryFeed) Decimals(_ context.Context) (uint8, error) {
	return f.decimals, nil
}

func (f *MemoryFeed) Description(_ context.Context) (string, error) {
	return f.description, nil
}

// Registry resolves feed identifiers to Feed implementations. Bindings
// reference feeds by identifier so pool state can be rebuilt after a
// restart without re-describing feed endpoints.
type Registry struct {
	mu    sync.RWMutex
	feeds map[string]Feed
}

// NewRegistry creates an empty feed registry.
func NewRegistry() *Registry {
	return &Registry{feeds: make(map[string]Feed)}
}

// Register associates an identifier with a feed, replacing any previous
// registration.
func (r *Registry) Register(id string, f Feed) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.feeds[id] = f
}

// Resolve returns the feed for id, or ErrUnknownFeed.
func (r *Registry) Resolve(id string) (Feed, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.feeds[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFeed, id)
	}
	return f, nil
}
