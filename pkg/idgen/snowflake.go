package idgen

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	// Epoch is 2020-01-01T00:00:00Z in unix milliseconds.
	Epoch int64 = 1577836800000

	workerIDBits     = 5
	datacenterIDBits = 5
	sequenceBits     = 12

	MaxWorkerID     = -1 ^ (-1 << workerIDBits)
	MaxDatacenterID = -1 ^ (-1 << datacenterIDBits)
	sequenceMask    = -1 ^ (-1 << sequenceBits)

	workerIDShift     = sequenceBits
	datacenterIDShift = sequenceBits + workerIDBits
	timestampShift    = sequenceBits + workerIDBits + datacenterIDBits
)

var (
	ErrClockMovedBackwards = errors.New("clock moved backwards")
	// ErrWorkerRevoked is returned once the generator no longer owns its worker id.
	ErrWorkerRevoked = errors.New("worker id revoked")
)

// Generator issues 64-bit snowflake ids. A single instance is safe for concurrent use.
type Generator struct {
	mu            sync.Mutex
	datacenterID  int64
	workerID      int64
	sequence      int64
	lastTimestamp int64
	revoked       bool

	now func() int64
}

type Option func(*Generator)

// WithClock replaces the millisecond clock, used by tests.
func WithClock(now func() int64) Option {
	return func(g *Generator) {
		g.now = now
	}
}

func New(datacenterID, workerID int64, opts ...Option) (*Generator, error) {
	if datacenterID < 0 || datacenterID > MaxDatacenterID {
		return nil, fmt.Errorf("datacenter id must be between 0 and %d", MaxDatacenterID)
	}
	if workerID < 0 || workerID > MaxWorkerID {
		return nil, fmt.Errorf("worker id must be between 0 and %d", MaxWorkerID)
	}

	g := &Generator{
		datacenterID:  datacenterID,
		workerID:      workerID,
		lastTimestamp: -1,
		now: func() int64 {
			return time.Now().UnixMilli()
		},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Revoke makes every later NextID call fail with ErrWorkerRevoked.
func (g *Generator) Revoke() {
	g.mu.Lock()
	g.revoked = true
	g.mu.Unlock()
}

func (g *Generator) NextID() (uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.revoked {
		return 0, ErrWorkerRevoked
	}

	ts := g.now()
	if ts < g.lastTimestamp {
		return 0, fmt.Errorf("%w: refusing to generate id for %d milliseconds", ErrClockMovedBackwards, g.lastTimestamp-ts)
	}

	if ts == g.lastTimestamp {
		g.sequence = (g.sequence + 1) & sequenceMask
		if g.sequence == 0 {
			ts = g.waitNextMillis(g.lastTimestamp)
		}
	} else {
		g.sequence = 0
	}
	g.lastTimestamp = ts

	id := ((ts - Epoch) << timestampShift) |
		(g.datacenterID << datacenterIDShift) |
		(g.workerID << workerIDShift) |
		g.sequence
	return uint64(id), nil
}

func (g *Generator) waitNextMillis(last int64) int64 {
	ts := g.now()
	for ts <= last {
		ts = g.now()
	}
	return ts
}

// Parts decomposes an id into its timestamp, datacenter, worker and sequence fields.
func Parts(id uint64) (ts time.Time, datacenterID, workerID, sequence int64) {
	v := int64(id)
	ms := (v >> timestampShift) + Epoch
	return time.UnixMilli(ms).UTC(),
		(v >> datacenterIDShift) & MaxDatacenterID,
		(v >> workerIDShift) & MaxWorkerID,
		v & sequenceMask
}
