// Package codegen allocates the immutable codes that identify workflow definitions and task nodes.
//
// Definition codes and task codes share one namespace, so a generator never hands out the same
// value twice regardless of what the caller uses it for.
package codegen

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Generator hands out codes that are unique across every concurrent caller.
type Generator interface {
	NewCode(ctx context.Context) (int64, error)
}

const (
	nodeBits     = 10
	sequenceBits = 12

	maxNodeID   = 1<<nodeBits - 1
	maxSequence = 1<<sequenceBits - 1

	nodeShift = sequenceBits
	timeShift = sequenceBits + nodeBits
)

// Epoch is the reference instant for the timestamp part of snowflake codes (2024-01-01 UTC).
var Epoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

var (
	ErrInvalidNodeID  = errors.New("node id out of range")
	ErrClockMovedBack = errors.New("clock moved backwards")
)

// Snowflake builds codes out of a millisecond timestamp, a node id and a per-millisecond sequence.
// Codes from one generator are strictly increasing.
type Snowflake struct {
	mu       sync.Mutex
	nodeID   int64
	lastMS   int64
	sequence int64
	now      func() time.Time
}

// NewSnowflake creates a generator for the given node id (0-1023).
func NewSnowflake(nodeID int64) (*Snowflake, error) {
	if nodeID < 0 || nodeID > maxNodeID {
		return nil, fmt.Errorf("%w: %d (allowed 0-%d)", ErrInvalidNodeID, nodeID, maxNodeID)
	}

	return &Snowflake{nodeID: nodeID, now: time.Now}, nil
}

// NewCode returns the next code.
func (s *Snowflake) NewCode(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms := s.now().Sub(Epoch).Milliseconds()
	if ms < s.lastMS {
		return 0, fmt.Errorf("%w: last %d, now %d", ErrClockMovedBack, s.lastMS, ms)
	}

	if ms == s.lastMS {
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			for ms <= s.lastMS {
				if err := ctx.Err(); err != nil {
					return 0, err
				}

				time.Sleep(100 * time.Microsecond)

				ms = s.now().Sub(Epoch).Milliseconds()
			}
		}
	} else {
		s.sequence = 0
	}

	s.lastMS = ms

	return ms<<timeShift | s.nodeID<<nodeShift | s.sequence, nil
}
