// Package idgen issues time-ordered identifiers for refund attempts and
// audit events. Layout of an id, high to low bits: 41 bits of milliseconds
// since epoch, 10 bits of worker id, 12 bits of per-millisecond sequence.
package idgen

import (
	"fmt"
	"sync"
	"time"
)

const (
	epoch          = int64(1704067200000) // 2024-01-01 00:00:00 UTC
	workerIDBits   = 10
	sequenceBits   = 12
	maxWorkerID    = -1 ^ (-1 << workerIDBits)
	maxSequence    = -1 ^ (-1 << sequenceBits)
	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits
)

type Snowflake struct {
	mu        sync.Mutex
	timestamp int64
	workerID  int64
	sequence  int64
}

func New(workerID int64) (*Snowflake, error) {
	if workerID < 0 || workerID > maxWorkerID {
		return nil, fmt.Errorf("worker id must be within 0-%d, got %d", maxWorkerID, workerID)
	}
	return &Snowflake{workerID: workerID}, nil
}

var (
	mu               sync.Mutex
	defaultGenerator *Snowflake
)

// Init replaces the package generator. Call it once at startup.
func Init(workerID int64) error {
	g, err := New(workerID)
	if err != nil {
		return err
	}
	mu.Lock()
	defaultGenerator = g
	mu.Unlock()
	return nil
}

func generator() *Snowflake {
	mu.Lock()
	defer mu.Unlock()
	if defaultGenerator == nil {
		defaultGenerator = &Snowflake{workerID: 1}
	}
	return defaultGenerator
}

func NextID() int64 {
	return generator().Generate()
}

func (s *Snowflake) Generate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	if now < s.timestamp {
		// clock moved backwards; keep ids monotonic
		now = s.timestamp
	}

	if now == s.timestamp {
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			for now <= s.timestamp {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		s.sequence = 0
	}
	s.timestamp = now

	return ((now - epoch) << timestampShift) |
		(s.workerID << workerIDShift) |
		s.sequence
}

// GenerateRefundNo returns REF + yyyyMMddHHmmss + the id's low 8 digits.
func GenerateRefundNo() string {
	return withPrefix("REF")
}

// GenerateAuditKey returns AUD + yyyyMMddHHmmss + the id's low 8 digits.
func GenerateAuditKey() string {
	return withPrefix("AUD")
}

func withPrefix(prefix string) string {
	id := NextID()
	return fmt.Sprintf("%s%s%08d", prefix, time.Now().Format("20060102150405"), id%100000000)
}
