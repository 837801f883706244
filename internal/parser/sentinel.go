package parser

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// Sentinel is the per-command marker token. ExifTool only accepts digits
// after -execute, so the token is purely numeric.
type Sentinel string

// ExecuteArg is the command terminator written to stdin.
func (s Sentinel) ExecuteArg() string {
	return "-execute" + string(s)
}

// Ready is what ExifTool prints on stdout once the command completes.
func (s Sentinel) Ready() string {
	return "{ready" + string(s) + "}"
}

// Post is the marker closing the stderr echo.
func (s Sentinel) Post() string {
	return "post" + string(s)
}

// StatusEcho is the -echo4 argument. ExifTool substitutes ${status} with the
// command's exit status and prints the line on stderr.
func (s Sentinel) StatusEcho() string {
	return statusDelim + "${status}" + statusDelim + s.Post()
}

const statusDelim = "="

// maxCounter bounds the per-start counter so tokens keep a fixed width.
const maxCounter = 1000000

// SentinelSource hands out unique sentinels: a 4-digit identifier chosen at
// process start followed by a zero-padded counter.
type SentinelSource struct {
	mu      sync.Mutex
	rng     *rand.Rand
	startID int
	counter int
}

// NewSentinelSource creates a source seeded from seed.
func NewSentinelSource(seed int64) *SentinelSource {
	s := &SentinelSource{rng: rand.New(rand.NewSource(seed))}
	s.Reset()
	return s
}

// NewSentinelSourceFromTime creates a source seeded from the current time.
func NewSentinelSourceFromTime() *SentinelSource {
	return NewSentinelSource(time.Now().UnixNano())
}

// Reset picks a new start identifier and zeroes the counter.
// Called every time the process is (re)started.
func (s *SentinelSource) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startID = 1000 + s.rng.Intn(9000)
	s.counter = 0
}

// Next returns the next sentinel.
func (s *SentinelSource) Next() Sentinel {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counter++
	if s.counter >= maxCounter {
		// Wrapped: move to a fresh identifier so tokens stay unique.
		s.startID = 1000 + (s.startID-1000+1)%9000
		s.counter = 1
	}
	return Sentinel(fmt.Sprintf("%d%06d", s.startID, s.counter))
}
