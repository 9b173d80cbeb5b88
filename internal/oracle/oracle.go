// Package oracle provides the price feed capability consumed by the engine
// and the staleness-guarded adapter around it.
//
// Feeds deliver an integer mantissa plus a decimals count (the usual
// Chainlink latestRoundData shape). The adapter rescales every answer to a
// full decimal USD price before it is used in any valuation, so multiplication
// always happens at full precision and division happens last.
package oracle

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MaxStaleness is the maximum age of a feed reading before it is rejected.
const MaxStaleness = 3 * time.Hour

// ErrNoRound is returned when a feed has never produced a reading.
var ErrNoRound = errors.New("oracle: no round data available")

// StaleError reports a reading older than the staleness window.
type StaleError struct {
	Age time.Duration
}

func (e *StaleError) Error() string {
	return fmt.Sprintf("oracle: reading is stale (age %s, max %s)", e.Age, MaxStaleness)
}

// RoundData is one feed reading.
type RoundData struct {
	RoundID         uint64
	Answer          int64 // price mantissa, scaled by 10^-Decimals
	Decimals        uint8
	StartedAt       time.Time
	UpdatedAt       time.Time
	AnsweredInRound uint64
}

// PriceFeed is the external oracle capability. Read-only; implementations
// must not be cached across operations — the adapter reads on every valuation.
type PriceFeed interface {
	LatestRoundData() (RoundData, error)
}

// Adapter wraps price feeds with the staleness guard. The clock is injectable
// for tests; zero value uses time.Now.
type Adapter struct {
	Now func() time.Time
}

// Price reads the feed and returns the full-precision USD price.
// Fails with *StaleError when the reading is older than MaxStaleness.
func (a *Adapter) Price(feed PriceFeed) (decimal.Decimal, error) {
	rd, err := feed.LatestRoundData()
	if err != nil {
		return decimal.Zero, err
	}

	now := time.Now()
	if a.Now != nil {
		now = a.Now()
	}

	if age := now.Sub(rd.UpdatedAt); age > MaxStaleness {
		return decimal.Zero, &StaleError{Age: age}
	}

	// Rescale the integer mantissa up to a full decimal price.
	return decimal.New(rd.Answer, -int32(rd.Decimals)), nil
}

// StaticFeed is a settable in-memory feed for tests and development mode.
type StaticFeed struct {
	mu    sync.RWMutex
	round RoundData
	err   error
}

// NewStaticFeed creates a feed answering with the given mantissa and
// decimals, timestamped now.
func NewStaticFeed(answer int64, decimals uint8) *StaticFeed {
	now := time.Now().UTC()
	return &StaticFeed{
		round: RoundData{
			RoundID:         1,
			Answer:          answer,
			Decimals:        decimals,
			StartedAt:       now,
			UpdatedAt:       now,
			AnsweredInRound: 1,
		},
	}
}

// LatestRoundData returns the current reading.
func (f *StaticFeed) LatestRoundData() (RoundData, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.err != nil {
		return RoundData{}, f.err
	}
	return f.round, nil
}

// SetAnswer updates the price mantissa and refreshes the timestamp.
func (f *StaticFeed) SetAnswer(answer int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.round.RoundID++
	f.round.AnsweredInRound = f.round.RoundID
	f.round.Answer = answer
	f.round.UpdatedAt = time.Now().UTC()
}

// SetUpdatedAt backdates the reading (used to exercise the staleness guard).
func (f *StaticFeed) SetUpdatedAt(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.round.UpdatedAt = t
}

// SetErr makes subsequent reads fail with err.
func (f *StaticFeed) SetErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}
