package oracle_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stablemint/issuance-engine/internal/oracle"
)

func TestPrice_RescalesMantissa(t *testing.T) {
	feed := oracle.NewStaticFeed(300012345678, 8) // $3000.12345678
	a := &oracle.Adapter{}

	p, err := a.Price(feed)
	if err != nil {
		t.Fatalf("price failed: %v", err)
	}
	want := decimal.RequireFromString("3000.12345678")
	if !p.Equal(want) {
		t.Errorf("expected %s, got %s", want, p)
	}
}

func TestPrice_FreshAtWindowEdge(t *testing.T) {
	feed := oracle.NewStaticFeed(300000000000, 8)
	updated := time.Now().UTC()
	feed.SetUpdatedAt(updated)

	// Exactly at the window is still accepted; rejection starts past it.
	a := &oracle.Adapter{Now: func() time.Time { return updated.Add(oracle.MaxStaleness) }}
	if _, err := a.Price(feed); err != nil {
		t.Errorf("reading at exactly the window edge should be accepted: %v", err)
	}

	a.Now = func() time.Time { return updated.Add(oracle.MaxStaleness + time.Second) }
	_, err := a.Price(feed)
	var stale *oracle.StaleError
	if !errors.As(err, &stale) {
		t.Fatalf("expected stale error past the window, got %v", err)
	}
	if stale.Age != oracle.MaxStaleness+time.Second {
		t.Errorf("expected reported age %s, got %s", oracle.MaxStaleness+time.Second, stale.Age)
	}
}

func TestPrice_FeedErrorPropagates(t *testing.T) {
	feed := oracle.NewStaticFeed(300000000000, 8)
	feed.SetErr(oracle.ErrNoRound)

	a := &oracle.Adapter{}
	if _, err := a.Price(feed); !errors.Is(err, oracle.ErrNoRound) {
		t.Errorf("expected feed error to propagate, got %v", err)
	}
}

func TestSetAnswer_RefreshesRound(t *testing.T) {
	feed := oracle.NewStaticFeed(300000000000, 8)
	feed.SetUpdatedAt(time.Now().Add(-24 * time.Hour))

	feed.SetAnswer(250000000000)

	rd, err := feed.LatestRoundData()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if rd.Answer != 250000000000 {
		t.Errorf("expected updated answer, got %d", rd.Answer)
	}
	if rd.RoundID != 2 || rd.AnsweredInRound != 2 {
		t.Errorf("expected round to advance, got round=%d answered=%d", rd.RoundID, rd.AnsweredInRound)
	}
	if time.Since(rd.UpdatedAt) > time.Minute {
		t.Errorf("expected timestamp refresh, got %s", rd.UpdatedAt)
	}

	// The refreshed reading passes the staleness guard again.
	a := &oracle.Adapter{}
	p, err := a.Price(feed)
	if err != nil {
		t.Fatalf("price failed after refresh: %v", err)
	}
	if !p.Equal(decimal.NewFromInt(2500)) {
		t.Errorf("expected 2500, got %s", p)
	}
}
