package journal

import (
	"testing"
	"time"

	"futures-agent/internal/sentiment"
)

func TestRecordTradeThenUpdateExitUpdatesDailyPerformance(t *testing.T) {
	j, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer j.Close()

	opened := time.Date(2026, 1, 5, 14, 0, 0, 0, time.UTC)
	id, err := j.RecordTrade("MNQ", "BUY", 2, 15.0, 0.7, "golden cross", opened)
	if err != nil {
		t.Fatalf("record trade: %v", err)
	}

	closed := opened.Add(10 * time.Minute)
	if err := j.UpdateTradeExit(id, 18.0, 6.0, closed); err != nil {
		t.Fatalf("update trade exit: %v", err)
	}

	t.Run("daily performance reflects the closed trade", func(t *testing.T) {
		perf, err := j.GetDailyPerformance("2026-01-05")
		if err != nil {
			t.Fatalf("get daily performance: %v", err)
		}
		if perf.PnL != 6.0 || perf.Trades != 1 || perf.Wins != 1 || perf.Losses != 0 {
			t.Fatalf("unexpected daily performance: %+v", perf)
		}
	})

	t.Run("statistics aggregate across all trades", func(t *testing.T) {
		stats, err := j.GetStatistics()
		if err != nil {
			t.Fatalf("get statistics: %v", err)
		}
		if stats.TotalTrades != 1 || stats.Wins != 1 || stats.TotalPnL != 6.0 || stats.WinRate != 1.0 {
			t.Fatalf("unexpected statistics: %+v", stats)
		}
	})
}

func TestDailyPerformanceAccumulatesAcrossMultipleTrades(t *testing.T) {
	j, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer j.Close()

	day := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	id1, _ := j.RecordTrade("MNQ", "BUY", 1, 10.0, 0.6, "", day)
	j.UpdateTradeExit(id1, 12.0, 2.0, day.Add(time.Minute))

	id2, _ := j.RecordTrade("MNQ", "SELL", 1, 10.0, 0.6, "", day)
	j.UpdateTradeExit(id2, 12.5, -2.5, day.Add(2*time.Minute))

	perf, err := j.GetDailyPerformance("2026-02-01")
	if err != nil {
		t.Fatalf("get daily performance: %v", err)
	}
	if perf.Trades != 2 || perf.Wins != 1 || perf.Losses != 1 {
		t.Fatalf("expected 2 trades split win/loss, got %+v", perf)
	}
	wantPnL := 2.0 - 2.5
	if diff := perf.PnL - wantPnL; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected pnl %v, got %v", wantPnL, perf.PnL)
	}
}

func TestGetDailyPerformanceUnknownDateReturnsZeroValue(t *testing.T) {
	j, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer j.Close()

	perf, err := j.GetDailyPerformance("2020-01-01")
	if err != nil {
		t.Fatalf("get daily performance: %v", err)
	}
	if perf.Trades != 0 || perf.PnL != 0 {
		t.Fatalf("expected zero-value performance for unknown date, got %+v", perf)
	}
}

func TestRecordSentimentIgnoresNilAggregate(t *testing.T) {
	j, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer j.Close()

	if err := j.RecordSentiment(nil, time.Now()); err != nil {
		t.Fatalf("expected nil aggregate to be a no-op, got %v", err)
	}
}

func TestRecordSentimentPersistsSnapshot(t *testing.T) {
	j, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer j.Close()

	agg := &sentiment.AggregatedSentiment{
		Symbol:         "MNQ",
		CompositeScore: 0.4,
		Confidence:     0.8,
		Action:         sentiment.ActionBuy,
		DataPoints:     12,
	}
	if err := j.RecordSentiment(agg, time.Now()); err != nil {
		t.Fatalf("record sentiment: %v", err)
	}
}

func TestNoOpJournalDiscardsEverything(t *testing.T) {
	var j Journal = NoOp{}

	id, err := j.RecordTrade("MNQ", "BUY", 1, 10, 0.6, "", time.Now())
	if err != nil || id != 0 {
		t.Fatalf("expected no-op record trade, got id=%d err=%v", id, err)
	}
	if err := j.UpdateTradeExit(0, 0, 0, time.Now()); err != nil {
		t.Fatalf("expected no-op update exit, got %v", err)
	}
	if err := j.RecordSentiment(nil, time.Now()); err != nil {
		t.Fatalf("expected no-op record sentiment, got %v", err)
	}
	stats, err := j.GetStatistics()
	if err != nil || stats.TotalTrades != 0 {
		t.Fatalf("expected zero-value statistics, got %+v err=%v", stats, err)
	}
}
