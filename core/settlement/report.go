package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Sobilo34/hedera-hack-cppay-sub000/model"
)

var terminalStatuses = []model.SettlementStatus{
	model.SettlementCompleted,
	model.SettlementFailed,
	model.SettlementCancelled,
}

// CleanupStats holds statistics about the cleanup operation
type CleanupStats struct {
	Scanned  int           `json:"scanned"`
	Removed  int           `json:"removed"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// Cleanup removes terminal records that have not changed for longer than the retention age.
func (p *Processor) Cleanup(ctx context.Context) (*CleanupStats, error) {
	start := time.Now()
	stats := &CleanupStats{}
	cutoff := p.now().Add(-p.retentionAge)

	records, err := p.store.ListByStatus(ctx, terminalStatuses...)
	if err != nil {
		return stats, fmt.Errorf("list terminal transactions: %w", err)
	}

	for _, rec := range records {
		stats.Scanned++
		if !rec.IsTerminal() || !rec.UpdatedAt.Before(cutoff) {
			continue
		}
		unlock, ok := p.locks.TryLock(rec.ID)
		if !ok {
			continue
		}
		err := p.store.Delete(ctx, rec.ID)
		unlock()
		if err != nil {
			p.logger.Error("failed to remove expired transaction", "id", rec.ID, "error", err)
			stats.Failed++
			continue
		}
		stats.Removed++
	}

	if stats.Removed > 0 && p.compact != nil {
		if err := p.compact(); err != nil {
			p.logger.Warn("storage compaction after cleanup failed", "error", err)
		}
	}

	stats.Duration = time.Since(start)
	p.logger.Info("settlement cleanup done", "scanned", stats.Scanned, "removed", stats.Removed, "failed", stats.Failed, "duration", stats.Duration)
	return stats, nil
}

// Report summarises the transactions created on one UTC day.
type Report struct {
	Day         string          `json:"day"`
	Total       int             `json:"total"`
	Completed   int             `json:"completed"`
	Failed      int             `json:"failed"`
	Cancelled   int             `json:"cancelled"`
	Pending     int             `json:"pending"`
	FiatVolume  decimal.Decimal `json:"fiatVolume"`
	SuccessRate float64         `json:"successRate"`
}

// DailyReport counts the transactions created on day. FiatVolume only includes completed ones and
// SuccessRate is the completed share of all transactions, in percent.
func (p *Processor) DailyReport(ctx context.Context, day time.Time) (*Report, error) {
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)

	records, err := p.store.ListByStatus(ctx)
	if err != nil {
		return nil, err
	}

	r := &Report{Day: from.Format(time.DateOnly), FiatVolume: decimal.Zero}
	for _, rec := range records {
		created := rec.CreatedAt.UTC()
		if created.Before(from) || !created.Before(to) {
			continue
		}
		r.Total++
		switch rec.Stage {
		case model.StageCompleted:
			r.Completed++
			r.FiatVolume = r.FiatVolume.Add(rec.FiatAmount)
		case model.StageFailed:
			r.Failed++
		case model.StageCancelled:
			r.Cancelled++
		default:
			r.Pending++
		}
	}
	if r.Total > 0 {
		r.SuccessRate, _ = decimal.NewFromInt(int64(r.Completed)).
			Div(decimal.NewFromInt(int64(r.Total))).
			Mul(decimal.NewFromInt(100)).
			Round(2).
			Float64()
	}
	return r, nil
}
