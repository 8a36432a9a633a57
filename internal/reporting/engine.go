package reporting

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"imapos/backend/internal/cache"
	"imapos/backend/internal/domain"
	"imapos/backend/internal/store"
)

// reportTTL keeps cached report payloads short-lived; reports tolerate a
// couple of minutes of staleness, sales data does not get invalidated
// explicitly.
const reportTTL = 2 * time.Minute

// Engine computes sales reports from the bill, return and expense records.
// Responses are cached when a cache is configured.
type Engine struct {
	repo  store.Repository
	cache cache.ReportCache
	log   *zap.Logger
}

func New(repo store.Repository, reportCache cache.ReportCache, log *zap.Logger) *Engine {
	if reportCache == nil {
		reportCache = cache.NoopReportCache{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{repo: repo, cache: reportCache, log: log}
}

func (e *Engine) SalesSummary(ctx context.Context, from time.Time, to time.Time) (*domain.SalesSummary, error) {
	key := fmt.Sprintf("report:summary:%d:%d", from.Unix(), to.Unix())
	var cached domain.SalesSummary
	if hit, err := e.cache.Get(ctx, key, &cached); err != nil {
		e.log.Warn("report cache read failed", zap.Error(err))
	} else if hit {
		return &cached, nil
	}

	bills, err := e.repo.ListBills(ctx, from, to, 0)
	if err != nil {
		return nil, err
	}
	returns, err := e.repo.ListReturns(ctx, from, to, 0)
	if err != nil {
		return nil, err
	}
	expenses, err := e.repo.ListExpenses(ctx, from, to, 0)
	if err != nil {
		return nil, err
	}

	summary := domain.SalesSummary{From: from, To: to}
	byDay := map[string]*domain.DaySales{}
	for _, bill := range bills {
		summary.BillCount++
		summary.ItemsSold += bill.ItemCount
		summary.GrossCents += bill.GrandTotalCents

		day := bill.CreatedAt.UTC().Format("2006-01-02")
		bucket, ok := byDay[day]
		if !ok {
			bucket = &domain.DaySales{Date: day}
			byDay[day] = bucket
		}
		bucket.BillCount++
		bucket.GrossCents += bill.GrandTotalCents
	}
	for _, ret := range returns {
		summary.RefundCents += ret.RefundCents
	}
	for _, expense := range expenses {
		summary.ExpenseCents += expense.AmountCents
	}
	summary.NetCents = summary.GrossCents - summary.RefundCents - summary.ExpenseCents

	summary.Days = make([]domain.DaySales, 0, len(byDay))
	for _, bucket := range byDay {
		summary.Days = append(summary.Days, *bucket)
	}
	slices.SortFunc(summary.Days, func(a, b domain.DaySales) int {
		switch {
		case a.Date < b.Date:
			return -1
		case a.Date > b.Date:
			return 1
		default:
			return 0
		}
	})

	if err := e.cache.Set(ctx, key, &summary, reportTTL); err != nil {
		e.log.Warn("report cache write failed", zap.Error(err))
	}
	return &summary, nil
}

// TopItems ranks items by quantity sold inside the range, amount as the
// tiebreaker.
func (e *Engine) TopItems(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.TopItem, error) {
	if limit <= 0 {
		limit = 10
	}
	key := fmt.Sprintf("report:top:%d:%d:%d", from.Unix(), to.Unix(), limit)
	var cached []domain.TopItem
	if hit, err := e.cache.Get(ctx, key, &cached); err != nil {
		e.log.Warn("report cache read failed", zap.Error(err))
	} else if hit {
		return cached, nil
	}

	bills, err := e.repo.ListBills(ctx, from, to, 0)
	if err != nil {
		return nil, err
	}

	byItem := map[string]*domain.TopItem{}
	for _, bill := range bills {
		for _, line := range bill.Lines {
			row, ok := byItem[line.ItemID]
			if !ok {
				row = &domain.TopItem{ItemID: line.ItemID, Name: line.Name}
				byItem[line.ItemID] = row
			}
			row.Qty += line.Qty
			row.AmountCents += line.TotalCents
		}
	}

	ranked := make([]domain.TopItem, 0, len(byItem))
	for _, row := range byItem {
		ranked = append(ranked, *row)
	}
	slices.SortFunc(ranked, func(a, b domain.TopItem) int {
		if a.Qty != b.Qty {
			if a.Qty > b.Qty {
				return -1
			}
			return 1
		}
		if a.AmountCents != b.AmountCents {
			if a.AmountCents > b.AmountCents {
				return -1
			}
			return 1
		}
		return 0
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	if err := e.cache.Set(ctx, key, ranked, reportTTL); err != nil {
		e.log.Warn("report cache write failed", zap.Error(err))
	}
	return ranked, nil
}

// ItemSalesDetail summarizes lifetime sales of one item. Returned quantities
// are netted out; profit needs a buying price on the item and is zero
// otherwise.
func (e *Engine) ItemSalesDetail(ctx context.Context, itemID string) (*domain.ItemSalesDetail, error) {
	item, err := e.repo.GetItemByID(ctx, itemID)
	if err != nil {
		return nil, err
	}

	bills, err := e.repo.ListBills(ctx, time.Time{}, time.Time{}, 0)
	if err != nil {
		return nil, err
	}

	detail := domain.ItemSalesDetail{ItemID: item.ID, Name: item.Name}
	for _, bill := range bills {
		for _, line := range bill.Lines {
			if line.ItemID != itemID {
				continue
			}
			sold := line.Qty - line.ReturnedQty
			detail.TotalSold += sold
			detail.RevenueCents += sold * line.SalePriceCents
			if item.BuyingPriceCents > 0 {
				detail.ProfitCents += sold * (line.SalePriceCents - item.BuyingPriceCents)
			}
		}
	}
	return &detail, nil
}
