/*
stock.go - Daily stock-level synchronizer.

The remote stock report is point-in-time only, so producing one row per
(product, calendar day) means querying each day separately: month by month
from the start date, day by day within each month, stopping at today. Days
that do not exist in a month are skipped defensively. Only positive stock
levels are persisted.
*/
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/pospro/inventory-engine/moysklad"
	"github.com/pospro/inventory-engine/store/sqlite"
)

// StockSyncer replaces the stock_data window with day-by-day report rows.
type StockSyncer struct {
	Client    Remote
	Store     *sqlite.Store
	StoreRefs []string // warehouse hrefs; the report aggregates across them
	PageLimit int
	Retry     RetryPolicy

	// Now is the clock used to bound the day walk; nil means time.Now.
	Now func() time.Time
}

// Kind implements Syncer.
func (s *StockSyncer) Kind() string { return KindStock }

// Sync implements Syncer.
func (s *StockSyncer) Sync(ctx context.Context, start time.Time) error {
	since := start.Format("2006-01-02")
	return trackRun(ctx, s.Store, KindStock, since, func(ctx context.Context) (int, int, error) {
		return s.run(ctx, start)
	})
}

func (s *StockSyncer) run(ctx context.Context, start time.Time) (days, inserted int, err error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	today := now()

	since := start.Format("2006-01-02")
	if err := s.Retry.Do(ctx, "clear stock", func() error {
		return s.Store.DeleteStockFrom(ctx, since)
	}); err != nil {
		return 0, 0, err
	}
	log.Printf("[StockSync] Cleared records from %s", since)

	storeFilter := s.storeFilter()

	for cursor := start; !afterMonth(cursor, today); cursor = nextMonth(cursor) {
		firstDay := 1
		if cursor.Year() == start.Year() && cursor.Month() == start.Month() {
			firstDay = start.Day()
		}
		endDay := daysInMonth(cursor.Year(), cursor.Month())
		if cursor.Year() == today.Year() && cursor.Month() == today.Month() && today.Day() < endDay {
			endDay = today.Day()
		}

		for day := firstDay; day <= endDay; day++ {
			d := time.Date(cursor.Year(), cursor.Month(), day, 0, 0, 0, 0, time.UTC)
			if d.Month() != cursor.Month() {
				continue // nonexistent calendar day
			}
			n, err := s.syncDay(ctx, d.Format("2006-01-02"), storeFilter)
			if err != nil {
				return days, inserted, err
			}
			days++
			inserted += n
		}
	}

	log.Printf("[StockSync] Done: %d days, %d rows inserted since %s", days, inserted, since)
	return days, inserted, nil
}

// syncDay pages the stock report for one date and persists positive levels.
func (s *StockSyncer) syncDay(ctx context.Context, day, storeFilter string) (int, error) {
	filter := fmt.Sprintf("moment=%s;%s", day, storeFilter)
	limit := s.PageLimit
	offset := 0
	inserted := 0

	for {
		page, err := s.Client.FetchPage(ctx, "report/stock/all", filter, limit, offset)
		if err != nil {
			return inserted, err
		}

		rows := make([]sqlite.StockRow, 0, len(page.Rows))
		for _, raw := range page.Rows {
			var sr moysklad.StockRow
			if err := json.Unmarshal(raw, &sr); err != nil {
				return inserted, fmt.Errorf("decode stock row: %w", err)
			}
			quantity := toQuantity(sr.Stock)
			if quantity <= 0 {
				continue
			}
			rows = append(rows, sqlite.StockRow{
				ProductName:   sr.Name,
				ProductCode:   sr.Code,
				StockQuantity: quantity,
				AsOfDate:      day,
			})
		}

		if len(rows) > 0 {
			if err := s.Retry.Do(ctx, "save stock for "+day, func() error {
				n, saveErr := s.Store.SaveStock(ctx, rows)
				if saveErr == nil {
					inserted += n
				}
				return saveErr
			}); err != nil {
				return inserted, err
			}
		}

		if !page.HasMore {
			break
		}
		offset += limit
	}
	return inserted, nil
}

func (s *StockSyncer) storeFilter() string {
	parts := make([]string, 0, len(s.StoreRefs))
	for _, ref := range s.StoreRefs {
		parts = append(parts, "store="+ref)
	}
	return strings.Join(parts, ";")
}

// afterMonth reports whether a's month is strictly after b's.
func afterMonth(a, b time.Time) bool {
	return a.Year() > b.Year() || (a.Year() == b.Year() && a.Month() > b.Month())
}

func nextMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
