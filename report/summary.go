/*
Package report computes the read-side views: monthly summaries for the
dashboard and per-product history snapshots for the forecasting consumer.

Reads are not guarded against a concurrent resync; a summary computed
mid-replacement may see a partially rebuilt window. Accepted - the next
request sees the finished state.
*/
package report

import (
	"context"
	"sort"

	"github.com/pospro/inventory-engine/store/sqlite"
)

// MonthSummary is one row of the monthly dashboard feed.
type MonthSummary struct {
	Month        string `json:"month"`       // "2006-01"
	SKUCount     int    `json:"sku_count"`   // distinct stocked-or-received SKUs
	SoldSKUCount int64  `json:"sold_sku_count"`
	Revenue      int64  `json:"total_revenue"`
}

// Service answers aggregate queries over the fact tables.
type Service struct {
	Store *sqlite.Store
}

// MonthlySummary returns one row per month present in stock or receipt
// data, ordered by month.
//
// The SKU count unions stock product *codes* with receipt product *names*
// as opaque strings. The two identifier spaces overlap imperfectly and the
// union can overcount; downstream consumers rely on the current numbers,
// so the union is kept as-is.
func (s *Service) MonthlySummary(ctx context.Context) ([]MonthSummary, error) {
	stockCodes, err := s.Store.MonthlyStockCodes(ctx)
	if err != nil {
		return nil, err
	}
	incomingNames, err := s.Store.MonthlyIncomingProducts(ctx)
	if err != nil {
		return nil, err
	}
	sales, err := s.Store.MonthlySales(ctx)
	if err != nil {
		return nil, err
	}

	skus := make(map[string]map[string]struct{})
	add := func(month, id string) {
		if skus[month] == nil {
			skus[month] = make(map[string]struct{})
		}
		skus[month][id] = struct{}{}
	}
	for _, mv := range stockCodes {
		add(mv.Month, mv.Value)
	}
	for _, mv := range incomingNames {
		add(mv.Month, mv.Value)
	}

	salesByMonth := make(map[string]sqlite.MonthSales, len(sales))
	for _, ms := range sales {
		salesByMonth[ms.Month] = ms
	}

	out := make([]MonthSummary, 0, len(skus))
	for month, ids := range skus {
		row := MonthSummary{Month: month, SKUCount: len(ids)}
		if ms, ok := salesByMonth[month]; ok {
			row.SoldSKUCount = ms.SoldSKUs
			row.Revenue = ms.Revenue
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month < out[j].Month })
	return out, nil
}
