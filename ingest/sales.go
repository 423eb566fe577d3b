/*
sales.go - Retail sales synchronizer.

Pages entity/retaildemand for the configured organization from the start
date, chasing two levels of references per document: the positions
sub-resource for line items, then each line item's assortment entry for a
display name. Sellers come from the document owner href.
*/
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/pospro/inventory-engine/moysklad"
	"github.com/pospro/inventory-engine/store/sqlite"
)

// Remote is the slice of the API client the synchronizers use.
type Remote interface {
	FetchPage(ctx context.Context, resource, filter string, limit, offset int) (*moysklad.Page, error)
	Resolve(ctx context.Context, href string, out any) error
}

// SalesSyncer replaces the sales table window with remote retail demand.
type SalesSyncer struct {
	Client       Remote
	Store        *sqlite.Store
	Organization string // organization href used in the remote filter
	PageLimit    int
	Retry        RetryPolicy
}

// Kind implements Syncer.
func (s *SalesSyncer) Kind() string { return KindSales }

// Sync implements Syncer.
func (s *SalesSyncer) Sync(ctx context.Context, start time.Time) error {
	since := startOfDay(start)
	return trackRun(ctx, s.Store, KindSales, since, func(ctx context.Context) (int, int, error) {
		return s.run(ctx, since)
	})
}

func (s *SalesSyncer) run(ctx context.Context, since string) (documents, inserted int, err error) {
	if err := s.Retry.Do(ctx, "clear sales", func() error {
		return s.Store.DeleteSalesFrom(ctx, since)
	}); err != nil {
		return 0, 0, err
	}
	log.Printf("[SalesSync] Cleared records from %s", since)

	filter := fmt.Sprintf("organization=%s;moment>=%s", s.Organization, since)
	limit := s.PageLimit
	offset := 0

	for {
		page, err := s.Client.FetchPage(ctx, "entity/retaildemand", filter, limit, offset)
		if err != nil {
			return documents, inserted, err
		}

		for _, raw := range page.Rows {
			var doc moysklad.Demand
			if err := json.Unmarshal(raw, &doc); err != nil {
				return documents, inserted, fmt.Errorf("decode demand row: %w", err)
			}

			rows, err := s.collectRows(ctx, doc)
			if err != nil {
				return documents, inserted, err
			}

			if err := s.Retry.Do(ctx, "save sales document "+doc.Name, func() error {
				n, saveErr := s.Store.SaveSales(ctx, rows)
				if saveErr == nil {
					inserted += n
				}
				return saveErr
			}); err != nil {
				return documents, inserted, err
			}
			documents++
		}

		if !page.HasMore {
			break
		}
		offset += limit
	}

	log.Printf("[SalesSync] Done: %d documents, %d rows inserted since %s", documents, inserted, since)
	return documents, inserted, nil
}

// collectRows flattens one demand document into storable line items.
func (s *SalesSyncer) collectRows(ctx context.Context, doc moysklad.Demand) ([]sqlite.SaleRow, error) {
	date := moysklad.StripMillis(doc.Moment)
	seller := s.resolveSeller(ctx, doc)

	positions, err := resolvePositions(ctx, s.Client, doc.Positions)
	if err != nil {
		return nil, err
	}

	rows := make([]sqlite.SaleRow, 0, len(positions))
	for _, p := range positions {
		rows = append(rows, sqlite.SaleRow{
			DocumentNumber: doc.Name,
			Date:           date,
			Seller:         seller,
			Product:        resolveProductName(ctx, s.Client, p.Assortment),
			Quantity:       toQuantity(p.Quantity),
			Price:          toPrice(p.Price),
		})
	}
	return rows, nil
}

func (s *SalesSyncer) resolveSeller(ctx context.Context, doc moysklad.Demand) string {
	if doc.Owner == nil || doc.Owner.Meta.Href == "" {
		return UnknownSeller
	}
	var emp moysklad.Employee
	if err := s.Client.Resolve(ctx, doc.Owner.Meta.Href, &emp); err != nil {
		log.Printf("[SalesSync] Failed to resolve seller for %s: %v", doc.Name, err)
		return UnknownSeller
	}
	if emp.Name == "" {
		return UnknownSeller
	}
	return emp.Name
}

// resolvePositions fetches a document's line items. A missing reference or
// a failed fetch yields an empty list: the document is recorded without
// positions rather than aborting the pass.
func resolvePositions(ctx context.Context, client Remote, ref *moysklad.MetaRef) ([]moysklad.Position, error) {
	if ref == nil || ref.Meta.Href == "" {
		return nil, nil
	}
	var resp struct {
		Rows []moysklad.Position `json:"rows"`
	}
	if err := client.Resolve(ctx, ref.Meta.Href, &resp); err != nil {
		log.Printf("[Sync] Failed to resolve positions %s: %v", ref.Meta.Href, err)
		return nil, nil
	}
	return resp.Rows, nil
}

// resolveProductName looks up a line item's catalog entry. Absence or
// failure substitutes the sentinel and continues.
func resolveProductName(ctx context.Context, client Remote, ref *moysklad.MetaRef) string {
	if ref == nil || ref.Meta.Href == "" {
		return UnknownProduct
	}
	var a moysklad.Assortment
	if err := client.Resolve(ctx, ref.Meta.Href, &a); err != nil {
		log.Printf("[Sync] Failed to resolve assortment %s: %v", ref.Meta.Href, err)
		return UnknownProduct
	}
	if a.Name == "" {
		return UnknownProduct
	}
	return a.Name
}
