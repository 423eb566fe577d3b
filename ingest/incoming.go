/*
incoming.go - Goods-receipt (prihod) synchronizer.

Same document flattening as sales against entity/supply; the supplier name
is inlined on the document's agent rather than behind an href.
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

// IncomingSyncer replaces the prihod table window with remote supplies.
type IncomingSyncer struct {
	Client       Remote
	Store        *sqlite.Store
	Organization string
	PageLimit    int
	Retry        RetryPolicy
}

// Kind implements Syncer.
func (s *IncomingSyncer) Kind() string { return KindIncoming }

// Sync implements Syncer.
func (s *IncomingSyncer) Sync(ctx context.Context, start time.Time) error {
	since := startOfDay(start)
	return trackRun(ctx, s.Store, KindIncoming, since, func(ctx context.Context) (int, int, error) {
		return s.run(ctx, since)
	})
}

func (s *IncomingSyncer) run(ctx context.Context, since string) (documents, inserted int, err error) {
	if err := s.Retry.Do(ctx, "clear prihod", func() error {
		return s.Store.DeleteIncomingFrom(ctx, since)
	}); err != nil {
		return 0, 0, err
	}
	log.Printf("[IncomingSync] Cleared records from %s", since)

	filter := fmt.Sprintf("organization=%s;moment>=%s", s.Organization, since)
	limit := s.PageLimit
	offset := 0

	for {
		page, err := s.Client.FetchPage(ctx, "entity/supply", filter, limit, offset)
		if err != nil {
			return documents, inserted, err
		}

		for _, raw := range page.Rows {
			var doc moysklad.Supply
			if err := json.Unmarshal(raw, &doc); err != nil {
				return documents, inserted, fmt.Errorf("decode supply row: %w", err)
			}

			rows, err := s.collectRows(ctx, doc)
			if err != nil {
				return documents, inserted, err
			}

			if err := s.Retry.Do(ctx, "save prihod document "+doc.Name, func() error {
				n, saveErr := s.Store.SaveIncoming(ctx, rows)
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

	log.Printf("[IncomingSync] Done: %d documents, %d rows inserted since %s", documents, inserted, since)
	return documents, inserted, nil
}

func (s *IncomingSyncer) collectRows(ctx context.Context, doc moysklad.Supply) ([]sqlite.IncomingRow, error) {
	date := moysklad.StripMillis(doc.Moment)

	supplier := UnknownSupplier
	if doc.Agent != nil && doc.Agent.Name != "" {
		supplier = doc.Agent.Name
	}

	positions, err := resolvePositions(ctx, s.Client, doc.Positions)
	if err != nil {
		return nil, err
	}

	rows := make([]sqlite.IncomingRow, 0, len(positions))
	for _, p := range positions {
		rows = append(rows, sqlite.IncomingRow{
			DocumentNumber: doc.Name,
			Date:           date,
			Supplier:       supplier,
			Product:        resolveProductName(ctx, s.Client, p.Assortment),
			Quantity:       toQuantity(p.Quantity),
			Price:          toPrice(p.Price),
		})
	}
	return rows, nil
}
