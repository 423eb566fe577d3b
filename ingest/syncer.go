/*
Package ingest pulls remote inventory data into the local store.

PURPOSE:
  One synchronizer per data kind (sales, incoming goods, stock levels).
  Each implements the same contract: wipe the local date range, re-fetch it
  from the authoritative remote source page by page, and reinsert with
  natural-key deduplication, so that after a pass the local window mirrors
  the remote state exactly - never a superset.

ERROR POLICY:
  Remote failures (moysklad.TransportError) abort the pass immediately;
  the next scheduled run starts over. Storage failures go through the
  bounded RetryPolicy - lock contention from the HTTP path writing
  concurrently is expected and must not drop a write. A missing catalog or
  owner reference never aborts anything; the row is stored with a sentinel
  name instead.

AUDIT:
  Every pass is recorded in sync_runs (running -> completed/failed with
  document and row counts), which is how startup and scheduled runs stay
  observable from the health endpoint.

SEE ALSO:
  - sales.go, incoming.go, stock.go: the three synchronizers
  - retry.go: storage retry policy
  - schedule/: what drives Sync
*/
package ingest

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/pospro/inventory-engine/store/sqlite"
)

// Data kinds as recorded in sync_runs and used by the manual trigger API.
const (
	KindSales    = "sales"
	KindIncoming = "prihod"
	KindStock    = "stock"
)

// Sentinel names substituted when a reference cannot be resolved.
const (
	UnknownProduct  = "Unknown product"
	UnknownSeller   = "Unknown seller"
	UnknownSupplier = "Unknown supplier"
)

// Syncer is a full synchronization pass for one data kind.
type Syncer interface {
	Kind() string
	// Sync replaces all locally stored records of this kind dated on or
	// after start with freshly fetched remote state. It returns only after
	// every page has been processed.
	Sync(ctx context.Context, start time.Time) error
}

// trackRun wraps a sync pass with sync_runs bookkeeping. Audit write
// failures are logged, not propagated: the sync itself matters more than
// its paper trail.
func trackRun(ctx context.Context, store *sqlite.Store, kind, startDate string,
	fn func(ctx context.Context) (documents, rows int, err error)) error {

	run := sqlite.SyncRun{
		ID:        uuid.NewString(),
		Kind:      kind,
		StartDate: startDate,
		Status:    "running",
		StartedAt: time.Now().UTC(),
	}
	if err := store.SaveSyncRun(ctx, run); err != nil {
		log.Printf("[Sync] Failed to record %s run start: %v", kind, err)
	}

	documents, rows, err := fn(ctx)

	completed := time.Now().UTC()
	run.CompletedAt = &completed
	run.Documents = int64(documents)
	run.Rows = int64(rows)
	if err != nil {
		run.Status = "failed"
		run.Error = err.Error()
	} else {
		run.Status = "completed"
	}
	if saveErr := store.SaveSyncRun(ctx, run); saveErr != nil {
		log.Printf("[Sync] Failed to record %s run result: %v", kind, saveErr)
	}
	return err
}

// startOfDay renders the "date >= X" boundary used by the range delete and
// the remote moment filter.
func startOfDay(start time.Time) string {
	return start.Format("2006-01-02") + " 00:00:00"
}
