/*
ingest_test.go - Unit tests for the synchronizers

Tests for:
- Idempotence: a second identical sync leaves the store unchanged
- Range replacement: stale local rows in the window do not survive
- Deduplication on the natural key
- Quantity/price normalization (string quantities, minor-unit prices)
- Sentinel substitution for unresolvable references
- Pagination termination on an exact page-size multiple
- Stock day iteration and the positive-quantity filter
- Retry policy bounds
*/
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pospro/inventory-engine/moysklad"
	"github.com/pospro/inventory-engine/store/sqlite"
)

// =============================================================================
// FAKE REMOTE
// =============================================================================

// fakeRemote serves canned listing pages and resolvable hrefs.
type fakeRemote struct {
	pages      map[string][]any       // resource -> all rows, paged by FetchPage
	resolved   map[string]any         // href -> document
	fetchCalls []string               // resource+offset, for pagination assertions
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{pages: map[string][]any{}, resolved: map[string]any{}}
}

func (f *fakeRemote) FetchPage(ctx context.Context, resource, filter string, limit, offset int) (*moysklad.Page, error) {
	f.fetchCalls = append(f.fetchCalls, fmt.Sprintf("%s@%d", resource, offset))
	all := f.pages[resource]
	var rows []json.RawMessage
	for i := offset; i < len(all) && len(rows) < limit; i++ {
		raw, err := json.Marshal(all[i])
		if err != nil {
			return nil, err
		}
		rows = append(rows, raw)
	}
	return &moysklad.Page{Rows: rows, HasMore: len(rows) == limit}, nil
}

func (f *fakeRemote) Resolve(ctx context.Context, href string, out any) error {
	doc, ok := f.resolved[href]
	if !ok {
		return &moysklad.TransportError{URL: href, StatusCode: 404, Err: errors.New("not found")}
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// demand builds a minimal retaildemand document wired into the fake.
func (f *fakeRemote) demand(name, moment, sellerName string, positions []map[string]any) map[string]any {
	posHref := "https://fake/positions/" + name
	f.resolved[posHref] = map[string]any{"rows": positions}

	doc := map[string]any{
		"name":      name,
		"moment":    moment,
		"positions": map[string]any{"meta": map[string]any{"href": posHref}},
	}
	if sellerName != "" {
		ownerHref := "https://fake/employee/" + name
		f.resolved[ownerHref] = map[string]any{"name": sellerName}
		doc["owner"] = map[string]any{"meta": map[string]any{"href": ownerHref}}
	}
	return doc
}

// position builds a line item whose assortment resolves to productName.
func (f *fakeRemote) position(productName string, quantity, price any) map[string]any {
	href := "https://fake/assortment/" + fmt.Sprintf("%v-%v", productName, price)
	f.resolved[href] = map[string]any{"name": productName}
	return map[string]any{
		"quantity":   quantity,
		"price":      price,
		"assortment": map[string]any{"meta": map[string]any{"href": href}},
	}
}

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 2, Delay: time.Millisecond}
}

// =============================================================================
// SALES SYNC
// =============================================================================

func TestSalesSync_NormalizesAndStores(t *testing.T) {
	// GIVEN: One document with a string quantity and a minor-unit price
	remote := newFakeRemote()
	remote.pages["entity/retaildemand"] = []any{
		remote.demand("00042", "2024-06-10 12:30:00.000", "Aigerim", []map[string]any{
			remote.position("Zebra Scanner", "5", 150000),
		}),
	}
	store := newTestStore(t)
	s := &SalesSyncer{Client: remote, Store: store, Organization: "org", PageLimit: 1000, Retry: fastRetry()}

	// WHEN: Syncing from June 1st
	err := s.Sync(context.Background(), time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	// THEN: The row is normalized to integers and the moment loses its millis
	rows, err := store.ListSales(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, sqlite.SaleRow{
		DocumentNumber: "00042",
		Date:           "2024-06-10 12:30:00",
		Seller:         "Aigerim",
		Product:        "Zebra Scanner",
		Quantity:       5,
		Price:          1500,
	}, rows[0])
}

func TestSalesSync_Idempotent(t *testing.T) {
	// GIVEN: An unchanged remote data set
	remote := newFakeRemote()
	remote.pages["entity/retaildemand"] = []any{
		remote.demand("00001", "2024-06-10 12:30:00.000", "A", []map[string]any{
			remote.position("Scanner", 2, 10000),
			remote.position("Printer", 1, 20000),
		}),
	}
	store := newTestStore(t)
	s := &SalesSyncer{Client: remote, Store: store, Organization: "org", PageLimit: 1000, Retry: fastRetry()}
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	// WHEN: Syncing twice in succession
	require.NoError(t, s.Sync(context.Background(), start))
	first, err := store.ListSales(context.Background())
	require.NoError(t, err)

	require.NoError(t, s.Sync(context.Background(), start))
	second, err := store.ListSales(context.Background())
	require.NoError(t, err)

	// THEN: The store state is identical
	assert.Equal(t, first, second)
	assert.Len(t, second, 2)
}

func TestSalesSync_ReplacesTheWindow(t *testing.T) {
	// GIVEN: A stale local row inside the sync window and one before it
	store := newTestStore(t)
	_, err := store.SaveSales(context.Background(), []sqlite.SaleRow{
		{DocumentNumber: "stale", Date: "2024-06-05 10:00:00", Product: "Old", Quantity: 1, Price: 1},
		{DocumentNumber: "keep", Date: "2024-05-20 10:00:00", Product: "Old", Quantity: 1, Price: 1},
	})
	require.NoError(t, err)

	remote := newFakeRemote()
	remote.pages["entity/retaildemand"] = []any{
		remote.demand("fresh", "2024-06-10 12:00:00.000", "A", []map[string]any{
			remote.position("New", 1, 100),
		}),
	}
	s := &SalesSyncer{Client: remote, Store: store, Organization: "org", PageLimit: 1000, Retry: fastRetry()}

	// WHEN: Resyncing from June 1st
	require.NoError(t, s.Sync(context.Background(), time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)))

	// THEN: Every surviving June row comes from the fetch; May is untouched
	rows, err := store.ListSales(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "keep", rows[0].DocumentNumber)
	assert.Equal(t, "fresh", rows[1].DocumentNumber)
}

func TestSalesSync_DeduplicatesRemoteDocuments(t *testing.T) {
	// GIVEN: Two remote documents mapping to the same natural key
	remote := newFakeRemote()
	dup1 := remote.demand("00007", "2024-06-10 12:30:00.000", "A", []map[string]any{
		remote.position("Scanner", 1, 100),
	})
	dup2 := remote.demand("00007", "2024-06-10 12:30:00.000", "B", []map[string]any{
		remote.position("Scanner", 3, 100),
	})
	remote.pages["entity/retaildemand"] = []any{dup1, dup2}

	store := newTestStore(t)
	s := &SalesSyncer{Client: remote, Store: store, Organization: "org", PageLimit: 1000, Retry: fastRetry()}
	require.NoError(t, s.Sync(context.Background(), time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)))

	// THEN: Exactly one stored row, from the first document
	rows, err := store.ListSales(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 1, rows[0].Quantity)
}

func TestSalesSync_SentinelsForMissingReferences(t *testing.T) {
	// GIVEN: A document without an owner and a position whose assortment
	// href resolves to nothing
	remote := newFakeRemote()
	doc := remote.demand("00009", "2024-06-10 12:30:00.000", "", []map[string]any{
		{
			"quantity":   1,
			"price":      5000,
			"assortment": map[string]any{"meta": map[string]any{"href": "https://fake/missing"}},
		},
	})
	remote.pages["entity/retaildemand"] = []any{doc}

	store := newTestStore(t)
	s := &SalesSyncer{Client: remote, Store: store, Organization: "org", PageLimit: 1000, Retry: fastRetry()}
	require.NoError(t, s.Sync(context.Background(), time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)),
		"Missing references must not abort the pass")

	rows, err := store.ListSales(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, UnknownProduct, rows[0].Product)
	assert.Equal(t, UnknownSeller, rows[0].Seller)
}

func TestSalesSync_PaginationExactMultiple(t *testing.T) {
	// GIVEN: Exactly 2 documents with a page limit of 2
	remote := newFakeRemote()
	remote.pages["entity/retaildemand"] = []any{
		remote.demand("1", "2024-06-10 10:00:00.000", "A", nil),
		remote.demand("2", "2024-06-10 11:00:00.000", "A", nil),
	}
	store := newTestStore(t)
	s := &SalesSyncer{Client: remote, Store: store, Organization: "org", PageLimit: 2, Retry: fastRetry()}

	// WHEN: Syncing
	require.NoError(t, s.Sync(context.Background(), time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)))

	// THEN: A second request was issued and came back empty
	assert.Equal(t, []string{"entity/retaildemand@0", "entity/retaildemand@2"}, remote.fetchCalls)
}

func TestSalesSync_RecordsRun(t *testing.T) {
	remote := newFakeRemote()
	remote.pages["entity/retaildemand"] = []any{
		remote.demand("1", "2024-06-10 10:00:00.000", "A", []map[string]any{
			remote.position("Scanner", 1, 100),
		}),
	}
	store := newTestStore(t)
	s := &SalesSyncer{Client: remote, Store: store, Organization: "org", PageLimit: 1000, Retry: fastRetry()}
	require.NoError(t, s.Sync(context.Background(), time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)))

	runs, err := store.ListSyncRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, KindSales, runs[0].Kind)
	assert.Equal(t, "completed", runs[0].Status)
	assert.EqualValues(t, 1, runs[0].Documents)
	assert.EqualValues(t, 1, runs[0].Rows)
	assert.NotNil(t, runs[0].CompletedAt)
}

// =============================================================================
// INCOMING SYNC
// =============================================================================

func TestIncomingSync_SupplierFromAgent(t *testing.T) {
	remote := newFakeRemote()
	posHref := "https://fake/positions/p1"
	remote.resolved[posHref] = map[string]any{"rows": []map[string]any{
		remote.position("Receipt Printer", 10, 2100000),
	}}
	remote.pages["entity/supply"] = []any{map[string]any{
		"name":      "PR-001",
		"moment":    "2024-06-03 09:00:00.000",
		"agent":     map[string]any{"name": "PosPro Supplies"},
		"positions": map[string]any{"meta": map[string]any{"href": posHref}},
	}}

	store := newTestStore(t)
	s := &IncomingSyncer{Client: remote, Store: store, Organization: "org", PageLimit: 1000, Retry: fastRetry()}
	require.NoError(t, s.Sync(context.Background(), time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)))

	rows, err := store.ListIncoming(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, sqlite.IncomingRow{
		DocumentNumber: "PR-001",
		Date:           "2024-06-03 09:00:00",
		Supplier:       "PosPro Supplies",
		Product:        "Receipt Printer",
		Quantity:       10,
		Price:          21000,
	}, rows[0])
}

func TestIncomingSync_MissingAgentGetsSentinel(t *testing.T) {
	// GIVEN: One document without an agent and one with no positions at all
	remote := newFakeRemote()
	posHref := "https://fake/positions/p2"
	remote.resolved[posHref] = map[string]any{"rows": []map[string]any{
		remote.position("Cash Drawer", 2, 50000),
	}}
	remote.pages["entity/supply"] = []any{
		map[string]any{
			"name":      "PR-002",
			"moment":    "2024-06-04 09:00:00.000",
			"positions": map[string]any{"meta": map[string]any{"href": posHref}},
		},
		map[string]any{
			"name":   "PR-003",
			"moment": "2024-06-05 09:00:00.000",
		},
	}

	store := newTestStore(t)
	s := &IncomingSyncer{Client: remote, Store: store, Organization: "org", PageLimit: 1000, Retry: fastRetry()}
	require.NoError(t, s.Sync(context.Background(), time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)))

	rows, err := store.ListIncoming(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1, "A document with no positions stores nothing")
	assert.Equal(t, UnknownSupplier, rows[0].Supplier)

	runs, err := store.ListSyncRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.EqualValues(t, 2, runs[0].Documents)
}

// =============================================================================
// STOCK SYNC
// =============================================================================

func TestStockSync_OneRowPerProductPerDay(t *testing.T) {
	// GIVEN: A three-day window ending "today" with one positive and one
	// zero-stock product
	remote := newFakeRemote()
	remote.pages["report/stock/all"] = []any{
		map[string]any{"name": "Scanner", "code": "SC-1", "stock": 5},
		map[string]any{"name": "Fridge", "code": "FR-1", "stock": 0},
	}
	store := newTestStore(t)
	today := time.Date(2024, 6, 3, 15, 0, 0, 0, time.UTC)
	s := &StockSyncer{
		Client: remote, Store: store,
		StoreRefs: []string{"https://fake/store/1"},
		PageLimit: 1000,
		Retry:     fastRetry(),
		Now:       func() time.Time { return today },
	}

	// WHEN: Syncing from June 1st
	require.NoError(t, s.Sync(context.Background(), time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)))

	// THEN: One row per day for the positive product only
	rows, err := store.ListStock(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 3)
	dates := []string{rows[0].AsOfDate, rows[1].AsOfDate, rows[2].AsOfDate}
	assert.Equal(t, []string{"2024-06-01", "2024-06-02", "2024-06-03"}, dates)
	for _, r := range rows {
		assert.Equal(t, "SC-1", r.ProductCode)
		assert.EqualValues(t, 5, r.StockQuantity)
	}
}

func TestStockSync_CrossesMonthBoundary(t *testing.T) {
	remote := newFakeRemote()
	remote.pages["report/stock/all"] = []any{
		map[string]any{"name": "Scanner", "code": "SC-1", "stock": 1},
	}
	store := newTestStore(t)
	today := time.Date(2024, 7, 2, 9, 0, 0, 0, time.UTC)
	s := &StockSyncer{
		Client: remote, Store: store,
		StoreRefs: []string{"https://fake/store/1"},
		PageLimit: 1000,
		Retry:     fastRetry(),
		Now:       func() time.Time { return today },
	}

	require.NoError(t, s.Sync(context.Background(), time.Date(2024, 6, 29, 0, 0, 0, 0, time.UTC)))

	rows, err := store.ListStock(context.Background())
	require.NoError(t, err)
	// June 29, 30 then July 1, 2
	require.Len(t, rows, 4)
	assert.Equal(t, "2024-06-29", rows[0].AsOfDate)
	assert.Equal(t, "2024-07-02", rows[3].AsOfDate)
}

// =============================================================================
// RETRY POLICY
// =============================================================================

func TestRetryPolicy_SucceedsWithinBudget(t *testing.T) {
	calls := 0
	p := RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond}
	err := p.Do(context.Background(), "op", func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicy_ExhaustionSurfacesLastError(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 2, Delay: time.Millisecond}
	boom := errors.New("disk I/O error")
	err := p.Do(context.Background(), "save", func() error { return boom })
	require.Error(t, err)
	assert.ErrorIs(t, err, boom, "The last error must be wrapped, not swallowed")
}

// =============================================================================
// NORMALIZATION
// =============================================================================

func TestNormalization(t *testing.T) {
	assert.EqualValues(t, 5, toQuantity(json.Number("5")))
	assert.EqualValues(t, 5, toQuantity(json.Number("5.0")))
	assert.EqualValues(t, 0, toQuantity(json.Number("")))
	assert.EqualValues(t, 1500, toPrice(json.Number("150000")))
	assert.EqualValues(t, 1500, toPrice(json.Number("150050")), "Minor-unit division truncates")
}
