/*
snapshot.go - Per-product history snapshots.

One JSON document per product with positive stock, regenerated wholesale on
demand: the directory is wiped, then every document is rebuilt from the
fact tables. Filenames are the sanitized product name; document text keeps
UTF-8 intact so non-ASCII product names survive round-trips.

REPLAY SEMANTICS (compatibility-locked):
  History replays receipts and sales in chronological order from the
  horizon date, carrying a running level that STARTS at the product's
  current stock. Receipt entries record the level before adding their
  quantity; sale entries record it after subtracting. The values therefore
  equal true historical stock only when the horizon-date level matched the
  current one. The forecasting consumer was trained on exactly these
  numbers - do not reconcile them backward from current stock.
*/
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pospro/inventory-engine/store/sqlite"
)

// Snapshot is one product's serialized history document.
type Snapshot struct {
	ProductName string         `json:"product_name"`
	Stock       int64          `json:"stock"`
	History     []HistoryEntry `json:"history"`
}

// HistoryEntry is one replayed receipt or sale.
type HistoryEntry struct {
	Type       string `json:"type"` // "prihod" or "sales"
	Date       string `json:"date"`
	Quantity   int64  `json:"quantity"`
	Price      int64  `json:"price"`
	StockAfter int64  `json:"stock_after"`
}

// Builder regenerates and serves the snapshot directory.
type Builder struct {
	Store   *sqlite.Store
	Dir     string
	Horizon string // "2006-01-02"; history replays from here
}

var unsafeFilenameChars = regexp.MustCompile(`[<>:"/\\|?*]`)

// SanitizeFilename replaces characters unsafe in filenames with "_".
func SanitizeFilename(name string) string {
	return unsafeFilenameChars.ReplaceAllString(name, "_")
}

// Rebuild wipes the snapshot directory and regenerates every document.
// Returns the number of snapshots written.
func (b *Builder) Rebuild(ctx context.Context) (int, error) {
	if err := os.MkdirAll(b.Dir, 0o755); err != nil {
		return 0, fmt.Errorf("create snapshot dir: %w", err)
	}
	if err := b.clear(); err != nil {
		return 0, err
	}

	products, err := b.Store.ProductsInStock(ctx)
	if err != nil {
		return 0, err
	}

	written := 0
	for _, p := range products {
		snap, err := b.build(ctx, p)
		if err != nil {
			return written, err
		}
		if err := b.write(snap); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

// build assembles one product's snapshot via forward replay.
func (b *Builder) build(ctx context.Context, p sqlite.CurrentStock) (*Snapshot, error) {
	txs, err := b.Store.ProductHistory(ctx, p.ProductName, b.Horizon)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		ProductName: p.ProductName,
		Stock:       p.StockQuantity,
		History:     make([]HistoryEntry, 0, len(txs)),
	}

	current := p.StockQuantity
	for _, tx := range txs {
		entry := HistoryEntry{
			Type:     tx.Type,
			Date:     tx.Date,
			Quantity: tx.Quantity,
			Price:    tx.Price,
		}
		if tx.Type == "prihod" {
			entry.StockAfter = current
			current += tx.Quantity
		} else {
			entry.StockAfter = current - tx.Quantity
			current -= tx.Quantity
		}
		snap.History = append(snap.History, entry)
	}
	return snap, nil
}

func (b *Builder) write(snap *Snapshot) error {
	path := filepath.Join(b.Dir, SanitizeFilename(snap.ProductName)+".json")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create snapshot %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("encode snapshot %s: %w", path, err)
	}
	return nil
}

// clear removes every regular file in the snapshot directory.
func (b *Builder) clear() error {
	entries, err := os.ReadDir(b.Dir)
	if err != nil {
		return fmt.Errorf("read snapshot dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(b.Dir, e.Name())); err != nil {
			return fmt.Errorf("remove stale snapshot: %w", err)
		}
	}
	return nil
}

// List returns the filenames currently in the snapshot directory.
func (b *Builder) List() ([]string, error) {
	entries, err := os.ReadDir(b.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("read snapshot dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// ErrNotFound is returned by Read for unknown or invalid snapshot names.
var ErrNotFound = fmt.Errorf("snapshot not found")

// Read returns the raw bytes of one snapshot document. Names containing
// path separators are rejected outright.
func (b *Builder) Read(name string) ([]byte, error) {
	if name == "" || name != filepath.Base(name) || strings.Contains(name, "..") {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(filepath.Join(b.Dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}
