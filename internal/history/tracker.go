// Package history keeps the append-only ledger of order status transitions
// and serializes it as CSV.
package history

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/kjannette/trahn-gridzone/internal/models"
)

// Header is the stable column order of the exported ledger.
var Header = []string{"id", "time", "order_ref", "parent_order_ref", "action", "status", "order_type", "price", "position"}

const TimeLayout = "2006-01-02 15:04:05"

type Tracker struct {
	mu      sync.Mutex
	allow   map[models.OrderStatus]bool
	entries []models.HistoryEntry
}

// NewTracker records the given statuses, or all of them when none are given.
func NewTracker(allow ...models.OrderStatus) *Tracker {
	if len(allow) == 0 {
		allow = models.AllStatuses()
	}
	t := &Tracker{allow: make(map[models.OrderStatus]bool, len(allow))}
	for _, s := range allow {
		t.allow[s] = true
	}
	return t
}

func (t *Tracker) Allows(s models.OrderStatus) bool {
	return t.allow[s]
}

// Record appends e when its status is allowed. Duplicates are appended again.
func (t *Tracker) Record(e models.HistoryEntry) bool {
	if !t.allow[e.Status] {
		return false
	}
	t.mu.Lock()
	t.entries = append(t.entries, e)
	t.mu.Unlock()
	return true
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Entries returns a copy of the ledger in append order.
func (t *Tracker) Entries() []models.HistoryEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.HistoryEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

func (t *Tracker) WriteCSV(w io.Writer) error {
	return WriteEntriesCSV(w, t.Entries())
}

// Export writes the whole ledger to path in one go, creating parent
// directories as needed.
func (t *Tracker) Export(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create history dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create history file: %w", err)
	}
	if err := t.WriteCSV(f); err != nil {
		f.Close()
		return fmt.Errorf("write history %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close history %s: %w", path, err)
	}
	return nil
}

// WriteEntriesCSV writes entries with Header; id is the 0-based row index.
func WriteEntriesCSV(w io.Writer, entries []models.HistoryEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for i, e := range entries {
		if err := cw.Write(Row(i, e)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func Row(id int, e models.HistoryEntry) []string {
	parent := ""
	if e.ParentOrderID != nil {
		parent = strconv.FormatInt(*e.ParentOrderID, 10)
	}
	return []string{
		strconv.Itoa(id),
		e.Timestamp.Format(TimeLayout),
		strconv.FormatInt(e.OrderID, 10),
		parent,
		string(e.Action),
		e.Status.String(),
		e.Kind.String(),
		strconv.FormatFloat(e.Price, 'f', -1, 64),
		decimal.NewFromFloat(e.PositionAfter).StringFixed(3),
	}
}
