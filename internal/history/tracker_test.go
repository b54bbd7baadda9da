package history

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjannette/trahn-gridzone/internal/models"
)

var t0 = time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC)

func entry(id int64, status models.OrderStatus) models.HistoryEntry {
	return models.HistoryEntry{
		Timestamp: t0, OrderID: id, Action: models.ActionBuy,
		Status: status, Kind: models.KindEntry, Price: 50, PositionAfter: 0,
	}
}

func TestTracker_DefaultAllowsEverything(t *testing.T) {
	tr := NewTracker()
	for _, s := range models.AllStatuses() {
		assert.True(t, tr.Allows(s))
		assert.True(t, tr.Record(entry(1, s)))
	}
	assert.Equal(t, 5, tr.Len())
}

func TestTracker_AppendOnlyOrderAndCount(t *testing.T) {
	tr := NewTracker(models.StatusCompleted, models.StatusCanceled)

	statuses := []models.OrderStatus{
		models.StatusAccepted, models.StatusCompleted, models.StatusCanceled,
		models.StatusCompleted, models.StatusCreated, models.StatusRejected, models.StatusCompleted,
	}
	want := 0
	var ids []int64
	for i, s := range statuses {
		recorded := tr.Record(entry(int64(i+1), s))
		if tr.Allows(s) {
			want++
			ids = append(ids, int64(i+1))
		}
		assert.Equal(t, tr.Allows(s), recorded)
	}
	require.Equal(t, want, tr.Len())

	got := tr.Entries()
	for i, e := range got {
		assert.Equal(t, ids[i], e.OrderID)
	}

	// Entries is a copy
	got[0].OrderID = 999
	assert.NotEqual(t, int64(999), tr.Entries()[0].OrderID)
}

func TestTracker_DuplicatesAreKept(t *testing.T) {
	tr := NewTracker()
	tr.Record(entry(7, models.StatusCanceled))
	tr.Record(entry(7, models.StatusCanceled))
	assert.Equal(t, 2, tr.Len())
}

func TestWriteCSV(t *testing.T) {
	tr := NewTracker()
	parent := int64(1)
	tr.Record(entry(1, models.StatusCompleted))
	tr.Record(models.HistoryEntry{
		Timestamp: t0.Add(time.Hour), OrderID: 3, ParentOrderID: &parent,
		Action: models.ActionSell, Status: models.StatusCompleted, Kind: models.KindTakeProfit,
		Price: 70.25, PositionAfter: 0.12345,
	})

	var buf bytes.Buffer
	require.NoError(t, tr.WriteCSV(&buf))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "id,time,order_ref,parent_order_ref,action,status,order_type,price,position", lines[0])
	assert.Equal(t, "0,2024-01-02 15:04:05,1,,BUY,EXECUTED,ENTRY,50,0.000", lines[1])
	assert.Equal(t, "1,2024-01-02 16:04:05,3,1,SELL,EXECUTED,TAKE_PROFIT,70.25,0.123", lines[2])
}

func TestExport(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < 4; i++ {
		tr.Record(entry(int64(i+1), models.StatusAccepted))
	}

	path := filepath.Join(t.TempDir(), "nested", "history.csv")
	require.NoError(t, tr.Export(path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, Header, rows[0])
	assert.Equal(t, "3", rows[4][0])
}

func TestExport_FailureIsReturned(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	err := NewTracker().Export(filepath.Join(blocker, "history.csv"))
	assert.Error(t, err)
}
