// Package candles loads OHLCV price streams from CSV files.
package candles

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kjannette/trahn-gridzone/internal/models"
)

// LoadCSV reads a candle file with the header
// time|timestamp, open, high, low, close, volume|tick_volume.
// Headers are case-insensitive and unknown columns are ignored. Rows with an
// unparseable time or price are skipped. The result is sorted by time.
func LoadCSV(path string) ([]models.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

func Read(r io.Reader) ([]models.Bar, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("candles: empty file")
	}
	if err != nil {
		return nil, fmt.Errorf("candles: read header: %w", err)
	}
	cols := map[string]int{}
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := column(cols, "time", "timestamp", "datetime"); !ok {
		return nil, fmt.Errorf("candles: no time column in header %v", header)
	}
	for _, c := range []string{"open", "high", "low", "close"} {
		if _, ok := cols[c]; !ok {
			return nil, fmt.Errorf("candles: missing %q column", c)
		}
	}

	var out []models.Bar
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("candles: %w", err)
		}
		get := func(keys ...string) string {
			if i, ok := column(cols, keys...); ok && i < len(rec) {
				return strings.TrimSpace(rec[i])
			}
			return ""
		}

		t, err := ParseTime(get("time", "timestamp", "datetime"))
		if err != nil {
			continue
		}
		var px [4]float64
		bad := false
		for i, k := range []string{"open", "high", "low", "close"} {
			if px[i], err = strconv.ParseFloat(get(k), 64); err != nil {
				bad = true
				break
			}
		}
		if bad {
			continue
		}
		vol, _ := strconv.ParseFloat(get("volume", "tick_volume", "vol"), 64)
		out = append(out, models.Bar{Time: t, Open: px[0], High: px[1], Low: px[2], Close: px[3], Volume: vol})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

func column(cols map[string]int, keys ...string) (int, bool) {
	for _, k := range keys {
		if i, ok := cols[k]; ok {
			return i, true
		}
	}
	return 0, false
}

var layouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTime accepts RFC3339, "2006-01-02 15:04:05", a bare date, or unix
// seconds/milliseconds. Times without a zone are UTC.
func ParseTime(s string) (time.Time, error) {
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), nil
		}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("bad time: %q", s)
}

// Filter keeps bars with start <= time <= end. A zero bound is open.
func Filter(bars []models.Bar, start, end time.Time) []models.Bar {
	out := make([]models.Bar, 0, len(bars))
	for _, b := range bars {
		if !start.IsZero() && b.Time.Before(start) {
			continue
		}
		if !end.IsZero() && b.Time.After(end) {
			continue
		}
		out = append(out, b)
	}
	return out
}

// Dedupe drops bars whose time is not after the previous one, so the stream
// is strictly increasing.
func Dedupe(bars []models.Bar) []models.Bar {
	out := bars[:0:0]
	for _, b := range bars {
		if len(out) > 0 && !b.Time.After(out[len(out)-1].Time) {
			continue
		}
		out = append(out, b)
	}
	return out
}
