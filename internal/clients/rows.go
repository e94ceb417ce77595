package clients

import (
	"encoding/json"
	"errors"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Row is one upstream record keyed by column name. Feeds arrive either as a
// header-row table or as an array of objects; both decode to rows.
type Row map[string]any

var errNoRows = errors.New("no usable rows")

// DecodeRows accepts both feed layouts and returns rows ordered oldest first
// by their time_tag when one is present.
func DecodeRows(body []byte) ([]Row, error) {
	var table [][]any
	if err := json.Unmarshal(body, &table); err == nil && len(table) > 0 {
		if rows, ok := tableRows(table); ok {
			return sortRows(rows), nil
		}
	}

	var objects []Row
	if err := json.Unmarshal(body, &objects); err != nil {
		return nil, err
	}
	return sortRows(objects), nil
}

func tableRows(table [][]any) ([]Row, bool) {
	header := make([]string, 0, len(table[0]))
	for _, h := range table[0] {
		s, ok := h.(string)
		if !ok {
			return nil, false
		}
		header = append(header, s)
	}
	rows := make([]Row, 0, len(table)-1)
	for _, values := range table[1:] {
		row := Row{}
		for i, v := range values {
			if i < len(header) {
				row[header[i]] = v
			}
		}
		rows = append(rows, row)
	}
	return rows, true
}

func sortRows(rows []Row) []Row {
	sort.SliceStable(rows, func(i, j int) bool {
		ti := rows[i].Time("time_tag")
		tj := rows[j].Time("time_tag")
		return ti.Before(tj)
	})
	return rows
}

// Float returns the first key holding a finite number or numeric string
func (r Row) Float(keys ...string) *float64 {
	for _, key := range keys {
		v, ok := r[key]
		if !ok || v == nil {
			continue
		}
		var f float64
		switch val := v.(type) {
		case float64:
			f = val
		case string:
			parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
			if err != nil {
				continue
			}
			f = parsed
		default:
			continue
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			continue
		}
		return &f
	}
	return nil
}

// String returns the first non-empty string value among keys
func (r Row) String(keys ...string) string {
	for _, key := range keys {
		if s, ok := r[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// Time parses the first key holding a timestamp in a known layout
func (r Row) Time(keys ...string) time.Time {
	for _, key := range keys {
		s, ok := r[key].(string)
		if !ok || s == "" {
			continue
		}
		for _, layout := range []string{
			time.RFC3339,
			"2006-01-02T15:04:05Z",
			"2006-01-02 15:04:05.000",
			"2006-01-02 15:04:05",
			"2006-01-02T15:04:05",
		} {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC()
			}
		}
	}
	return time.Time{}
}

// latestFloat scans newest first and returns the first valid value with its
// row time
func latestFloat(rows []Row, keys ...string) (*float64, time.Time) {
	for i := len(rows) - 1; i >= 0; i-- {
		if v := rows[i].Float(keys...); v != nil {
			return v, rows[i].Time("time_tag")
		}
	}
	return nil, time.Time{}
}

func later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
