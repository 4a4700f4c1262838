package report

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"
)

// Flatten turns a JSON-shaped value into dotted keys, e.g.
// {"revenue":{"total_revenue":10}} becomes {"revenue.total_revenue":10}.
// Arrays are kept as their JSON text.
func Flatten(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, err
	}
	out := map[string]any{}
	flattenInto(out, "", tree)
	return out, nil
}

func flattenInto(out map[string]any, prefix string, v any) {
	switch node := v.(type) {
	case map[string]any:
		if len(node) == 0 && prefix != "" {
			out[prefix] = ""
			return
		}
		for k, child := range node {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			flattenInto(out, key, child)
		}
	case []any:
		raw, _ := json.Marshal(node)
		out[prefix] = string(raw)
	default:
		if prefix == "" {
			prefix = "value"
		}
		out[prefix] = node
	}
}

type valueKind int

const (
	kindPlain valueKind = iota
	kindCount
	kindCurrency
	kindPercent
	kindUSD
)

var (
	countSuffixes    = []string{"_appointments", "_conversations", "_customers", "_messages", "_tokens", "_count", "_tenants", "_outcomes", "_sessions"}
	percentSuffixes  = []string{"_rate", "_share", "_trend"}
	currencySuffixes = []string{"revenue", "mrr", "price", "fee", "charge", "amount", "_value", "total"}
)

// kindOf picks the column format from the key alone. Keys nested under a
// revenue object are amounts.
func kindOf(key string) valueKind {
	segments := strings.Split(strings.ToLower(key), ".")
	last := segments[len(segments)-1]
	hasSuffix := func(suffixes []string) bool {
		return lo.SomeBy(suffixes, func(s string) bool { return strings.HasSuffix(last, s) })
	}
	switch {
	case strings.HasSuffix(last, "_usd"):
		return kindUSD
	case hasSuffix(percentSuffixes):
		return kindPercent
	case hasSuffix(countSuffixes):
		return kindCount
	case hasSuffix(currencySuffixes) || last == "value",
		lo.SomeBy(segments[:len(segments)-1], func(s string) bool { return strings.Contains(s, "revenue") }):
		return kindCurrency
	default:
		return kindPlain
	}
}

// FormatValue renders one flattened value with pt-BR formatting chosen by key.
func FormatValue(key string, v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		if val {
			return "sim"
		}
		return "não"
	case int:
		return formatNumber(key, float64(val))
	case int64:
		return formatNumber(key, float64(val))
	case float64:
		return formatNumber(key, val)
	default:
		return fmt.Sprint(val)
	}
}

func formatNumber(key string, v float64) string {
	switch kindOf(key) {
	case kindCurrency:
		return FormatBRL(v)
	case kindPercent:
		return FormatPercent(v)
	case kindUSD:
		return FormatUSD(v)
	case kindCount:
		return FormatInt(int64(math.Round(v)))
	default:
		if v == math.Trunc(v) && math.Abs(v) < 1e15 {
			return FormatInt(int64(v))
		}
		return FormatDecimal(v, 2)
	}
}

// Columns orders the header: the leading keys that occur, then every other
// key sorted.
func Columns(rows []map[string]any, leading []string) []string {
	seen := map[string]bool{}
	for _, row := range rows {
		for k := range row {
			seen[k] = true
		}
	}
	columns := lo.Filter(leading, func(k string, _ int) bool { return seen[k] })
	rest := lo.Filter(lo.Keys(seen), func(k string, _ int) bool { return !lo.Contains(leading, k) })
	sort.Strings(rest)
	return append(columns, rest...)
}

// WriteCSV writes one line per row under a header built by Columns.
func WriteCSV(path string, rows []map[string]any, leading []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	columns := Columns(rows, leading)
	writer := csv.NewWriter(file)
	if err := writer.Write(columns); err != nil {
		return err
	}
	for _, row := range rows {
		record := make([]string, len(columns))
		for i, col := range columns {
			record[i] = FormatValue(col, row[col])
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteJSON writes v as indented JSON.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// TimestampedPath returns dir/prefix-<timestamp>.ext, adding a counter when
// the file already exists so earlier reports are never overwritten.
func TimestampedPath(dir, prefix, ext string, now time.Time) string {
	stamp := now.UTC().Format("2006-01-02T15-04-05Z")
	ext = strings.TrimPrefix(ext, ".")
	base := filepath.Join(dir, fmt.Sprintf("%s-%s", prefix, stamp))
	candidate := base + "." + ext
	for i := 1; ; i++ {
		if _, err := os.Stat(candidate); errors.Is(err, fs.ErrNotExist) {
			return candidate
		}
		candidate = fmt.Sprintf("%s-%d.%s", base, i, ext)
	}
}
