package share

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"
	"gorm.io/gorm"
)

// queryCSV runs a select and renders the result as CSV with a header row
// taken from the selected column names. NULL becomes an empty cell.
func queryCSV(tx *gorm.DB, query string, args ...any) (string, int, error) {
	rows, err := tx.Raw(query, args...).Rows()
	if err != nil {
		return "", 0, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return "", 0, err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(cols); err != nil {
		return "", 0, err
	}

	n := 0
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	record := make([]string, len(cols))
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return "", 0, err
		}
		for i, v := range values {
			record[i] = cell(v)
		}
		if err := w.Write(record); err != nil {
			return "", 0, err
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return "", 0, err
	}
	w.Flush()
	return buf.String(), n, w.Error()
}

func cell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return cast.ToString(t)
	}
}

// record is one parsed CSV row keyed by header name.
type record map[string]string

func (r record) str(key string) string {
	return strings.TrimSpace(r[key])
}

// ptr returns nil for an empty cell.
func (r record) ptr(key string) *string {
	v := r.str(key)
	if v == "" {
		return nil
	}
	return &v
}

func (r record) asInt(key string) (int, error) {
	v := r.str(key)
	if v == "" {
		return 0, nil
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return 0, fmt.Errorf("column %s: %w", key, err)
	}
	return n, nil
}

func (r record) asInt64(key string) (int64, error) {
	v := r.str(key)
	if v == "" {
		return 0, nil
	}
	n, err := cast.ToInt64E(v)
	if err != nil {
		return 0, fmt.Errorf("column %s: %w", key, err)
	}
	return n, nil
}

func (r record) asBool(key string) (bool, error) {
	v := r.str(key)
	if v == "" {
		return false, nil
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return false, fmt.Errorf("column %s: %w", key, err)
	}
	return b, nil
}

func (r record) asTime(key string) (*time.Time, error) {
	v := r.str(key)
	if v == "" {
		return nil, nil
	}
	t, err := cast.ToTimeE(v)
	if err != nil {
		return nil, fmt.Errorf("column %s: %w", key, err)
	}
	return &t, nil
}

// parseCSV reads bulk text with a header row. Missing columns read as empty.
func parseCSV(text string) ([]record, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	all, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, nil
	}
	header := all[0]
	out := make([]record, 0, len(all)-1)
	for _, row := range all[1:] {
		rec := make(record, len(header))
		for i, h := range header {
			if i < len(row) {
				rec[h] = row[i]
			}
		}
		out = append(out, rec)
	}
	return out, nil
}
