// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"fmt"
	"strconv"
	"time"
)

// Row is one result row keyed by column name. Drivers disagree on the Go
// types they return for the same SQL type, so values are read through the
// typed accessors below.
type Row map[string]any

func (r Row) String(col string) string {
	switch v := r[col].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func (r Row) Bytes(col string) []byte {
	switch v := r[col].(type) {
	case nil:
		return nil
	case []byte:
		return append([]byte(nil), v...)
	case string:
		return []byte(v)
	default:
		return []byte(fmt.Sprint(v))
	}
}

func (r Row) Int64(col string) int64 {
	switch v := r[col].(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case int16:
		return int64(v)
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case bool:
		if v {
			return 1
		}
		return 0
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	case []byte:
		n, _ := strconv.ParseInt(string(v), 10, 64)
		return n
	default:
		return 0
	}
}

func (r Row) Int(col string) int {
	return int(r.Int64(col))
}

func (r Row) Bool(col string) bool {
	return r.Int64(col) != 0
}

// NullBool returns nil for SQL NULL.
func (r Row) NullBool(col string) *bool {
	if r.IsNull(col) {
		return nil
	}
	v := r.Bool(col)
	return &v
}

func (r Row) IsNull(col string) bool {
	v, ok := r[col]
	return !ok || v == nil
}

// Time parses a column written by FormatTime.
func (r Row) Time(col string) time.Time {
	switch v := r[col].(type) {
	case time.Time:
		return v.UTC()
	case nil:
		return time.Time{}
	default:
		t, err := ParseTime(r.String(col))
		if err != nil {
			return time.Time{}
		}
		return t
	}
}

func (r Row) NullTime(col string) *time.Time {
	if r.IsNull(col) {
		return nil
	}
	t := r.Time(col)
	return &t
}

// TimeLayout is fixed width so lexical order of stored timestamps equals
// chronological order on every backend.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, err
		}
	}
	return t.UTC(), nil
}

// BoolArg encodes a boolean for the INTEGER flag columns shared by both
// schemas.
func BoolArg(b bool) int {
	if b {
		return 1
	}
	return 0
}

// NullBoolArg encodes a tri-state flag.
func NullBoolArg(b *bool) any {
	if b == nil {
		return nil
	}
	return BoolArg(*b)
}

// NullString maps "" to SQL NULL.
func NullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
