package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"slices"
)

// Breakdown maps a credit category to an unsigned magnitude.
type Breakdown map[string]int64

// Metadata is free-form JSON attached to ledger rows.
type Metadata map[string]any

// Counters maps a progress key to its counter.
type Counters map[string]int64

// CartItem is one line of a checkout cart as the provider delivered it.
type CartItem map[string]any

type Cart []CartItem

// StringSet is an ordered set of names stored as a JSON array.
type StringSet []string

func (s StringSet) Has(v string) bool { return slices.Contains(s, v) }

// Add appends v unless present and reports whether it was added.
func (s *StringSet) Add(v string) bool {
	if s.Has(v) {
		return false
	}

	*s = append(*s, v)

	return true
}

func (b Breakdown) Value() (driver.Value, error) { return jsonValue(b, len(b) == 0, "{}") }

func (m Metadata) Value() (driver.Value, error) { return jsonValue(m, len(m) == 0, "{}") }

func (c Counters) Value() (driver.Value, error) { return jsonValue(c, len(c) == 0, "{}") }

func (c Cart) Value() (driver.Value, error) { return jsonValue(c, len(c) == 0, "[]") }

func (s StringSet) Value() (driver.Value, error) { return jsonValue(s, len(s) == 0, "[]") }

func (b *Breakdown) Scan(src any) error { return jsonScan(src, b) }

func (m *Metadata) Scan(src any) error { return jsonScan(src, m) }

func (c *Counters) Scan(src any) error { return jsonScan(src, c) }

func (c *Cart) Scan(src any) error { return jsonScan(src, c) }

func (s *StringSet) Scan(src any) error { return jsonScan(src, s) }

func jsonValue(v any, empty bool, emptyLiteral string) (driver.Value, error) {
	if empty {
		return emptyLiteral, nil
	}

	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal jsonb: %w", err)
	}

	return string(b), nil
}

func jsonScan(src, dst any) error {
	var raw []byte

	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("scan jsonb: unsupported source %T", src)
	}

	err := json.Unmarshal(raw, dst)
	if err != nil {
		return fmt.Errorf("scan jsonb: %w", err)
	}

	return nil
}
