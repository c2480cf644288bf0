package storage

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidVector is returned when a pgvector value cannot be parsed.
var ErrInvalidVector = errors.New("invalid vector value")

// Compile-time assertions that Vector round-trips through database/sql.
var (
	_ driver.Valuer = Vector(nil)
	_ sql.Scanner   = (*Vector)(nil)
)

// Vector is a pgvector column value. It marshals to and from the extension's
// text representation ("[0.1,0.2,0.3]") so vectors can be bound and scanned
// through lib/pq without a dedicated driver.
type Vector []float32

// Value renders the vector in pgvector text input form.
func (v Vector) Value() (driver.Value, error) {
	if v == nil {
		return nil, nil
	}

	var b strings.Builder

	b.WriteByte('[')

	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}

		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}

	b.WriteByte(']')

	return b.String(), nil
}

// Scan parses pgvector text output into the receiver.
func (v *Vector) Scan(src any) error {
	if src == nil {
		*v = nil

		return nil
	}

	var s string

	switch t := src.(type) {
	case []byte:
		s = string(t)
	case string:
		s = t
	default:
		return fmt.Errorf("%w: unsupported source type %T", ErrInvalidVector, src)
	}

	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return fmt.Errorf("%w: %q", ErrInvalidVector, s)
	}

	inner := s[1 : len(s)-1]
	if inner == "" {
		*v = Vector{}

		return nil
	}

	parts := strings.Split(inner, ",")
	out := make(Vector, 0, len(parts))

	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidVector, p)
		}

		out = append(out, float32(f))
	}

	*v = out

	return nil
}
