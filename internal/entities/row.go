package entities

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/tidwall/gjson"
)

// driverSentinels are the placeholder ids upstream uses when a record has no real driver
var driverSentinels = []string{"UnknownDriverId", "NoDriverId", "NoUserId"}

// rowBuilder collects the column values of one record. The first error stops
// collection and is returned by build.
type rowBuilder struct {
	record gjson.Result
	id     string
	values []any
	err    error
}

func newRow(record gjson.Result) *rowBuilder {
	b := &rowBuilder{record: record}
	b.id = record.Get("id").String()
	if b.id == "" {
		b.err = errors.New("record has no id")
		return b
	}
	b.values = append(b.values, b.id)
	return b
}

func (b *rowBuilder) fail(path, format string, args ...any) {
	b.err = fmt.Errorf("record %s: %s %s", b.id, path, fmt.Sprintf(format, args...))
}

func (b *rowBuilder) text(path string) *rowBuilder {
	if b.err != nil {
		return b
	}
	v := b.record.Get(path)
	if !v.Exists() || v.Type == gjson.Null || v.String() == "" {
		b.values = append(b.values, nil)
		return b
	}
	b.values = append(b.values, v.String())
	return b
}

// ref reads an entity reference, either {"id": "..."} or a bare id
func (b *rowBuilder) ref(path string, required bool, sentinels ...string) *rowBuilder {
	if b.err != nil {
		return b
	}
	v := b.record.Get(path)
	id := v.String()
	if v.IsObject() {
		id = v.Get("id").String()
	}
	if id == "" || slices.Contains(sentinels, id) {
		if required {
			b.fail(path, "is required")
			return b
		}
		b.values = append(b.values, nil)
		return b
	}
	b.values = append(b.values, id)
	return b
}

func (b *rowBuilder) timestamp(path string, required bool) *rowBuilder {
	if b.err != nil {
		return b
	}
	v := b.record.Get(path)
	if !v.Exists() || v.Type == gjson.Null || v.String() == "" {
		if required {
			b.fail(path, "is required")
			return b
		}
		b.values = append(b.values, nil)
		return b
	}
	t, err := time.Parse(time.RFC3339Nano, v.String())
	if err != nil {
		b.fail(path, "is not a valid timestamp: %v", err)
		return b
	}
	b.values = append(b.values, t.UTC())
	return b
}

func (b *rowBuilder) float(path string) *rowBuilder {
	if b.err != nil {
		return b
	}
	v := b.record.Get(path)
	switch {
	case !v.Exists() || v.Type == gjson.Null:
		b.values = append(b.values, nil)
	case v.Type == gjson.Number:
		b.values = append(b.values, v.Float())
	default:
		b.fail(path, "is not a number")
	}
	return b
}

func (b *rowBuilder) integer(path string) *rowBuilder {
	if b.err != nil {
		return b
	}
	v := b.record.Get(path)
	switch {
	case !v.Exists() || v.Type == gjson.Null:
		b.values = append(b.values, nil)
	case v.Type == gjson.Number:
		b.values = append(b.values, v.Int())
	default:
		b.fail(path, "is not a number")
	}
	return b
}

func (b *rowBuilder) boolean(path string) *rowBuilder {
	if b.err != nil {
		return b
	}
	b.values = append(b.values, b.record.Get(path).Bool())
	return b
}

// build appends the raw record and returns the row
func (b *rowBuilder) build() ([]any, bool, error) {
	if b.err != nil {
		return nil, false, b.err
	}
	return append(b.values, []byte(b.record.Raw)), true, nil
}
