package gateway

import (
	"fmt"
	"strings"
	"time"

	"github.com/itchyny/gojq"

	"github.com/manyworlds/continuum/pkg/models"
)

// FutureDataAccessError reports that a record beyond the cutoff reached a
// strict-isolation request. The whole request fails; nothing past the
// cutoff is ever returned.
type FutureDataAccessError struct {
	Source  string
	Dropped int
	Reason  string
}

func (e *FutureDataAccessError) Error() string {
	return fmt.Sprintf("source %q: %s", e.Source, e.Reason)
}

// Kind maps the error to its run error kind.
func (e *FutureDataAccessError) Kind() models.ErrorKind {
	return models.ErrorKindFutureDataAccess
}

// fieldQuery extracts a record's timestamp value. Dotted paths compile to
// a gojq program so nested payloads ("meta.published_at") work; plain
// field names are a direct map lookup.
type fieldQuery struct {
	field string
	code  *gojq.Code
}

func newFieldQuery(field string) (*fieldQuery, error) {
	fq := &fieldQuery{field: field}
	if !strings.Contains(field, ".") {
		return fq, nil
	}
	q, err := gojq.Parse("." + field)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp field path %q: %w", field, err)
	}
	code, err := gojq.Compile(q)
	if err != nil {
		return nil, fmt.Errorf("failed to compile timestamp field path %q: %w", field, err)
	}
	fq.code = code
	return fq, nil
}

// extract returns the raw timestamp value from one record, or nil when the
// path resolves to nothing.
func (fq *fieldQuery) extract(record map[string]any) any {
	if fq.code == nil {
		return record[fq.field]
	}
	iter := fq.code.Run(map[string]any(record))
	v, ok := iter.Next()
	if !ok {
		return nil
	}
	if _, isErr := v.(error); isErr {
		return nil
	}
	return v
}

// fieldQueryFor returns a cached compiled query for the field.
func (g *Gateway) fieldQueryFor(field string) (*fieldQuery, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if fq, ok := g.fields[field]; ok {
		return fq, nil
	}
	fq, err := newFieldQuery(field)
	if err != nil {
		return nil, err
	}
	g.fields[field] = fq
	return fq, nil
}

// timestampLayouts are tried in order for string-typed timestamps.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseTimestamp coerces a record's timestamp value to a time.Time.
func parseTimestamp(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		for _, layout := range timestampLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
		return time.Time{}, false
	case float64:
		// Epoch seconds; values this large are epoch milliseconds.
		if t > 1e12 {
			return time.UnixMilli(int64(t)).UTC(), true
		}
		return time.Unix(int64(t), 0).UTC(), true
	case int64:
		if t > 1e12 {
			return time.UnixMilli(t).UTC(), true
		}
		return time.Unix(t, 0).UTC(), true
	case int:
		return parseTimestamp(int64(t))
	default:
		return time.Time{}, false
	}
}

// applyGuard enforces the temporal isolation contract over fetched
// records. It returns the records that survive, how many were dropped,
// and whether any record crossed the cutoff. At IsolationStrict a single
// droppable record fails the request with FutureDataAccessError.
func (g *Gateway) applyGuard(sourceName, timestampField string, records []map[string]any, gctx RequestContext) (kept []map[string]any, dropped int, leaked bool, err error) {
	if gctx.CutoffTime == nil || timestampField == "" {
		return records, 0, false, nil
	}
	cutoff := *gctx.CutoffTime

	fq, err := g.fieldQueryFor(timestampField)
	if err != nil {
		return nil, 0, false, err
	}

	kept = make([]map[string]any, 0, len(records))
	for _, record := range records {
		ts, ok := parseTimestamp(fq.extract(record))
		if !ok {
			// No usable timestamp on this record.
			switch gctx.IsolationLevel {
			case IsolationWarn:
				kept = append(kept, record)
			case IsolationFilter:
				dropped++
			case IsolationStrict:
				return nil, dropped + 1, true, &FutureDataAccessError{
					Source:  sourceName,
					Dropped: dropped + 1,
					Reason:  fmt.Sprintf("record has no parseable %q at isolation level 3", timestampField),
				}
			}
			continue
		}

		if !ts.After(cutoff) {
			kept = append(kept, record)
			continue
		}

		// Record crosses the cutoff.
		leaked = true
		switch gctx.IsolationLevel {
		case IsolationWarn:
			g.log.Warn("record beyond cutoff passed through at isolation level 1",
				"source", sourceName,
				"record_time", ts,
				"cutoff_time", cutoff)
			kept = append(kept, record)
		case IsolationFilter:
			dropped++
		case IsolationStrict:
			return nil, dropped + 1, true, &FutureDataAccessError{
				Source:  sourceName,
				Dropped: dropped + 1,
				Reason: fmt.Sprintf("record at %s is beyond cutoff %s",
					ts.UTC().Format(time.RFC3339), cutoff.UTC().Format(time.RFC3339)),
			}
		}
	}
	return kept, dropped, leaked, nil
}
