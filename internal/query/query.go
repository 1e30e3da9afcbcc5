// Package query translates list-endpoint query strings into Mongo find
// options.
package query

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hjson/hjson-go/v4"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DefaultLimit applies when a request names no limit. -1 disables the cap.
const DefaultLimit = 100

var (
	dateRe = regexp.MustCompile(`^Date:\('(.+)'\)$`)
	oidRe  = regexp.MustCompile(`^ObjectId:\('([0-9a-fA-F]{24})'\)$`)
)

// ParseFilter parses a relaxed-JSON filter expression. Booleans and numbers
// pass through, Date:('...') and ObjectId:('...') sentinels become native
// values, any other string collapses to nil so clients cannot probe raw
// string fields through the filter.
func ParseFilter(raw string) (bson.M, error) {
	if strings.TrimSpace(raw) == "" {
		return bson.M{}, nil
	}
	var parsed map[string]any
	if err := hjson.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, err
	}
	return coerceMap(parsed), nil
}

func coerceMap(in map[string]any) bson.M {
	out := bson.M{}
	for k, v := range in {
		out[k] = coerce(v)
	}
	return out
}

func coerce(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return coerceMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = coerce(e)
		}
		return out
	case string:
		if m := dateRe.FindStringSubmatch(t); m != nil {
			if ts, err := time.Parse(time.RFC3339, m[1]); err == nil {
				return ts.UTC()
			}
			if ts, err := time.Parse("2006-01-02", m[1]); err == nil {
				return ts.UTC()
			}
			return nil
		}
		if m := oidRe.FindStringSubmatch(t); m != nil {
			if id, err := primitive.ObjectIDFromHex(m[1]); err == nil {
				return id
			}
		}
		return nil
	default:
		// hjson yields json.Number-free floats plus bools and nil.
		return v
	}
}

// ParseSort turns a comma list of field names into a sort document. A '-'
// prefix sorts descending. Empty input yields a nil sort.
func ParseSort(raw string) bson.D {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var sort bson.D
	for _, field := range strings.Split(raw, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		order := 1
		if strings.HasPrefix(field, "-") {
			order = -1
			field = field[1:]
		}
		if field == "" {
			continue
		}
		sort = append(sort, bson.E{Key: field, Value: order})
	}
	return sort
}

// ParseSkip parses the skip parameter, zero on absence or garbage.
func ParseSkip(raw string) int64 {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// ParseLimit parses the limit parameter. Absence or garbage falls back to
// DefaultLimit; -1 means unlimited (returned as 0 for the driver).
func ParseLimit(raw string) int64 {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return DefaultLimit
	}
	if n == -1 {
		return 0
	}
	if n < 0 {
		return DefaultLimit
	}
	return n
}
