// Package fields shapes open documents: whitelisting keys for responses and
// extracting changed keys for patches.
package fields

import (
	"encoding/json"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/mtktsuda/kotori/internal/domain"
)

// Audit keys pass the projector regardless of schema.
var auditKeys = domain.NewSchema(
	"postedAt", "postedBy", "patchedAt", "patchedBy",
	"deleted", "deletedAt", "deletedBy",
)

// Filter returns a new document holding _id, the schema keys and the audit
// keys of doc, values untouched.
func Filter(doc bson.M, schema domain.Schema) bson.M {
	out := bson.M{}
	for key, value := range doc {
		switch {
		case key == "_id":
			out[key] = value
		case schema.Has(key):
			out[key] = value
		case auditKeys.Has(key):
			out[key] = value
		}
	}
	return out
}

// Changed returns the subset of next whose values differ from prev. A key
// absent from prev is always included, even when the new value is a zero
// value: the baseline has nothing to compare against. _id never changes.
func Changed(next, prev bson.M) bson.M {
	out := bson.M{}
	for key, value := range next {
		if key == "_id" {
			continue
		}
		old, ok := prev[key]
		if !ok {
			out[key] = value
			continue
		}
		switch v := value.(type) {
		case string:
			if old != v {
				out[key] = value
			}
		case bool:
			if old != v {
				out[key] = value
			}
		case int, int32, int64, float32, float64:
			if old != value {
				out[key] = value
			}
		default:
			// Composite values compare by serialized form.
			if !jsonEqual(old, value) {
				out[key] = value
			}
		}
	}
	return out
}

func jsonEqual(a, b any) bool {
	ab, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(ab) == string(bb)
}
