// Package validate checks request bodies against per-field rule sets before
// they reach storage.
package validate

import (
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/microcosm-cc/bluemonday"
)

// Rule inspects a raw field value. ok reports whether the value passed, out
// is the value to store (rules may coerce, e.g. date strings to time.Time).
type Rule interface {
	Check(value any) (out any, ok bool)
}

// FieldRules binds one field name to its ordered rule chain.
type FieldRules struct {
	Field string
	Rules []Rule
}

// RuleSet is an ordered list of field rule chains. Order matters for the
// rejected-fields list reported back to clients.
type RuleSet []FieldRules

// Apply runs the set against data. Fields absent from data are skipped unless
// a Required rule demands them. A field failing any rule is reported in
// rejected and excluded from the returned document entirely.
func (rs RuleSet) Apply(data map[string]any) (out map[string]any, rejected []string) {
	out = make(map[string]any, len(data))
	for _, fr := range rs {
		value, present := data[fr.Field]
		ok := true
		for _, rule := range fr.Rules {
			if _, isReq := rule.(requiredRule); isReq {
				if !present || isEmptyValue(value) {
					ok = false
					break
				}
				continue
			}
			if !present {
				continue
			}
			var next any
			next, ok = rule.Check(value)
			if !ok {
				break
			}
			value = next
		}
		if !ok {
			rejected = append(rejected, fr.Field)
			continue
		}
		if present {
			out[fr.Field] = value
		}
	}
	return out, rejected
}

type requiredRule struct{}

func (requiredRule) Check(value any) (any, bool) { return value, true }

// Required fails when the field is absent from the input or present as an
// empty string.
func Required() Rule { return requiredRule{} }

func isEmptyValue(v any) bool {
	s, ok := v.(string)
	return ok && s == ""
}

type funcRule func(any) (any, bool)

func (f funcRule) Check(value any) (any, bool) { return f(value) }

// IsEmpty passes only the empty string.
func IsEmpty() Rule {
	return funcRule(func(v any) (any, bool) {
		s, ok := v.(string)
		return v, ok && s == ""
	})
}

// Email validates address syntax.
func Email() Rule {
	return funcRule(func(v any) (any, bool) {
		s, ok := v.(string)
		return v, ok && govalidator.IsEmail(s)
	})
}

// Regex passes strings fully matched by pattern.
func Regex(pattern string) Rule {
	re := regexp.MustCompile("^(?:" + pattern + ")$")
	return funcRule(func(v any) (any, bool) {
		s, ok := v.(string)
		return v, ok && re.MatchString(s)
	})
}

// IsIn passes values equal to one of the allowed entries.
func IsIn(allowed ...string) Rule {
	return funcRule(func(v any) (any, bool) {
		s, ok := v.(string)
		if !ok {
			return v, false
		}
		for _, a := range allowed {
			if s == a {
				return v, true
			}
		}
		return v, false
	})
}

// MinLength passes strings of at least n runes.
func MinLength(n int) Rule {
	return funcRule(func(v any) (any, bool) {
		s, ok := v.(string)
		return v, ok && len([]rune(s)) >= n
	})
}

// MaxLength passes strings of at most n runes.
func MaxLength(n int) Rule {
	return funcRule(func(v any) (any, bool) {
		s, ok := v.(string)
		return v, ok && len([]rune(s)) <= n
	})
}

// IsDate passes YYYY-MM-DD strings and coerces them to time.Time so they end
// up as native dates in storage.
func IsDate() Rule {
	return funcRule(func(v any) (any, bool) {
		s, ok := v.(string)
		if !ok {
			return v, false
		}
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			return v, false
		}
		return t.UTC(), true
	})
}

// IsURL passes absolute http/https URLs.
func IsURL() Rule {
	return funcRule(func(v any) (any, bool) {
		s, ok := v.(string)
		if !ok || !govalidator.IsURL(s) {
			return v, false
		}
		return v, strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
	})
}

// htmlPolicy mirrors the markup the post composer emits. Anything the
// sanitizer would strip fails validation.
var htmlPolicy = func() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("b", "i", "strike", "u", "pre", "br", "ul", "ol", "li")
	p.AllowAttrs("href").OnElements("a")
	p.AllowAttrs("style").OnElements("div")
	p.AllowElements("a", "div")
	return p
}()

// IsHTML passes strings the sanitizer leaves unchanged. The comparison runs
// on unescaped text so entity-encoding of plain characters does not reject
// innocent input.
func IsHTML() Rule {
	return funcRule(func(v any) (any, bool) {
		s, ok := v.(string)
		if !ok {
			return v, false
		}
		return v, html.UnescapeString(htmlPolicy.Sanitize(s)) == html.UnescapeString(s)
	})
}
