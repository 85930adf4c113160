package classify

import (
	"encoding/json"
	"regexp"
	"strings"
)

var reISODate = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// SanitizeOptionalFields removes or normalizes optional fields that don't meet
// the stricter schema, so the overall document can still validate. We only
// touch OPTIONALS plus obviously fixable strings.
func SanitizeOptionalFields(doc []byte) ([]byte, []string, error) {
	var m map[string]any
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, nil, err
	}

	var dropped []string

	// category: lowercase and fall back to "other" when outside the taxonomy
	if v, ok := m["category"].(string); ok {
		c := strings.ToLower(strings.TrimSpace(v))
		known := false
		for _, k := range Categories {
			if c == k {
				known = true
				break
			}
		}
		if !known {
			c = "other"
			dropped = append(dropped, "category(coerced)")
		}
		m["category"] = c
	}

	// relevant_dates: keep only well-formed ISO dates
	if v, ok := m["relevant_dates"].([]any); ok {
		kept := make([]any, 0, len(v))
		for _, d := range v {
			s, ok := d.(string)
			if !ok {
				dropped = append(dropped, "relevant_dates(type)")
				continue
			}
			s = strings.TrimSpace(s)
			if reISODate.MatchString(s) {
				kept = append(kept, s)
			} else {
				dropped = append(dropped, "relevant_dates(format)")
			}
		}
		if len(kept) == 0 {
			delete(m, "relevant_dates")
		} else {
			m["relevant_dates"] = kept
		}
	}

	// contact: drop empty entries
	if v, ok := m["contact"].([]any); ok {
		kept := make([]any, 0, len(v))
		for _, c := range v {
			s, ok := c.(string)
			if !ok || strings.TrimSpace(s) == "" {
				dropped = append(dropped, "contact(empty)")
				continue
			}
			kept = append(kept, strings.TrimSpace(s))
		}
		if len(kept) == 0 {
			delete(m, "contact")
		} else {
			m["contact"] = kept
		}
	}

	// pages_count: coerce numeric, drop anything else
	if v, ok := m["pages_count"]; ok {
		switch t := v.(type) {
		case float64:
			if t < 0 {
				delete(m, "pages_count")
				dropped = append(dropped, "pages_count(negative)")
			}
		default:
			delete(m, "pages_count")
			dropped = append(dropped, "pages_count(type)")
		}
	}

	// trim obvious strings
	for _, k := range []string{"summary", "classification"} {
		if v, ok := m[k].(string); ok {
			m[k] = strings.TrimSpace(v)
		}
	}

	// remove unknown keys (strict additionalProperties = false friendliness)
	allowed := map[string]struct{}{
		"summary": {}, "classification": {}, "category": {},
		"relevant_dates": {}, "pages_count": {}, "contact": {},
	}
	for k := range m {
		if _, ok := allowed[k]; !ok {
			delete(m, k)
			dropped = append(dropped, k+"(unknown)")
		}
	}

	b, err := json.Marshal(m)
	if err != nil {
		return nil, dropped, err
	}
	return b, dropped, nil
}
