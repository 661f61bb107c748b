package configutil

import (
	"sort"
	"strings"
)

// Schema lists the keys a provider settings map may carry.
type Schema struct {
	Required     []string
	Optional     []string
	AllowUnknown bool
}

// SchemaError reports which keys were missing or not recognised.
type SchemaError struct {
	Missing []string
	Unknown []string
}

func (e *SchemaError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Unknown) > 0 {
		parts = append(parts, "unknown: "+strings.Join(e.Unknown, ", "))
	}
	return strings.Join(parts, "; ")
}

// ValidateSettings checks a settings map against a schema.
// Keys compare case, underscore and hyphen insensitively; blank strings count as missing.
func ValidateSettings(input map[string]any, schema Schema) error {
	required := make(map[string]string, len(schema.Required))
	for _, k := range schema.Required {
		required[normalizeKey(k)] = k
	}
	allowed := make(map[string]struct{}, len(schema.Required)+len(schema.Optional))
	for k := range required {
		allowed[k] = struct{}{}
	}
	for _, k := range schema.Optional {
		allowed[normalizeKey(k)] = struct{}{}
	}

	report := &SchemaError{}
	present := make(map[string]bool, len(input))
	for k, v := range input {
		nk := normalizeKey(k)
		if _, ok := allowed[nk]; !ok && !schema.AllowUnknown {
			report.Unknown = append(report.Unknown, k)
		}
		if !isEmptyValue(v) {
			present[nk] = true
		}
	}
	for nk, key := range required {
		if !present[nk] {
			report.Missing = append(report.Missing, key)
		}
	}

	if len(report.Missing) == 0 && len(report.Unknown) == 0 {
		return nil
	}
	sort.Strings(report.Missing)
	sort.Strings(report.Unknown)
	return report
}

func isEmptyValue(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}
