package records

import (
	"encoding/json"
	"fmt"
	"net/mail"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pitabwire/fieldadmin/model"
)

// Sanitize returns the subset of payload a caller may submit for m: keys
// that name a declared field which is editable, not system-managed and not
// computed. time.Time values become RFC3339 strings. The dropped keys are
// returned in no particular order.
func Sanitize(m model.DataModel, payload map[string]any) (model.Record, []string) {
	out := make(model.Record, len(payload))
	var dropped []string
	for k, v := range payload {
		f, ok := m.Field(k)
		if !ok || !f.Writable() {
			dropped = append(dropped, k)
			continue
		}
		out[k] = normalizeValue(v)
	}
	return out, dropped
}

// normalizeValue renders time values as RFC3339 strings, descending into
// maps and slices.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	case *time.Time:
		if x == nil {
			return nil
		}
		return x.UTC().Format(time.RFC3339)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = normalizeValue(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalizeValue(e)
		}
		return out
	}
	return v
}

// ValidatePayload checks a sanitized payload against the field list of m.
// With create set, required fields without a default must be present.
// Updates only check the fields they carry.
func ValidatePayload(m model.DataModel, payload model.Record, create bool) []model.FieldError {
	var errs []model.FieldError
	for _, f := range m.Fields {
		if !f.Writable() {
			continue
		}
		v, present := payload[f.Slug]

		if f.IsRequired && isEmpty(v) && (present || (create && f.DefaultValue == nil)) {
			errs = append(errs, fieldError(f, "REQUIRED", fmt.Sprintf("%s is required", f.Name)))
			continue
		}
		if !present || v == nil {
			continue
		}
		errs = append(errs, checkValue(f, v)...)
	}
	return errs
}

func checkValue(f model.DataModelField, v any) []model.FieldError {
	switch f.Type.Storage() {
	case model.StorageString:
		s, ok := v.(string)
		if !ok {
			return []model.FieldError{fieldError(f, "TYPE", fmt.Sprintf("%s must be text", f.Name))}
		}
		return checkString(f, s)
	case model.StorageNumber:
		n, ok := toFloat(v)
		if !ok {
			return []model.FieldError{fieldError(f, "TYPE", fmt.Sprintf("%s must be a number", f.Name))}
		}
		return checkNumber(f, n)
	case model.StorageBoolean:
		if _, ok := v.(bool); !ok {
			return []model.FieldError{fieldError(f, "TYPE", fmt.Sprintf("%s must be true or false", f.Name))}
		}
	case model.StorageDate:
		s, ok := v.(string)
		if !ok || !isDate(s) {
			return []model.FieldError{fieldError(f, "TYPE", fmt.Sprintf("%s must be an ISO-8601 date", f.Name))}
		}
	case model.StorageStructured:
		return checkStructured(f, v)
	}
	return nil
}

func checkString(f model.DataModelField, s string) []model.FieldError {
	var errs []model.FieldError
	switch f.Type {
	case model.FieldEmail:
		if _, err := mail.ParseAddress(s); err != nil {
			errs = append(errs, fieldError(f, "FORMAT", fmt.Sprintf("%s must be an email address", f.Name)))
		}
	case model.FieldURL:
		if u, err := url.ParseRequestURI(s); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fieldError(f, "FORMAT", fmt.Sprintf("%s must be an absolute URL", f.Name)))
		}
	case model.FieldSelect:
		if opts, ok := options(f); ok && !contains(opts, s) {
			errs = append(errs, fieldError(f, "OPTION", fmt.Sprintf("%s must be one of %s", f.Name, strings.Join(opts, ", "))))
		}
	}

	length := utf8.RuneCountInString(s)
	if n, ok := rule(f, model.RuleMinLength); ok && float64(length) < n {
		errs = append(errs, fieldError(f, "MIN_LENGTH", fmt.Sprintf("%s must be at least %g characters", f.Name, n)))
	}
	if n, ok := rule(f, model.RuleMaxLength); ok && float64(length) > n {
		errs = append(errs, fieldError(f, "MAX_LENGTH", fmt.Sprintf("%s must be at most %g characters", f.Name, n)))
	}
	if f.Type.SupportsRule(model.RulePattern) {
		if pattern, ok := f.Validations[model.RulePattern].(string); ok && pattern != "" {
			re, err := regexp.Compile(pattern)
			if err == nil && !re.MatchString(s) {
				errs = append(errs, fieldError(f, "PATTERN", fmt.Sprintf("%s has an invalid format", f.Name)))
			}
		}
	}
	return errs
}

func checkNumber(f model.DataModelField, n float64) []model.FieldError {
	var errs []model.FieldError
	if lo, ok := rule(f, model.RuleMin); ok && n < lo {
		errs = append(errs, fieldError(f, "MIN", fmt.Sprintf("%s must be at least %g", f.Name, lo)))
	}
	if hi, ok := rule(f, model.RuleMax); ok && n > hi {
		errs = append(errs, fieldError(f, "MAX", fmt.Sprintf("%s must be at most %g", f.Name, hi)))
	}
	return errs
}

func checkStructured(f model.DataModelField, v any) []model.FieldError {
	switch f.Type {
	case model.FieldMultiSelect:
		items, ok := stringList(v)
		if !ok {
			return []model.FieldError{fieldError(f, "TYPE", fmt.Sprintf("%s must be a list of options", f.Name))}
		}
		if opts, ok := options(f); ok {
			for _, item := range items {
				if !contains(opts, item) {
					return []model.FieldError{fieldError(f, "OPTION", fmt.Sprintf("%q is not an option of %s", item, f.Name))}
				}
			}
		}
	case model.FieldRelation:
		if _, ok := v.(string); ok {
			return nil
		}
		if _, ok := stringList(v); !ok {
			return []model.FieldError{fieldError(f, "TYPE", fmt.Sprintf("%s must be a record id or a list of record ids", f.Name))}
		}
	}
	return nil
}

// rule returns a numeric validation parameter that applies to the field's
// type.
func rule(f model.DataModelField, name string) (float64, bool) {
	if !f.Type.SupportsRule(name) {
		return 0, false
	}
	raw, ok := f.Validations[name]
	if !ok {
		return 0, false
	}
	return toFloat(raw)
}

// options returns the permitted values of a select field. They are read
// from validations.options, else settings.options, as plain strings or
// {value, label} objects.
func options(f model.DataModelField) ([]string, bool) {
	raw, ok := f.Validations[model.RuleOptions]
	if !ok {
		raw, ok = f.Settings[model.RuleOptions]
	}
	if !ok {
		return nil, false
	}
	list, ok := raw.([]any)
	if !ok {
		if strs, isStrs := raw.([]string); isStrs {
			return strs, true
		}
		return nil, false
	}

	out := make([]string, 0, len(list))
	for _, item := range list {
		switch x := item.(type) {
		case string:
			out = append(out, x)
		case map[string]any:
			if s, ok := x["value"].(string); ok {
				out = append(out, s)
			}
		}
	}
	return out, true
}

func stringList(v any) ([]string, bool) {
	switch x := v.(type) {
	case []string:
		return x, true
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			s, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}

func isDate(s string) bool {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, time.DateOnly} {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case []any:
		return len(x) == 0
	case []string:
		return len(x) == 0
	}
	return false
}

func contains(list []string, s string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}

func fieldError(f model.DataModelField, code, msg string) model.FieldError {
	return model.FieldError{Field: f.Slug, Code: code, Message: msg}
}
