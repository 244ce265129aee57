package records

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/pitabwire/fieldadmin/model"
)

// BuildQuery checks opts against m and encodes them as query parameters.
// filter and sort travel as JSON documents; sort keeps its key order.
// Absent limit and offset are not sent. The record envelope keys id,
// createdAt and updatedAt are always filterable and sortable.
func BuildQuery(m model.DataModel, opts model.QueryOptions) (url.Values, error) {
	var details []model.FieldError

	filter := make(map[string]any, len(opts.Filter))
	for slug, v := range opts.Filter {
		if model.IsEnvelopeKey(slug) {
			filter[slug] = normalizeValue(v)
			continue
		}
		f, ok := m.Field(slug)
		switch {
		case !ok:
			details = append(details, model.FieldError{Field: "filter." + slug, Code: "UNKNOWN_FIELD", Message: fmt.Sprintf("%s is not a field of %s", slug, m.Slug)})
		case !f.IsFilterable:
			details = append(details, model.FieldError{Field: "filter." + slug, Code: "NOT_FILTERABLE", Message: fmt.Sprintf("%s cannot be filtered on", slug)})
		default:
			filter[slug] = normalizeValue(v)
		}
	}

	seen := make(map[string]struct{}, len(opts.Sort))
	sortKeys := make([]model.SortKey, 0, len(opts.Sort))
	for _, k := range opts.Sort {
		f, ok := m.Field(k.Field)
		dir := model.SortDirection(strings.ToUpper(string(k.Direction)))
		if dir == "" {
			dir = model.SortAsc
		}
		envelope := model.IsEnvelopeKey(k.Field)
		switch {
		case !ok && !envelope:
			details = append(details, model.FieldError{Field: "sort." + k.Field, Code: "UNKNOWN_FIELD", Message: fmt.Sprintf("%s is not a field of %s", k.Field, m.Slug)})
			continue
		case !envelope && !f.IsSortable:
			details = append(details, model.FieldError{Field: "sort." + k.Field, Code: "NOT_SORTABLE", Message: fmt.Sprintf("%s cannot be sorted on", k.Field)})
			continue
		case dir != model.SortAsc && dir != model.SortDesc:
			details = append(details, model.FieldError{Field: "sort." + k.Field, Code: "DIRECTION", Message: "sort direction must be ASC or DESC"})
			continue
		}
		if _, dup := seen[k.Field]; dup {
			details = append(details, model.FieldError{Field: "sort." + k.Field, Code: "DUPLICATE", Message: fmt.Sprintf("%s appears more than once in sort", k.Field)})
			continue
		}
		seen[k.Field] = struct{}{}
		sortKeys = append(sortKeys, model.SortKey{Field: k.Field, Direction: dir})
	}

	if opts.Limit != nil && *opts.Limit < 0 {
		details = append(details, model.FieldError{Field: "limit", Code: "RANGE", Message: "limit must not be negative"})
	}
	if opts.Offset != nil && *opts.Offset < 0 {
		details = append(details, model.FieldError{Field: "offset", Code: "RANGE", Message: "offset must not be negative"})
	}
	if len(details) > 0 {
		return nil, model.NewValidationError("", details...)
	}

	q := url.Values{}
	if len(filter) > 0 {
		raw, err := json.Marshal(filter)
		if err != nil {
			return nil, model.NewValidationError(fmt.Sprintf("filter cannot be encoded: %v", err))
		}
		q.Set("filter", string(raw))
	}
	if len(sortKeys) > 0 {
		raw, err := encodeSort(sortKeys)
		if err != nil {
			return nil, model.NewValidationError(fmt.Sprintf("sort cannot be encoded: %v", err))
		}
		q.Set("sort", raw)
	}
	if opts.Limit != nil {
		q.Set("limit", strconv.Itoa(*opts.Limit))
	}
	if opts.Offset != nil {
		q.Set("offset", strconv.Itoa(*opts.Offset))
	}
	return q, nil
}

// encodeSort renders sort keys as one JSON object whose member order is the
// sort priority. encoding/json orders map keys alphabetically, so the
// object is written member by member.
func encodeSort(keys []model.SortKey) (string, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(k.Field)
		if err != nil {
			return "", err
		}
		buf.Write(name)
		buf.WriteByte(':')
		dir, err := json.Marshal(string(k.Direction))
		if err != nil {
			return "", err
		}
		buf.Write(dir)
	}
	buf.WriteByte('}')
	return buf.String(), nil
}

// ParseSort reads comma separated field[:asc|desc] keys in priority order.
// A key without a direction sorts ascending.
func ParseSort(raw string) []model.SortKey {
	var keys []model.SortKey
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		field, dir, _ := strings.Cut(part, ":")
		key := model.SortKey{Field: field, Direction: model.SortAsc}
		if dir != "" {
			key.Direction = model.SortDirection(strings.ToUpper(dir))
		}
		keys = append(keys, key)
	}
	return keys
}
