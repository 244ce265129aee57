package model

import (
	"time"
)

// Keys the remote API stamps on every record.
const (
	RecordIDKey        = "id"
	RecordCreatedAtKey = "createdAt"
	RecordUpdatedAtKey = "updatedAt"
)

// Record is one instance of a data model: an open mapping from field slug
// to value. Its shape is only known through the owning DataModel.
type Record map[string]any

// ID returns the generated record id.
func (r Record) ID() string {
	id, _ := r[RecordIDKey].(string)
	return id
}

// CreatedAt returns the server creation timestamp, or zero if absent.
func (r Record) CreatedAt() time.Time {
	return r.timestamp(RecordCreatedAtKey)
}

// UpdatedAt returns the server update timestamp, or zero if absent.
func (r Record) UpdatedAt() time.Time {
	return r.timestamp(RecordUpdatedAtKey)
}

func (r Record) timestamp(key string) time.Time {
	s, _ := r[key].(string)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// IsEnvelopeKey reports whether key is one of the server-stamped keys that
// are not field slugs.
func IsEnvelopeKey(key string) bool {
	switch key {
	case RecordIDKey, RecordCreatedAtKey, RecordUpdatedAtKey:
		return true
	}
	return false
}

// SortDirection orders a sort key.
type SortDirection string

const (
	SortAsc  SortDirection = "ASC"
	SortDesc SortDirection = "DESC"
)

// SortKey is one component of a composite sort. Keys apply left to right.
type SortKey struct {
	Field     string        `json:"field"`
	Direction SortDirection `json:"direction"`
}

// QueryOptions narrows a record query. Filter values are equality
// predicates unless they are maps, which pass through as operator
// predicates. Nil Limit and Offset mean the server defaults.
type QueryOptions struct {
	Filter map[string]any `json:"filter,omitempty"`
	Sort   []SortKey      `json:"sort,omitempty"`
	Limit  *int           `json:"limit,omitempty"`
	Offset *int           `json:"offset,omitempty"`
}

// RecordPage is one page of query results.
type RecordPage struct {
	Data  []Record `json:"data"`
	Total int      `json:"total"`
}
