package model

import (
	"encoding/json"
	"sort"
	"time"
)

// DataModelField is one typed attribute of a dynamically defined entity
// schema. Slug is the property key records use for the field's value.
type DataModelField struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Slug           string    `json:"slug"`
	Description    string    `json:"description,omitempty"`
	Type           FieldType `json:"type"`
	IsRequired     bool      `json:"isRequired"`
	IsUnique       bool      `json:"isUnique"`
	IsSystem       bool      `json:"isSystem"`
	IsVisible      bool      `json:"isVisible"`
	IsEditable     bool      `json:"isEditable"`
	IsFilterable   bool      `json:"isFilterable"`
	IsSortable     bool      `json:"isSortable"`
	IsSearchable   bool      `json:"isSearchable"`
	Validations    Document  `json:"validations,omitempty"`
	Settings       Document  `json:"settings,omitempty"`
	DefaultValue   any       `json:"defaultValue,omitempty"`
	DataModelID    string    `json:"dataModelId"`
	RelatedModelID string    `json:"relatedModelId,omitempty"`
	RelatedFieldID string    `json:"relatedFieldId,omitempty"`
	DisplayOrder   int       `json:"displayOrder"`
	CreatedAt      time.Time `json:"createdAt,omitzero"`
	UpdatedAt      time.Time `json:"updatedAt,omitzero"`
}

// Writable reports whether a caller may submit a value for the field.
func (f DataModelField) Writable() bool {
	return f.IsEditable && !f.IsSystem && !f.Type.IsComputed()
}

// DataModel is a named, tenant-scoped schema. An empty TenantID means the
// model is platform-global. Fields are ordered by DisplayOrder.
type DataModel struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Slug        string           `json:"slug"`
	Description string           `json:"description,omitempty"`
	IsActive    bool             `json:"isActive"`
	TenantID    string           `json:"tenantId,omitempty"`
	Fields      []DataModelField `json:"fields"`
	Settings    Document         `json:"settings,omitempty"`
	CreatedAt   time.Time        `json:"createdAt,omitzero"`
	UpdatedAt   time.Time        `json:"updatedAt,omitzero"`
}

// UnmarshalJSON decodes a DataModel and orders its fields.
func (m *DataModel) UnmarshalJSON(data []byte) error {
	type plain DataModel
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*m = DataModel(p)
	m.SortFields()
	return nil
}

// SortFields orders Fields by DisplayOrder, breaking ties by slug.
func (m *DataModel) SortFields() {
	sort.SliceStable(m.Fields, func(i, j int) bool {
		a, b := m.Fields[i], m.Fields[j]
		if a.DisplayOrder != b.DisplayOrder {
			return a.DisplayOrder < b.DisplayOrder
		}
		return a.Slug < b.Slug
	})
}

// Field returns the field with the given slug.
func (m DataModel) Field(slug string) (DataModelField, bool) {
	for _, f := range m.Fields {
		if f.Slug == slug {
			return f, true
		}
	}
	return DataModelField{}, false
}

// FieldByID returns the field with the given id.
func (m DataModel) FieldByID(id string) (DataModelField, bool) {
	for _, f := range m.Fields {
		if f.ID == id {
			return f, true
		}
	}
	return DataModelField{}, false
}

// Slugs returns the field slugs in display order.
func (m DataModel) Slugs() []string {
	out := make([]string, len(m.Fields))
	for i, f := range m.Fields {
		out[i] = f.Slug
	}
	return out
}

// CreateFieldInput declares a new field. Nil flags take the server default.
type CreateFieldInput struct {
	Name           string    `json:"name"`
	Slug           string    `json:"slug"`
	Description    string    `json:"description,omitempty"`
	Type           FieldType `json:"type"`
	IsRequired     *bool     `json:"isRequired,omitempty"`
	IsUnique       *bool     `json:"isUnique,omitempty"`
	IsVisible      *bool     `json:"isVisible,omitempty"`
	IsEditable     *bool     `json:"isEditable,omitempty"`
	IsFilterable   *bool     `json:"isFilterable,omitempty"`
	IsSortable     *bool     `json:"isSortable,omitempty"`
	IsSearchable   *bool     `json:"isSearchable,omitempty"`
	Validations    Document  `json:"validations,omitempty"`
	Settings       Document  `json:"settings,omitempty"`
	DefaultValue   any       `json:"defaultValue,omitempty"`
	RelatedModelID string    `json:"relatedModelId,omitempty"`
	RelatedFieldID string    `json:"relatedFieldId,omitempty"`
	DisplayOrder   *int      `json:"displayOrder,omitempty"`
}

// UpdateFieldInput is a field patch. Nil members are left unchanged.
type UpdateFieldInput struct {
	Name           *string    `json:"name,omitempty"`
	Slug           *string    `json:"slug,omitempty"`
	Description    *string    `json:"description,omitempty"`
	Type           *FieldType `json:"type,omitempty"`
	IsRequired     *bool      `json:"isRequired,omitempty"`
	IsUnique       *bool      `json:"isUnique,omitempty"`
	IsVisible      *bool      `json:"isVisible,omitempty"`
	IsEditable     *bool      `json:"isEditable,omitempty"`
	IsFilterable   *bool      `json:"isFilterable,omitempty"`
	IsSortable     *bool      `json:"isSortable,omitempty"`
	IsSearchable   *bool      `json:"isSearchable,omitempty"`
	Validations    Document   `json:"validations,omitempty"`
	Settings       Document   `json:"settings,omitempty"`
	DefaultValue   any        `json:"defaultValue,omitempty"`
	RelatedModelID *string    `json:"relatedModelId,omitempty"`
	RelatedFieldID *string    `json:"relatedFieldId,omitempty"`
	DisplayOrder   *int       `json:"displayOrder,omitempty"`
}

// CreateDataModelInput defines a model, optionally with its initial fields.
type CreateDataModelInput struct {
	Name        string             `json:"name"`
	Slug        string             `json:"slug"`
	Description string             `json:"description,omitempty"`
	IsActive    *bool              `json:"isActive,omitempty"`
	TenantID    string             `json:"tenantId,omitempty"`
	Fields      []CreateFieldInput `json:"fields,omitempty"`
	Settings    Document           `json:"settings,omitempty"`
}

// UpdateDataModelInput renames a model, replaces its settings or toggles
// whether records may be created against it.
type UpdateDataModelInput struct {
	Name        *string  `json:"name,omitempty"`
	Slug        *string  `json:"slug,omitempty"`
	Description *string  `json:"description,omitempty"`
	IsActive    *bool    `json:"isActive,omitempty"`
	Settings    Document `json:"settings,omitempty"`
}
