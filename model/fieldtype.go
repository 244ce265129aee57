package model

import (
	"encoding/json"
	"fmt"
	"sort"
)

// FieldType is the closed set of field types a data model may declare.
type FieldType string

const (
	FieldText        FieldType = "text"
	FieldNumber      FieldType = "number"
	FieldDate        FieldType = "date"
	FieldBoolean     FieldType = "boolean"
	FieldEmail       FieldType = "email"
	FieldPhone       FieldType = "phone"
	FieldURL         FieldType = "url"
	FieldSelect      FieldType = "select"
	FieldMultiSelect FieldType = "multi_select"
	FieldRelation    FieldType = "relation"
	FieldFile        FieldType = "file"
	FieldImage       FieldType = "image"
	FieldRichText    FieldType = "rich_text"
	FieldJSON        FieldType = "json"
	FieldCurrency    FieldType = "currency"
	FieldPercent     FieldType = "percent"
	FieldFormula     FieldType = "formula"
	FieldLookup      FieldType = "lookup"
	FieldCreatedAt   FieldType = "created_at"
	FieldUpdatedAt   FieldType = "updated_at"
	FieldCreatedBy   FieldType = "created_by"
	FieldUpdatedBy   FieldType = "updated_by"
)

// StorageKind is the primitive shape a field value decodes to.
type StorageKind string

const (
	StorageString     StorageKind = "string"
	StorageNumber     StorageKind = "number"
	StorageBoolean    StorageKind = "boolean"
	StorageDate       StorageKind = "date"
	StorageStructured StorageKind = "structured"
)

// Validation rule names understood by the client-side payload validator.
const (
	RuleMin       = "min"
	RuleMax       = "max"
	RuleMinLength = "minLength"
	RuleMaxLength = "maxLength"
	RulePattern   = "pattern"
	RuleOptions   = "options"
)

// FieldTraits describes the intrinsic semantics of a FieldType.
type FieldTraits struct {
	Storage          StorageKind
	Computed         bool
	RequiresRelation bool
	// Rules lists the validation knobs that are meaningful for the type.
	Rules []string
}

var (
	numericRules = []string{RuleMin, RuleMax}
	stringRules  = []string{RuleMinLength, RuleMaxLength, RulePattern}
	optionRules  = []string{RuleOptions}
)

var fieldTraits = map[FieldType]FieldTraits{
	FieldText:        {Storage: StorageString, Rules: stringRules},
	FieldEmail:       {Storage: StorageString, Rules: stringRules},
	FieldPhone:       {Storage: StorageString, Rules: stringRules},
	FieldURL:         {Storage: StorageString, Rules: stringRules},
	FieldRichText:    {Storage: StorageString, Rules: stringRules},
	FieldSelect:      {Storage: StorageString, Rules: optionRules},
	FieldFile:        {Storage: StorageString},
	FieldImage:       {Storage: StorageString},
	FieldNumber:      {Storage: StorageNumber, Rules: numericRules},
	FieldCurrency:    {Storage: StorageNumber, Rules: numericRules},
	FieldPercent:     {Storage: StorageNumber, Rules: numericRules},
	FieldBoolean:     {Storage: StorageBoolean},
	FieldDate:        {Storage: StorageDate},
	FieldMultiSelect: {Storage: StorageStructured, Rules: optionRules},
	FieldJSON:        {Storage: StorageStructured},
	FieldRelation:    {Storage: StorageStructured, RequiresRelation: true},
	FieldFormula:     {Storage: StorageStructured, Computed: true},
	FieldLookup:      {Storage: StorageStructured, Computed: true, RequiresRelation: true},
	FieldCreatedAt:   {Storage: StorageDate, Computed: true},
	FieldUpdatedAt:   {Storage: StorageDate, Computed: true},
	FieldCreatedBy:   {Storage: StorageString, Computed: true},
	FieldUpdatedBy:   {Storage: StorageString, Computed: true},
}

// ParseFieldType converts a wire string into a FieldType. Unknown strings
// fail with SCHEMA_DECODE_ERROR so a server-added type is a visible gap.
func ParseFieldType(s string) (FieldType, error) {
	ft := FieldType(s)
	if _, ok := fieldTraits[ft]; !ok {
		return "", NewSchemaDecodeError(fmt.Sprintf("unknown field type %q", s))
	}
	return ft, nil
}

// FieldTypes returns every supported FieldType, sorted.
func FieldTypes() []FieldType {
	out := make([]FieldType, 0, len(fieldTraits))
	for ft := range fieldTraits {
		out = append(out, ft)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Traits returns the traits for ft. ok is false for unknown types.
func (ft FieldType) Traits() (FieldTraits, bool) {
	t, ok := fieldTraits[ft]
	return t, ok
}

// Valid reports whether ft is a known type.
func (ft FieldType) Valid() bool {
	_, ok := fieldTraits[ft]
	return ok
}

// Storage returns the primitive storage kind of ft.
func (ft FieldType) Storage() StorageKind {
	return fieldTraits[ft].Storage
}

// IsComputed reports whether values of ft are produced by the server and
// never accepted as input.
func (ft FieldType) IsComputed() bool {
	return fieldTraits[ft].Computed
}

// RequiresRelation reports whether ft needs a target model reference.
func (ft FieldType) RequiresRelation() bool {
	return fieldTraits[ft].RequiresRelation
}

// SupportsRule reports whether the named validation rule applies to ft.
func (ft FieldType) SupportsRule(rule string) bool {
	for _, r := range fieldTraits[ft].Rules {
		if r == rule {
			return true
		}
	}
	return false
}

// UnmarshalJSON decodes a FieldType through ParseFieldType.
func (ft *FieldType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return NewSchemaDecodeError("field type must be a string")
	}
	parsed, err := ParseFieldType(s)
	if err != nil {
		return err
	}
	*ft = parsed
	return nil
}
