package schema

import (
	"fmt"

	"github.com/pitabwire/fieldadmin/model"
)

// Validate checks the structural invariants of a whole model: every field
// has a slug unique among its siblings and a known type, field ids are
// unique, relation and lookup fields name a target model, and fields
// claiming an owner claim this one. Existence of relation targets needs
// the remote API and is not checked here.
func Validate(m model.DataModel) []model.FieldError {
	var errs []model.FieldError
	slugs := make(map[string]struct{}, len(m.Fields))
	ids := make(map[string]struct{}, len(m.Fields))

	for i, f := range m.Fields {
		path := fmt.Sprintf("fields[%d]", i)

		if f.Slug == "" {
			errs = append(errs, model.FieldError{Field: path + ".slug", Code: "REQUIRED", Message: "slug is required"})
		} else if _, dup := slugs[f.Slug]; dup {
			errs = append(errs, model.FieldError{
				Field:   path + ".slug",
				Code:    model.ErrDuplicateSlug,
				Message: fmt.Sprintf("slug %q is used by more than one field", f.Slug),
			})
		} else {
			slugs[f.Slug] = struct{}{}
		}

		if f.ID != "" {
			if _, dup := ids[f.ID]; dup {
				errs = append(errs, model.FieldError{
					Field:   path + ".id",
					Code:    "DUPLICATE_ID",
					Message: fmt.Sprintf("field id %q appears more than once", f.ID),
				})
			}
			ids[f.ID] = struct{}{}
		}

		if !f.Type.Valid() {
			errs = append(errs, model.FieldError{
				Field:   path + ".type",
				Code:    "UNKNOWN_TYPE",
				Message: fmt.Sprintf("unknown field type %q", f.Type),
			})
			continue
		}
		if f.Type.RequiresRelation() && f.RelatedModelID == "" {
			errs = append(errs, model.FieldError{
				Field:   path + ".relatedModelId",
				Code:    model.ErrInvalidRelation,
				Message: "relation and lookup fields require relatedModelId",
			})
		}

		if f.DataModelID != "" && m.ID != "" && f.DataModelID != m.ID {
			errs = append(errs, model.FieldError{
				Field:   path + ".dataModelId",
				Code:    "OWNER_MISMATCH",
				Message: fmt.Sprintf("field belongs to model %q", f.DataModelID),
			})
		}
	}
	return errs
}
