// Package schema models the per-branch field requirements of the letter
// wizard. The active Reason selects which schema governs validation, so a
// half-filled abandoned branch can never block progress on the other one.
package schema

import (
	"letter-wizard/internal/common/validation"
	"letter-wizard/internal/wizard/fields"
)

const (
	statePattern = `^[A-Z]{2}$`
	zipPattern   = `^\d{5}(-\d{4})?$`
	emailPattern = `^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`
	phonePattern = `^\+?[\d\s\-\(\)]{10,}$`
	bblPattern   = `^[1-5]\d{9}$`
)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

// addressProperty describes a US mailing address sub-record.
func addressProperty() validation.Property {
	return validation.Property{
		Type: "object",
		Properties: map[string]validation.Property{
			"primary_line":   {Type: "string", MinLength: intPtr(1), MaxLength: intPtr(64)},
			"secondary_line": {Type: "string", MaxLength: intPtr(64)},
			"urbanization":   {Type: "string", MaxLength: intPtr(64)},
			"city":           {Type: "string", MinLength: intPtr(1), MaxLength: intPtr(64)},
			"state":          {Type: "string", Pattern: strPtr(statePattern)},
			"zip":            {Type: "string", Pattern: strPtr(zipPattern)},
			"no_unit":        {Type: "boolean"},
		},
		Required: []string{"primary_line", "city", "state", "zip"},
	}
}

// AddressSchema returns the standalone schema for a mailing address, used to
// re-validate an address copied back from the verifier.
func AddressSchema() validation.JSONSchema {
	prop := addressProperty()
	return validation.JSONSchema{
		Type:                 "object",
		Properties:           prop.Properties,
		Required:             prop.Required,
		AdditionalProperties: true,
	}
}

// baseProperties are shared by both branches.
func baseProperties() map[string]validation.Property {
	return map[string]validation.Property{
		"reason": {
			Type: "string",
			Enum: []string{string(fields.ReasonPlannedIncrease), string(fields.ReasonNonRenewal)},
		},
		"user_details": {
			Type: "object",
			Properties: map[string]validation.Property{
				"first_name": {Type: "string", MinLength: intPtr(1), MaxLength: intPtr(50)},
				"last_name":  {Type: "string", MinLength: intPtr(1), MaxLength: intPtr(50)},
				"phone":      {Type: "string", Pattern: strPtr(phonePattern)},
				"email":      {Type: "string", Pattern: strPtr(emailPattern)},
				"bbl":        {Type: "string", Pattern: strPtr(bblPattern)},
				"address":    addressProperty(),
			},
			Required: []string{"first_name", "last_name", "phone", "email", "bbl", "address"},
		},
		"landlord_details": {
			Type: "object",
			Properties: map[string]validation.Property{
				"name":    {Type: "string", MinLength: intPtr(1), MaxLength: intPtr(100)},
				"email":   {Type: "string", Pattern: strPtr(emailPattern)},
				"address": addressProperty(),
			},
			Required: []string{"name", "address"},
		},
		"mail_choice": {
			Type: "string",
			Enum: []string{string(fields.MailChoiceWeMail), string(fields.MailChoiceUserMail)},
		},
		"extra_emails": {
			Type:  "array",
			Items: &validation.Property{Type: "string", Pattern: strPtr(emailPattern)},
		},
		"cc_user": {Type: "boolean"},
	}
}

// For returns the schema governing the given branch. The unselected branch's
// sub-record is absent from the schema entirely, so its paths are skipped
// during validation rather than rejected.
func For(reason fields.Reason) validation.JSONSchema {
	props := baseProperties()
	required := []string{"reason", "user_details", "landlord_details", "mail_choice"}

	switch reason {
	case fields.ReasonPlannedIncrease:
		props["planned_increase"] = validation.Property{
			Type: "object",
			Properties: map[string]validation.Property{
				"unreasonable_increase": {Type: "boolean"},
			},
			Required: []string{"unreasonable_increase"},
		}
		required = append(required, "planned_increase")
	case fields.ReasonNonRenewal:
		props["non_renewal"] = validation.Property{
			Type: "object",
			Properties: map[string]validation.Property{
				"good_cause_given": {Type: "boolean"},
			},
			Required: []string{"good_cause_given"},
		}
		required = append(required, "non_renewal")
	}

	return validation.JSONSchema{
		Type:                 "object",
		Properties:           props,
		Required:             required,
		AdditionalProperties: true,
	}
}

// FieldError is a single user-facing validation problem, keyed by field path
// in Result.Errors.
type FieldError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Result holds the outcome of validating one step's fields.
type Result struct {
	Valid  bool                  `json:"valid"`
	Errors map[string]FieldError `json:"errors,omitempty"`
}

func (r *Result) addError(path, message, code string) {
	// First error per field wins so refinements never mask a base error.
	if _, exists := r.Errors[path]; exists {
		return
	}
	r.Errors[path] = FieldError{Message: message, Code: code}
	r.Valid = false
}

func (r *Result) hasError(path string) bool {
	_, exists := r.Errors[path]
	return exists
}

// Validate checks only the given dotted paths of the record against the
// branch schema for the record's Reason, then applies cross-field
// refinements. A refinement only fires when every field it reads passed its
// own individual checks.
func Validate(f *fields.FormFields, paths []string) *Result {
	result := &Result{Valid: true, Errors: map[string]FieldError{}}

	flat := f.Flatten()
	vr := validation.ValidatePaths(flat, For(f.Reason), paths)
	for _, ve := range vr.Errors {
		result.addError(ve.Field, ve.Message, ve.Code)
	}

	applyUnitRefinement(result, f.User.Address, fields.PathUserAddrSecondary, fields.PathUserAddrNoUnit, paths)
	applyUnitRefinement(result, f.Landlord.Address, fields.PathLandlordAddrSecondary, fields.PathLandlordAddrNoUnit, paths)
	applyCCRefinement(result, f, paths)

	return result
}

// applyUnitRefinement enforces that exactly one of unit line and the
// "no unit" flag is in effect for an address.
func applyUnitRefinement(result *Result, addr fields.MailingAddress, secondaryPath, noUnitPath string, paths []string) {
	if !pathIncluded(paths, secondaryPath) && !pathIncluded(paths, noUnitPath) {
		return
	}
	if result.hasError(secondaryPath) || result.hasError(noUnitPath) {
		return
	}

	hasUnit := addr.SecondaryLine != ""
	switch {
	case addr.NoUnit && hasUnit:
		result.addError(secondaryPath,
			"remove the unit number or uncheck the no-unit box",
			"UNIT_CONFLICT")
	case !addr.NoUnit && !hasUnit:
		result.addError(secondaryPath,
			"enter a unit number or confirm the address has no unit",
			"UNIT_REQUIRED")
	}
}

// applyCCRefinement requires a usable tenant email when the tenant asked for
// a copy of the letter.
func applyCCRefinement(result *Result, f *fields.FormFields, paths []string) {
	if !pathIncluded(paths, fields.PathCCUser) {
		return
	}
	if result.hasError(fields.PathCCUser) {
		return
	}
	if f.CCUser && !validation.ValidateEmail(f.User.Email) {
		result.addError(fields.PathCCUser,
			"a valid email address is needed to send you a copy",
			"CC_EMAIL_MISSING")
	}
}

func pathIncluded(paths []string, path string) bool {
	for _, p := range paths {
		if p == path {
			return true
		}
	}
	return false
}
