// Package validation checks decoded input records and configuration.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is a singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
}

// FieldError is one failed struct-tag rule
type FieldError struct {
	Field string
	Rule  string
	Param string
}

func (e *FieldError) Error() string {
	switch e.Rule {
	case "required":
		return fmt.Sprintf("%s: field is required", e.Field)
	case "min", "gte":
		return fmt.Sprintf("%s: must be at least %s", e.Field, e.Param)
	case "max", "lte":
		return fmt.Sprintf("%s: must not exceed %s", e.Field, e.Param)
	default:
		if e.Param != "" {
			return fmt.Sprintf("%s: validation failed (%s=%s)", e.Field, e.Rule, e.Param)
		}
		return fmt.Sprintf("%s: validation failed (%s)", e.Field, e.Rule)
	}
}

// Struct validates v against its `validate` tags. Every failing field is
// reported as a *FieldError, joined.
func Struct(v any) error {
	if v == nil {
		return errors.New("nothing to validate")
	}
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	out := make([]error, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, &FieldError{Field: fieldName(fe), Rule: fe.Tag(), Param: fe.Param()})
	}
	return errors.Join(out...)
}

// fieldName drops the struct name; fields carry their json names
func fieldName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:]
	}
	return ns
}

// FirstField returns the field of the first *FieldError in err, if any
func FirstField(err error) string {
	var fe *FieldError
	if errors.As(err, &fe) {
		return fe.Field
	}
	return ""
}
