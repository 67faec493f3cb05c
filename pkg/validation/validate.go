// Package validation wraps go-playground/validator with the identifier rules
// used by flow definitions, run requests and configuration.
package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator is implemented by types that check their own invariants.
type Validator interface {
	Validate() error
}

// ValidationError represents a validation error with details
type ValidationError struct {
	Field   string      `json:"field"`
	Value   interface{} `json:"value,omitempty"`
	Message string      `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors represents multiple validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

var (
	// Validate is the shared validator instance
	Validate *validator.Validate

	identRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	labelRe = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
)

func init() {
	Validate = validator.New()

	Validate.RegisterValidation("step_id", validateIdent)
	Validate.RegisterValidation("flow_id", validateIdent)
	Validate.RegisterValidation("label", validateLabel)

	// report JSON field names rather than Go ones
	Validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})
}

// Struct validates s against its `validate` tags. Failures come back as
// ValidationErrors; anything else (e.g. a non-struct argument) is returned as is.
func Struct(s interface{}) error {
	err := Validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := make(ValidationErrors, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, ValidationError{
			Field:   fe.Namespace(),
			Value:   fe.Value(),
			Message: getErrorMessage(fe),
		})
	}
	return out
}

// Var validates a single value against tag, e.g. Var(id, "required,step_id").
func Var(v interface{}, tag string) error {
	if err := Validate.Var(v, tag); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return ValidationError{Field: tag, Value: v, Message: getErrorMessage(verrs[0])}
		}
		return err
	}
	return nil
}

func getErrorMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "field is required"
	case "min":
		return fmt.Sprintf("minimum value/length is %s", fe.Param())
	case "max":
		return fmt.Sprintf("maximum value/length is %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "url":
		return "must be a valid URL"
	case "uuid":
		return "must be a valid UUID"
	case "step_id", "flow_id":
		return "must be a valid identifier (alphanumeric, underscore, hyphen)"
	case "label":
		return "must be a valid label (alphanumeric, underscore, hyphen, dot)"
	default:
		return fmt.Sprintf("validation failed: %s", fe.Tag())
	}
}

func validateIdent(fl validator.FieldLevel) bool {
	id := fl.Field().String()
	return len(id) <= 100 && identRe.MatchString(id)
}

func validateLabel(fl validator.FieldLevel) bool {
	l := fl.Field().String()
	return len(l) <= 100 && labelRe.MatchString(l)
}

// MarshalValidationErrors renders errors as {"errors": [...], "count": n}.
func MarshalValidationErrors(errs ValidationErrors) ([]byte, error) {
	return json.Marshal(struct {
		Errors []ValidationError `json:"errors"`
		Count  int               `json:"count"`
	}{Errors: errs, Count: len(errs)})
}
