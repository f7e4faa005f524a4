// Package inputval validates decoded request bodies using waffle/pantry/validate.
//
// Define an input struct with validate tags, decode the JSON body into it,
// and call Validate to get per-field messages:
//
//	type createInput struct {
//	    Name string `json:"name" validate:"required,max=255" label:"Name"`
//	}
//
//	if res := inputval.Validate(in); res.HasErrors() {
//	    jsonutil.ValidationError(w, res.Fields())
//	    return
//	}
package inputval

import (
	"reflect"
	"strings"
	"sync"

	"github.com/dalemusser/waffle/pantry/validate"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Result holds validation results with user-friendly messages.
type Result struct {
	Errors []FieldError
}

// FieldError represents a validation error for a single field.
type FieldError struct {
	Field   string
	Label   string
	Message string
}

// HasErrors returns true if there are any validation errors.
func (r *Result) HasErrors() bool {
	return len(r.Errors) > 0
}

// First returns the first error message, or empty string if no errors.
func (r *Result) First() string {
	if len(r.Errors) > 0 {
		return r.Errors[0].Message
	}
	return ""
}

// Fields maps each invalid field (by JSON name) to its message.
func (r *Result) Fields() map[string]string {
	out := make(map[string]string, len(r.Errors))
	for _, e := range r.Errors {
		if _, seen := out[e.Field]; !seen {
			out[e.Field] = e.Message
		}
	}
	return out
}

var (
	customValidator *validate.Validator
	validatorOnce   sync.Once
)

func getValidator() *validate.Validator {
	validatorOnce.Do(func() {
		customValidator = validate.New(validate.WithStopOnFirstError())

		// objectid: a MongoDB ObjectID hex string
		customValidator.RegisterRuleFunc("objectid", func(value any) bool {
			if s, ok := value.(string); ok {
				return IsValidObjectID(s)
			}
			return false
		}, "objectid")
	})
	return customValidator
}

// Validate validates a struct and returns a Result with user-friendly errors.
//
// Supported rules come from pantry/validate (required, min, max, oneof, ...)
// plus objectid, registered here.
func Validate(s any) *Result {
	result := &Result{}

	err := getValidator().Struct(s)
	if err == nil {
		return result
	}

	labels := getFieldLabels(s)

	if errs, ok := err.(validate.Errors); ok {
		for _, e := range errs {
			label := labels[e.Field]
			if label == "" {
				label = e.Field
			}
			result.Errors = append(result.Errors, FieldError{
				Field:   e.Field,
				Label:   label,
				Message: formatMessage(label, e.Rule, e.Param),
			})
		}
	}

	return result
}

// getFieldLabels maps JSON field names to their "label" tags.
func getFieldLabels(s any) map[string]string {
	labels := make(map[string]string)

	val := reflect.ValueOf(s)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return labels
	}

	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)

		fieldName := field.Name
		if jsonTag := field.Tag.Get("json"); jsonTag != "" {
			parts := strings.Split(jsonTag, ",")
			if parts[0] != "" && parts[0] != "-" {
				fieldName = parts[0]
			}
		}

		if label := field.Tag.Get("label"); label != "" {
			labels[fieldName] = label
		}
	}

	return labels
}

func formatMessage(label, rule, param string) string {
	switch rule {
	case "required":
		return label + " is required."
	case "oneof", "enum":
		return label + " must be one of: " + strings.ReplaceAll(param, " ", ", ") + "."
	case "min":
		return label + " must be at least " + param + " characters."
	case "max":
		return label + " must be at most " + param + " characters."
	case "objectid":
		return label + " is not a valid ID."
	default:
		return label + " is invalid."
	}
}

// IsValidObjectID checks if the given string is a valid MongoDB ObjectID hex.
func IsValidObjectID(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	_, err := primitive.ObjectIDFromHex(s)
	return err == nil
}
