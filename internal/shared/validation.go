package shared

import (
	"errors"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// FieldErrors maps a field path to a user-facing message.
type FieldErrors map[string]string

// Add records msg for field unless the field already has a message.
func (e FieldErrors) Add(field, msg string) {
	if _, exists := e[field]; exists {
		return
	}
	e[field] = msg
}

// Merge copies other into e, prefixing every key with prefix when non-empty.
func (e FieldErrors) Merge(prefix string, other FieldErrors) {
	for k, v := range other {
		if prefix != "" {
			k = prefix + "." + k
		}
		e.Add(k, v)
	}
}

// Valid reports whether no errors were recorded.
func (e FieldErrors) Valid() bool {
	return len(e) == 0
}

// Error lists the messages ordered by field so the output is stable.
func (e FieldErrors) Error() string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// AsFieldErrors unwraps FieldErrors from err.
func AsFieldErrors(err error) (FieldErrors, bool) {
	var fe FieldErrors
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// NewValidator returns a validator that reports fields by their JSON name.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// FromValidator converts validator.ValidationErrors into FieldErrors keyed by
// the JSON-ish namespace of the failing field.
func FromValidator(err error) FieldErrors {
	out := FieldErrors{}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		if err != nil {
			out.Add("_", err.Error())
		}
		return out
	}
	for _, fieldErr := range verrs {
		ns := fieldErr.Namespace()
		if idx := strings.Index(ns, "."); idx >= 0 {
			ns = ns[idx+1:]
		}
		out.Add(ns, validatorMessage(fieldErr))
	}
	return out
}

func validatorMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required"
	case "gt", "gte":
		return "Must be at least " + fe.Param()
	case "lte", "max":
		return "Must be at most " + fe.Param()
	case "len":
		return "Must be exactly " + fe.Param() + " characters"
	case "oneof":
		return "Must be one of: " + fe.Param()
	default:
		return "Invalid value"
	}
}
