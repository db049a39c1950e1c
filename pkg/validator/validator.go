// Package validator decodes JSON request bodies and checks them against
// go-playground struct tags. Fields are reported by their JSON name.
package validator

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// MaxBodyBytes caps the request body read by DecodeJSON.
const MaxBodyBytes = 1 << 20

// ErrEmptyBody is wrapped in a BodyError when a required body is missing.
var ErrEmptyBody = errors.New("body is empty")

var validate = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		switch name {
		case "", "-":
			return f.Name
		}
		return name
	})
	return v
}()

// BodyError is a request body that could not be decoded.
type BodyError struct {
	Err error
}

func (e *BodyError) Error() string { return "invalid request body: " + e.Err.Error() }

func (e *BodyError) Unwrap() error { return e.Err }

// FieldError is one failed rule.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError lists every field that failed its rules.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + " " + fe.Message
	}
	return strings.Join(parts, "; ")
}

// Fields maps each failed field to its message.
func (e *ValidationError) Fields() map[string]string {
	fields := make(map[string]string, len(e.Errors))
	for _, fe := range e.Errors {
		fields[fe.Field] = fe.Message
	}
	return fields
}

// Validate checks s against its validate tags. Rule failures are returned as
// *ValidationError; anything else means s could not be validated at all.
func Validate(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var failed validator.ValidationErrors
	if !errors.As(err, &failed) {
		return err
	}
	out := &ValidationError{Errors: make([]FieldError, 0, len(failed))}
	for _, fe := range failed {
		out.Errors = append(out.Errors, FieldError{Field: fe.Field(), Message: message(fe)})
	}
	return out
}

// DecodeJSON reads at most MaxBodyBytes of JSON from r into dst and validates
// it. Malformed or missing bodies are returned as *BodyError.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	return decode(w, r, dst, false)
}

// DecodeOptionalJSON is DecodeJSON for endpoints whose body may be omitted;
// an empty body leaves dst at its zero value before validation.
func DecodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	return decode(w, r, dst, true)
}

func decode(w http.ResponseWriter, r *http.Request, dst any, optional bool) error {
	body := http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	err := json.NewDecoder(body).Decode(dst)
	switch {
	case errors.Is(err, io.EOF):
		if !optional {
			return &BodyError{Err: ErrEmptyBody}
		}
	case err != nil:
		return &BodyError{Err: err}
	}
	return Validate(dst)
}

var messages = map[string]func(validator.FieldError) string{
	"required": fixed("is required"),
	"uuid":     fixed("must be a valid UUID"),
	"gt":       param("must be greater than %s"),
	"gte":      param("must be at least %s"),
	"lt":       param("must be less than %s"),
	"lte":      param("must be at most %s"),
	"oneof":    param("must be one of: %s"),
	"min":      sized("at least"),
	"max":      sized("at most"),
}

func message(fe validator.FieldError) string {
	if m, ok := messages[fe.Tag()]; ok {
		return m(fe)
	}
	return fmt.Sprintf("failed the %q rule", fe.Tag())
}

func fixed(msg string) func(validator.FieldError) string {
	return func(validator.FieldError) string { return msg }
}

func param(format string) func(validator.FieldError) string {
	return func(fe validator.FieldError) string { return fmt.Sprintf(format, fe.Param()) }
}

// sized words min and max by the kind of the field.
func sized(bound string) func(validator.FieldError) string {
	return func(fe validator.FieldError) string {
		switch fe.Kind() {
		case reflect.String:
			return fmt.Sprintf("must be %s %s characters", bound, fe.Param())
		case reflect.Slice, reflect.Map, reflect.Array:
			return fmt.Sprintf("must have %s %s entries", bound, fe.Param())
		}
		return fmt.Sprintf("must be %s %s", bound, fe.Param())
	}
}
